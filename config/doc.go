// Package config defines the receiver and sender configuration, endpoint
// URI parsing, defaults, validation, and YAML file loading.
package config
