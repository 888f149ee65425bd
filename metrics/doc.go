// Package metrics exposes receiver telemetry as prometheus collectors.
package metrics
