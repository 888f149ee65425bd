// Package sndio defines the narrow contracts between the pipeline and the
// sound devices, and the pump that moves frames between them.
//
// Device backends live outside this module; anything that can read or write
// fixed-size frames and report its state can stand in for a sound card.
package sndio
