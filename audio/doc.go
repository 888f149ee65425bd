// Package audio implements the sample-domain half of the pipeline.
//
// Packets become samples in the depacketizer and flow upward through the
// watchdog, channel mapper, resampler, and mixer as fixed-size frames of
// interleaved float32 samples. The latency monitor closes the clock loop:
// it measures playback latency every frame and steers the resampler's
// scaling factor so the local playback clock tracks the remote sender's.
package audio
