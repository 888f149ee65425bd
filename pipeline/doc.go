// Package pipeline assembles the packet and sample stages into receiver and
// sender peers.
//
// The receiver owns one session per remote source. Packets enter from the
// network goroutine through a bounded per-session handoff queue; the
// pipeline goroutine drains it through the sorted queues, the FEC reader,
// and the depacketizer, then lifts the samples through watchdog, channel
// mapper, and resampler. The mixer sums all live sessions into the stream the
// pump hands to the sink.
package pipeline
