// Package packet defines the packet model shared by the sender and receiver
// pipelines.
//
// It provides wrap-aware sequence number, timestamp, and FEC block number
// arithmetic, the reference-counted Packet type backed by a buffer pool,
// the narrow Reader/Writer capability interfaces every pipeline stage is
// built from, a seqnum-ordered bounded queue used for reordering, and the
// single-producer inbound queue that hands packets from the network
// goroutine to the pipeline goroutine.
package packet
