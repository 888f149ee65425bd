// Package rtcp builds and consumes RTCP control traffic for the pipeline.
//
// The receiver side periodically emits receiver reports from per-session
// reception stats and hands incoming sender reports to the session, which
// records the latest NTP-to-RTP mapping; the sender side emits sender reports from sending stats.
// Packet encoding is github.com/pion/rtcp.
package rtcp
