// Package transport binds UDP sockets to the pipeline.
//
// One goroutine per socket reads datagrams, parses them, and hands the
// packets to the receiver's packet writer. The writer contract is honored
// by construction: a single producer goroutine per receiver.
package transport
