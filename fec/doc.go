// Package fec implements forward error correction over blocks of packets.
//
// A block is K source packets followed by R repair packets. The sender-side
// Writer assembles blocks and produces repair symbols; the receiver-side
// Reader merges the source and repair streams and reconstructs lost source
// packets whenever a block has at least K of its K+R symbols.
//
// Two schemes are supported: Reed-Solomon over GF(256), backed by
// github.com/klauspost/reedsolomon, and LDPC-Staircase on GF(2) parity
// equations with the RFC 5170 pseudo-random matrix construction.
package fec
