// Package rtp turns datagrams into typed packets and back.
//
// It wraps github.com/pion/rtp for header handling, adds the payload-type
// registry for the supported media encodings, and implements the FECFRAME
// payload identifiers that source and repair packets carry when an erasure
// coding scheme is active: source packets append an explicit source FEC
// payload ID trailer, repair packets prepend a repair FEC payload ID header.
package rtp
