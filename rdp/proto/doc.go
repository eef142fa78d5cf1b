// Package proto implements the RDP client wire protocol: PDU framing over
// both wire families (TPKT/X.224 and fast-path), the X.224 negotiation and
// MCS/GCC connection sequence, the security and licensing stages, the
// capability exchange and finalization handshake, fast-path update decoding
// with interleaved RLE bitmap decompression, and fast-path input encoding.
//
// The package is a codec plus a connection-sequence driver; it owns no
// sockets and no goroutines. Session orchestration lives in
// [github.com/xBounceIT/janus/rdp].
package proto
