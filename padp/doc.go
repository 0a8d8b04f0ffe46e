// Package padp implements the Packet Assembly/Disassembly Protocol carried in
// Serial Link Protocol (SLP) frames, the reliable message layer used by Palm
// OS devices over serial lines and USB.
//
// # Frame Format
//
// Every packet travels in one SLP frame:
//
//	BE EF ED | dest | src | type | size u16 | xid | hdrsum
//	type | flags | size u16 (u32 in long form) | payload
//	crc u16
//
// The header checksum is the low byte of the sum of the first nine header
// bytes. The CRC-16/CCITT trailer covers header and body. All multi-byte
// values are big-endian.
//
// # Reliability
//
// Messages are split into fragments of at most 1024 bytes. The first
// fragment carries the total message length, later fragments carry their
// offset. Each fragment is sent stop-and-wait: the sender waits for an ack
// echoing the fragment's transaction id and retransmits it on timeout.
//
// The receiver drops corrupted frames silently, rejects continuation
// fragments that skip a transaction id or an offset, and re-acks
// retransmissions of the last accepted fragment without delivering them
// twice. Everything is counted in [ConnectionMetrics].
package padp
