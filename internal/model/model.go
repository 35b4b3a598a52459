package model

import (
	"fmt"
	"net"
	"time"
)

// IANA protocol numbers for the transports we decode.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// ProtocolName returns a short display name for an IP protocol number.
func ProtocolName(proto uint8) string {
	switch proto {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto-%d", proto)
	}
}

// Frame is one raw buffer handed over by a capture source, together with
// its arrival timestamp.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// TransportKind identifies which transport sub-record a Packet carries.
type TransportKind uint8

const (
	TransportTCP TransportKind = iota
	TransportUDP
	TransportICMP
)

// Protocol returns the IP protocol number matching the kind.
func (k TransportKind) Protocol() uint8 {
	switch k {
	case TransportTCP:
		return ProtoTCP
	case TransportUDP:
		return ProtoUDP
	default:
		return ProtoICMP
	}
}

// Transport holds the decoded transport-layer header fields. SrcPort and
// DstPort are only meaningful for TCP and UDP, Flags and Seq for TCP,
// ICMPType and ICMPCode for ICMP.
type Transport struct {
	Kind     TransportKind
	SrcPort  uint16
	DstPort  uint16
	Flags    uint8
	Seq      uint32
	ICMPType uint8
	ICMPCode uint8
}

// Packet is the immutable record produced by the header decoder for one
// captured frame. Timestamp carries both the wall clock and the monotonic
// reading of the capture instant. Transport is nil when the IP protocol is
// one we do not decode.
type Packet struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	Protocol  uint8
	Length    uint16
	TTL       uint8
	Transport *Transport
}

// DecodeErrorKind tags why a raw buffer failed to decode.
type DecodeErrorKind uint8

const (
	TooShort DecodeErrorKind = iota
	ChecksumMismatch
	UnsupportedProtocol
	MalformedHeader
)

func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "too-short"
	case ChecksumMismatch:
		return "checksum-mismatch"
	case UnsupportedProtocol:
		return "unsupported-protocol"
	case MalformedHeader:
		return "malformed-header"
	default:
		return "unknown"
	}
}

// DecodeError describes a buffer the decoder rejected. Offset is the byte
// position the decoder was examining; Expected and Actual carry the length
// comparison that failed, where one applies.
type DecodeError struct {
	Kind     DecodeErrorKind
	Offset   int
	Expected int
	Actual   int
}

func (e *DecodeError) Error() string {
	if e.Expected != 0 || e.Actual != 0 {
		return fmt.Sprintf("decode %s at offset %d: expected %d bytes, have %d", e.Kind, e.Offset, e.Expected, e.Actual)
	}
	return fmt.Sprintf("decode %s at offset %d", e.Kind, e.Offset)
}

// Event is what the capture pump forwards downstream: either a decoded
// Packet or a DecodeError, never both. RawLen is the length of the
// original buffer, kept for diagnostics when decoding failed.
type Event struct {
	Packet *Packet
	Err    *DecodeError
	RawLen int
}

// Consumer receives the pump's output stream. Implementations own their
// filtering; the pump forwards everything.
type Consumer interface {
	Observe(Event)
}
