// Package decode turns raw IPv4 buffers into model.Packet records. It is
// deliberately hand-rolled rather than layered on a packet library: every
// read is preceded by a length check so untrusted, truncated or hostile
// buffers can never cause a panic, and rejections carry the offset and
// length comparison that failed.
package decode

import (
	"encoding/binary"
	"net"
	"time"

	"PacketScope/internal/model"
)

const (
	ipv4MinHeaderLen = 20
	tcpMinHeaderLen  = 20
	udpHeaderLen     = 8
	icmpMinHeaderLen = 4
)

// Decode parses one raw IPv4 buffer captured at ts. Exactly one of the
// two return values is non-nil. A supported IP header with an unsupported
// transport protocol still yields a Packet, just without a transport
// sub-record; a transport we do decode but whose bytes are truncated is a
// MalformedHeader error.
func Decode(data []byte, ts time.Time) (*model.Packet, *model.DecodeError) {
	if len(data) < ipv4MinHeaderLen {
		return nil, &model.DecodeError{Kind: model.TooShort, Offset: 0, Expected: ipv4MinHeaderLen, Actual: len(data)}
	}

	if version := data[0] >> 4; version != 4 {
		return nil, &model.DecodeError{Kind: model.UnsupportedProtocol, Offset: 0, Expected: 4, Actual: int(version)}
	}

	headerLen := int(data[0]&0x0f) * 4
	if headerLen < ipv4MinHeaderLen {
		return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: 0, Expected: ipv4MinHeaderLen, Actual: headerLen}
	}
	if headerLen > len(data) {
		return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: 0, Expected: headerLen, Actual: len(data)}
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < headerLen || totalLen > len(data) {
		return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: 2, Expected: totalLen, Actual: len(data)}
	}

	// A zero checksum means the sender (or its NIC offload) never filled
	// it in, so only verify when one is present.
	if binary.BigEndian.Uint16(data[10:12]) != 0 && headerChecksum(data[:headerLen]) != 0 {
		return nil, &model.DecodeError{Kind: model.ChecksumMismatch, Offset: 10}
	}

	pkt := &model.Packet{
		Timestamp: ts,
		SrcIP:     net.IP(append([]byte(nil), data[12:16]...)),
		DstIP:     net.IP(append([]byte(nil), data[16:20]...)),
		Protocol:  data[9],
		Length:    uint16(totalLen),
		TTL:       data[8],
	}

	payload := data[headerLen:totalLen]
	switch pkt.Protocol {
	case model.ProtoTCP:
		if len(payload) < tcpMinHeaderLen {
			return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: headerLen, Expected: tcpMinHeaderLen, Actual: len(payload)}
		}
		pkt.Transport = &model.Transport{
			Kind:    model.TransportTCP,
			SrcPort: binary.BigEndian.Uint16(payload[0:2]),
			DstPort: binary.BigEndian.Uint16(payload[2:4]),
			Seq:     binary.BigEndian.Uint32(payload[4:8]),
			Flags:   payload[13],
		}
	case model.ProtoUDP:
		if len(payload) < udpHeaderLen {
			return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: headerLen, Expected: udpHeaderLen, Actual: len(payload)}
		}
		pkt.Transport = &model.Transport{
			Kind:    model.TransportUDP,
			SrcPort: binary.BigEndian.Uint16(payload[0:2]),
			DstPort: binary.BigEndian.Uint16(payload[2:4]),
		}
	case model.ProtoICMP:
		if len(payload) < icmpMinHeaderLen {
			return nil, &model.DecodeError{Kind: model.MalformedHeader, Offset: headerLen, Expected: icmpMinHeaderLen, Actual: len(payload)}
		}
		pkt.Transport = &model.Transport{
			Kind:     model.TransportICMP,
			ICMPType: payload[0],
			ICMPCode: payload[1],
		}
	}

	return pkt, nil
}

// headerChecksum computes the RFC 1071 internet checksum over the IPv4
// header. Summing a header that includes a correct checksum field yields
// zero.
func headerChecksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
