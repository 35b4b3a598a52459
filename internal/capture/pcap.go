// Package capture provides pump.Source implementations backed by libpcap,
// for live interfaces and recorded pcap files. The capture handle is
// opened with a read timeout so the receive loop wakes up periodically to
// notice cancellation.
package capture

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"PacketScope/internal/model"
	"PacketScope/internal/pump"
)

const ethertypeIPv4 = 0x0800

// PcapSource yields raw IPv4 buffers from a pcap handle, with the
// link-layer header already stripped.
type PcapSource struct {
	handle   *pcap.Handle
	linkType layers.LinkType
}

// OpenLive starts capturing on a network interface.
func OpenLive(device string, snaplen int32, promiscuous bool, timeout time.Duration) (*PcapSource, error) {
	handle, err := pcap.OpenLive(device, snaplen, promiscuous, timeout)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"device": device, "snaplen": snaplen, "promiscuous": promiscuous}).
		Info("live capture started")
	return &PcapSource{handle: handle, linkType: handle.LinkType()}, nil
}

// OpenFile replays a recorded pcap file.
func OpenFile(path string) (*PcapSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, err
	}
	log.WithField("path", path).Info("replaying pcap file")
	return &PcapSource{handle: handle, linkType: handle.LinkType()}, nil
}

// Receive blocks until one IPv4 frame is available, the context is
// cancelled, or the handle fails. Read timeouts loop silently (they exist
// only so the cancellation check runs); read errors are transient; end of
// file and everything else is fatal.
func (s *PcapSource) Receive(ctx context.Context) (model.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Frame{}, err
		}
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			if err == pcap.NextErrorReadError {
				return model.Frame{}, pump.Transient(err)
			}
			return model.Frame{}, err
		}
		payload, ok := s.stripLinkHeader(data)
		if !ok {
			continue
		}
		ts := ci.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return model.Frame{Data: payload, Timestamp: ts}, nil
	}
}

// stripLinkHeader removes the link-layer framing, returning false for
// frames that do not carry IPv4 (ARP and the like) so the caller skips
// them instead of feeding the decoder known-foreign bytes.
func (s *PcapSource) stripLinkHeader(data []byte) ([]byte, bool) {
	switch s.linkType {
	case layers.LinkTypeEthernet:
		if len(data) < 14 {
			return nil, false
		}
		if binary.BigEndian.Uint16(data[12:14]) != ethertypeIPv4 {
			return nil, false
		}
		return data[14:], true
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		if len(data) < 4 {
			return nil, false
		}
		return data[4:], true
	default:
		// Raw IP link types deliver the IP header first.
		return data, true
	}
}

// Close releases the pcap handle.
func (s *PcapSource) Close() error {
	s.handle.Close()
	return nil
}
