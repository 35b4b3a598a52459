// pcapgen writes a synthetic capture file with mixed TCP, UDP, and ICMP
// traffic, plus a sprinkling of corrupted packets, for exercising
// ps-engine and ps-analyze in file mode.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	corruptRate := flag.Float64("corrupt", 0.02, "Fraction of packets with a broken IP checksum")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ts := time.Now().Add(-time.Duration(*packetCount) * time.Millisecond)

	log.Printf("Generating %d packets into %s...", *packetCount, *outputFile)

	for i := 0; i < *packetCount; i++ {
		data, err := buildPacket(rng)
		if err != nil {
			log.Fatalf("Failed to serialize packet: %v", err)
		}
		if rng.Float64() < *corruptRate {
			// Flip a checksum byte in the IP header (offset 14 skips the
			// Ethernet framing).
			data[14+10] ^= 0xff
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Done: %d packets written to %s.", *packetCount, *outputFile)
}

func buildPacket(rng *rand.Rand) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   net.IPv4(10, 0, byte(rng.Intn(4)), byte(rng.Intn(250)+1)),
		DstIP:   net.IPv4(192, 168, 1, byte(rng.Intn(250)+1)),
	}

	payload := make([]byte, rng.Intn(1200)+40)
	rng.Read(payload)

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBuffer()

	switch rng.Intn(10) {
	case 0:
		ip.Protocol = layers.IPProtocolICMPv4
		icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
		return serialize(buf, opts, eth, ip, icmp, gopacket.Payload(payload))
	case 1, 2, 3:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(rng.Intn(64511) + 1024),
			DstPort: layers.UDPPort([]int{53, 123, 5353}[rng.Intn(3)]),
		}
		udp.SetNetworkLayerForChecksum(ip)
		return serialize(buf, opts, eth, ip, udp, gopacket.Payload(payload))
	default:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(rng.Intn(64511) + 1024),
			DstPort: layers.TCPPort([]int{80, 443, 8080}[rng.Intn(3)]),
			Seq:     rng.Uint32(),
			ACK:     true,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		return serialize(buf, opts, eth, ip, tcp, gopacket.Payload(payload))
	}
}

func serialize(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions, ls ...gopacket.SerializableLayer) ([]byte, error) {
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
