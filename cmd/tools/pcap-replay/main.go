//go:build pcap
// +build pcap

// Command pcap-replay replays captured renderer traffic against a running
// client. It reads UDP packets from a PCAP capture, filters to the
// renderer port, and resends the payloads with original inter-packet
// timing (optionally scaled), so field captures can be reproduced on a
// bench.
package main

import (
	"flag"
	"log"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/reproject/internal/transport"
)

var (
	pcapFile = flag.String("pcap", "", "capture file to replay (required)")
	target   = flag.String("target", "127.0.0.1:15244", "client UDP address to send to")
	srcPort  = flag.Int("port", 15243, "renderer UDP port to filter on")
	speed    = flag.Float64("speed", 1.0, "replay speed multiplier (2.0 = twice as fast)")
	decode   = flag.Bool("decode", false, "log decoded packets while replaying")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}
	if *speed <= 0 {
		log.Fatal("-speed must be positive")
	}

	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		log.Fatalf("open capture %s: %v", *pcapFile, err)
	}
	defer handle.Close()

	addr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("resolve target %s: %v", *target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Fatalf("dial target %s: %v", *target, err)
	}
	defer conn.Close()

	var (
		sent     int
		skipped  int
		lastTS   time.Time
		firstSet bool
	)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			skipped++
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if int(udp.SrcPort) != *srcPort || len(udp.Payload) == 0 {
			skipped++
			continue
		}

		// Honor original packet spacing, scaled by the speed multiplier.
		ts := packet.Metadata().Timestamp
		if firstSet {
			if gap := ts.Sub(lastTS); gap > 0 {
				time.Sleep(time.Duration(float64(gap) / *speed))
			}
		}
		lastTS, firstSet = ts, true

		if *decode {
			logDecoded(udp.Payload)
		}
		if _, err := conn.Write(udp.Payload); err != nil {
			log.Fatalf("send packet: %v", err)
		}
		sent++
	}

	log.Printf("replayed %d packets to %s (%d skipped)", sent, *target, skipped)
}

func logDecoded(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case transport.PacketReady:
		if idx, err := transport.DecodeReadyFrame(payload); err == nil {
			log.Printf("ready frame %d", idx)
			return
		}
	case transport.PacketPose:
		if u, err := transport.DecodePoseUpdate(payload); err == nil {
			log.Printf("pose update frame %d", u.FrameIndex)
			return
		}
	}
	log.Printf("unrecognized packet type 0x%02x (%d bytes)", payload[0], len(payload))
}
