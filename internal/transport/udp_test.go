package transport

import (
	"net"
	"testing"
	"time"

	"github.com/banshee-data/reproject/internal/pose"
)

// fakeRenderer is a UDP listener standing in for the remote renderer: it
// decodes each pose update and answers with a ready signal for the same
// frame index.
func fakeRenderer(t *testing.T) (*net.UDPConn, chan PoseUpdate) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	updates := make(chan PoseUpdate, 16)
	go func() {
		buf := make([]byte, maxPacketSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			u, err := DecodePoseUpdate(buf[:n])
			if err != nil {
				continue
			}
			updates <- u
			if _, err := conn.WriteToUDP(AppendReadyFrame(nil, u.FrameIndex), addr); err != nil {
				return
			}
		}
	}()
	return conn, updates
}

func TestUDPChannelPoseAndReady(t *testing.T) {
	listener, updates := fakeRenderer(t)

	ch, err := Dial(listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	sent := PoseUpdate{
		FrameIndex:  17,
		Orientation: pose.Quaternion{W: 1},
		Translation: [3]float32{0, 1.8, 0},
	}
	if err := ch.SendPose(sent); err != nil {
		t.Fatalf("SendPose: %v", err)
	}

	select {
	case got := <-updates:
		if got.FrameIndex != 17 {
			t.Errorf("renderer saw frame %d, want 17", got.FrameIndex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("renderer never received pose update")
	}

	select {
	case idx := <-ch.ReadyFrames():
		if idx != 17 {
			t.Errorf("ready frame = %d, want 17", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ready signal never delivered")
	}

	stats := ch.Stats()
	if stats.Sent != 1 || stats.ReadySignals != 1 {
		t.Errorf("Stats = %+v, want one sent and one ready", stats)
	}
}

func TestUDPChannelMalformedInbound(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	ch, err := Dial(listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	// Learn the channel's local address by receiving one packet.
	if err := ch.SendPose(PoseUpdate{FrameIndex: 1}); err != nil {
		t.Fatalf("SendPose: %v", err)
	}
	buf := make([]byte, maxPacketSize)
	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, addr, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read pose: %v", err)
	}

	if _, err := listener.WriteToUDP([]byte{0xff, 0x01, 0x02}, addr); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	if _, err := listener.WriteToUDP(AppendReadyFrame(nil, 9), addr); err != nil {
		t.Fatalf("send ready: %v", err)
	}

	select {
	case idx := <-ch.ReadyFrames():
		if idx != 9 {
			t.Errorf("ready frame = %d, want 9", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid ready signal lost behind malformed packet")
	}
	if got := ch.Stats().Malformed; got != 1 {
		t.Errorf("Malformed = %d, want 1", got)
	}
}

func TestUDPChannelCloseStopsReader(t *testing.T) {
	listener, _ := fakeRenderer(t)
	ch, err := Dial(listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case err := <-ch.Fatal():
		t.Errorf("Close surfaced a fatal error: %v", err)
	default:
	}
}
