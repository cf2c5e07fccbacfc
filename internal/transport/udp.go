package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/reproject/internal/diag"
)

// readyBuffer bounds how many undrained ready signals are queued before
// old ones are discarded. The present side only ever wants the most
// recent few, so discarding the oldest is the correct overflow policy.
const readyBuffer = 64

// maxPacketSize covers any packet either direction produces.
const maxPacketSize = 512

// UDPChannel is the datagram link to the remote renderer: pose updates
// out, ready-frame signals in. Loss-tolerant by construction; a dropped
// pose update is superseded by the next frame's, and a dropped ready
// signal shows up as a correlation miss that the render loop already
// handles.
type UDPChannel struct {
	conn  *net.UDPConn
	ready chan int64

	closed atomic.Bool
	fatal  chan error
	wg     sync.WaitGroup

	// sendBuf is reused across sends; SendPose is called from the render
	// goroutine only.
	sendBuf []byte

	sent         atomic.Uint64
	readySignals atomic.Uint64
	dropped      atomic.Uint64
	malformed    atomic.Uint64
}

// ChannelStats is a snapshot of channel counters.
type ChannelStats struct {
	Sent         uint64 `json:"sent"`
	ReadySignals uint64 `json:"ready_signals"`
	Dropped      uint64 `json:"dropped"`
	Malformed    uint64 `json:"malformed"`
}

// Dial connects to the remote renderer at addr and starts the inbound
// reader.
func Dial(addr string) (*UDPChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve renderer addr %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial renderer %s: %w", addr, err)
	}

	c := &UDPChannel{
		conn:    conn,
		ready:   make(chan int64, readyBuffer),
		fatal:   make(chan error, 1),
		sendBuf: make([]byte, 0, maxPacketSize),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// SendPose transmits a pose update. Errors are unrecoverable channel
// failures; the caller surfaces them as session-fatal.
func (c *UDPChannel) SendPose(u PoseUpdate) error {
	c.sendBuf = AppendPoseUpdate(c.sendBuf[:0], u)
	if _, err := c.conn.Write(c.sendBuf); err != nil {
		return fmt.Errorf("send pose for frame %d: %w", u.FrameIndex, err)
	}
	c.sent.Add(1)
	return nil
}

// ReadyFrames returns the channel of inbound ready-frame indices. The
// channel is never closed while the UDPChannel is open; after Close it
// stops receiving values.
func (c *UDPChannel) ReadyFrames() <-chan int64 {
	return c.ready
}

// Fatal reports an unrecoverable read failure on the channel. At most one
// error is delivered.
func (c *UDPChannel) Fatal() <-chan error {
	return c.fatal
}

// Stats returns a snapshot of the channel counters.
func (c *UDPChannel) Stats() ChannelStats {
	return ChannelStats{
		Sent:         c.sent.Load(),
		ReadySignals: c.readySignals.Load(),
		Dropped:      c.dropped.Load(),
		Malformed:    c.malformed.Load(),
	}
}

// Close shuts the socket down and waits for the reader to exit.
func (c *UDPChannel) Close() error {
	c.closed.Store(true)
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *UDPChannel) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, maxPacketSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.closed.Load() {
				return
			}
			select {
			case c.fatal <- fmt.Errorf("renderer channel read: %w", err):
			default:
			}
			return
		}

		idx, err := DecodeReadyFrame(buf[:n])
		if err != nil {
			c.malformed.Add(1)
			diag.Debugf("[transport] discarding malformed packet (%d bytes): %v", n, err)
			continue
		}
		c.readySignals.Add(1)

		// Drop-oldest on overflow: the newest ready index is the one the
		// present side wants.
		for {
			select {
			case c.ready <- idx:
			default:
				select {
				case <-c.ready:
					c.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}
