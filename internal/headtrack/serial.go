package headtrack

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/pose"
)

// Port is a line-oriented connection to an external tracking bridge.
// The real implementation wraps a serial device; tests feed a reader.
type Port interface {
	Events() <-chan string
	Monitor(ctx context.Context) error
	Close() error
}

// DefaultSerialBaud is the stock IMU bridge line rate.
const DefaultSerialBaud = 921600

// TrackerPort reads pose lines from a serial-attached IMU bridge.
type TrackerPort struct {
	serial.Port
	events chan string
}

// OpenTrackerPort opens the named serial device. baud <= 0 selects the
// bridge default.
func OpenTrackerPort(portName string, baud int) (*TrackerPort, error) {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open tracker port %s: %w", portName, err)
	}

	return &TrackerPort{Port: port, events: make(chan string)}, nil
}

// Events returns the channel carrying raw pose lines from the bridge.
func (p *TrackerPort) Events() <-chan string {
	return p.events
}

// Monitor reads lines from the port until ctx is cancelled or the port
// fails. Malformed reads are surfaced on the events channel and filtered
// by the consumer.
func (p *TrackerPort) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(p.Port)
	for scan.Scan() {
		select {
		case p.events <- scan.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("tracker port read: %w", err)
	}
	return io.EOF
}

// Close closes the serial port.
func (p *TrackerPort) Close() error {
	return p.Port.Close()
}

// MockPort feeds lines from a reader, for tests and replay.
type MockPort struct {
	Data       io.Reader
	EventsChan chan string
}

func (m *MockPort) Events() <-chan string { return m.EventsChan }

func (m *MockPort) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.Data)
	for scan.Scan() {
		select {
		case m.EventsChan <- scan.Text():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockPort) Close() error { return nil }

// ParsePoseLine parses one bridge line: 16 comma-separated row-major
// matrix elements followed by the capture timestamp in nanoseconds.
func ParsePoseLine(line string) (pose.HeadPose, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 17 {
		return pose.HeadPose{}, fmt.Errorf("pose line has %d fields, want 17", len(fields))
	}

	var p pose.HeadPose
	for i := 0; i < 16; i++ {
		v, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return pose.HeadPose{}, fmt.Errorf("parse matrix element %d: %w", i, err)
		}
		p.Transform[i] = float32(v)
	}
	nanos, err := strconv.ParseInt(fields[16], 10, 64)
	if err != nil {
		return pose.HeadPose{}, fmt.Errorf("parse capture timestamp: %w", err)
	}
	p.CaptureTimeNanos = nanos
	return p, nil
}

// SerialProvider adapts a Port into a Provider. The bridge performs its
// own forward prediction on-device, so PredictedPose answers with the
// freshest estimate it has delivered; the Sampler's validation and
// staleness accounting sit on top.
type SerialProvider struct {
	port   Port
	latest atomic.Pointer[pose.HeadPose]
	parsed atomic.Uint64
	bad    atomic.Uint64
}

// NewSerialProvider wraps port. Run must be started for poses to flow.
func NewSerialProvider(port Port) *SerialProvider {
	return &SerialProvider{port: port}
}

// Run consumes the port's event stream until ctx is cancelled, keeping
// the most recent valid pose. It drives Monitor itself and returns its
// terminal error.
func (s *SerialProvider) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.port.Monitor(ctx) }()

	for {
		select {
		case line := <-s.port.Events():
			p, err := ParsePoseLine(line)
			if err != nil {
				s.bad.Add(1)
				diag.Debugf("[headtrack] bad pose line: %v", err)
				continue
			}
			s.latest.Store(&p)
			s.parsed.Add(1)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PredictedPose returns the freshest bridge estimate, or ErrNoPose before
// the first valid line.
func (s *SerialProvider) PredictedPose(int64) (pose.Transform, error) {
	p := s.latest.Load()
	if p == nil {
		return pose.Transform{}, ErrNoPose
	}
	return p.Transform, nil
}

// LineStats returns how many lines parsed cleanly and how many were
// discarded.
func (s *SerialProvider) LineStats() (parsed, bad uint64) {
	return s.parsed.Load(), s.bad.Load()
}
