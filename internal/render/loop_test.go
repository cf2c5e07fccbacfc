package render

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/reproject/internal/frametrack"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/timeutil"
	"github.com/banshee-data/reproject/internal/transport"
)

// translated returns an identity-rotation transform at X offset x, so
// each frame's pose is distinguishable through decompose and present.
func translated(x float32) pose.Transform {
	m := pose.Identity()
	m[3] = x
	return m
}

type mockSurface struct {
	mu         sync.Mutex
	acquired   int
	presented  []pose.Transform
	bound      int
	unbound    int
	acquireErr error
	presentErr error
}

func (m *mockSurface) AcquireRenderTarget() (Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	m.acquired++
	return m.acquired, nil
}

func (m *mockSurface) BindTarget(Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound++
	return nil
}

func (m *mockSurface) PresentWithPose(_ Target, p pose.Transform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.presentErr != nil {
		return m.presentErr
	}
	m.presented = append(m.presented, p)
	return nil
}

func (m *mockSurface) Unbind(Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unbound++
}

func (m *mockSurface) TargetSize() (int, int) { return 1024, 1024 }

func (m *mockSurface) lastPresented() (pose.Transform, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.presented) == 0 {
		return pose.Transform{}, false
	}
	return m.presented[len(m.presented)-1], true
}

type mockChannel struct {
	mu      sync.Mutex
	sent    []transport.PoseUpdate
	ready   chan int64
	fatal   chan error
	sendErr error
}

func newMockChannel() *mockChannel {
	return &mockChannel{ready: make(chan int64, 64), fatal: make(chan error, 1)}
}

func (m *mockChannel) SendPose(u transport.PoseUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, u)
	return nil
}

func (m *mockChannel) ReadyFrames() <-chan int64 { return m.ready }
func (m *mockChannel) Fatal() <-chan error       { return m.fatal }

func (m *mockChannel) sentUpdates() []transport.PoseUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transport.PoseUpdate, len(m.sent))
	copy(out, m.sent)
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	records []FrameRecord
}

func (s *recordingSink) RecordFrame(r FrameRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

func (s *recordingSink) all() []FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FrameRecord, len(s.records))
	copy(out, s.records)
	return out
}

// rig assembles a loop around a provider whose pose translation follows
// the number of samples taken, so frame N is issued under translation N.
func rig(t *testing.T) (*Loop, *mockSurface, *mockChannel, *recordingSink, *frametrack.Tracker) {
	t.Helper()
	var samples int
	provider := headtrack.ProviderFunc(func(int64) (pose.Transform, error) {
		samples++
		return translated(float32(samples)), nil
	})
	sampler := headtrack.NewSampler(provider, timeutil.RealClock{}, headtrack.DefaultSamplerConfig())
	tracker := frametrack.New()
	surface := &mockSurface{}
	channel := newMockChannel()
	sink := &recordingSink{}
	loop := New(surface, sampler, tracker, channel, timeutil.RealClock{}, sink, DefaultConfig())
	return loop, surface, channel, sink, tracker
}

func TestCycleRecordsAndSubmits(t *testing.T) {
	loop, surface, channel, sink, tracker := rig(t)

	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	sent := channel.sentUpdates()
	if len(sent) != 1 || sent[0].FrameIndex != 1 {
		t.Fatalf("sent = %+v, want one update for frame 1", sent)
	}
	// Identity rotation: convention flips X and offsets Y from eye height.
	if got := sent[0].Translation[0]; got != -1 {
		t.Errorf("submitted X translation = %v, want -1 (convention-flipped)", got)
	}
	if sent[0].Orientation.W != 1 {
		t.Errorf("submitted orientation = %+v, want identity quaternion", sent[0].Orientation)
	}

	if _, ok := tracker.Lookup(1); !ok {
		t.Error("frame 1 not recorded in tracker")
	}

	// No ready signal: provisional present with the sampled pose.
	got, ok := surface.lastPresented()
	if !ok || got != translated(1) {
		t.Errorf("presented %v, want provisional sampled pose", got)
	}
	records := sink.all()
	if len(records) != 1 || records[0].Outcome != OutcomeProvisional {
		t.Errorf("sink records = %+v, want one provisional", records)
	}
	if surface.bound != 1 || surface.unbound != 1 {
		t.Errorf("bind/unbind = %d/%d, want 1/1", surface.bound, surface.unbound)
	}
}

// End-to-end scenario: issue 150 frames; after 140 have been recorded a
// ready signal for frame 40 (exactly at the eviction horizon) must
// present with the pose recorded at frame 40, while frame 10 has been
// swept.
func TestCycleCorrectedWithinHorizon(t *testing.T) {
	loop, surface, channel, sink, tracker := rig(t)

	for i := 0; i < 140; i++ {
		if err := loop.cycle(); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	channel.ready <- 40
	if err := loop.cycle(); err != nil {
		t.Fatalf("retrieval cycle: %v", err)
	}

	got, _ := surface.lastPresented()
	if got != translated(40) {
		t.Errorf("presented %v, want pose recorded at frame 40", got)
	}
	records := sink.all()
	last := records[len(records)-1]
	if last.Outcome != OutcomeCorrected || last.ReadyIndex != 40 {
		t.Errorf("last record = %+v, want corrected ready=40", last)
	}

	// Continue to 149, then a ready signal for frame 140 on the 150th
	// cycle sweeps everything below 40. Frame 40 itself sits exactly at
	// the horizon and must survive; frame 10 must not.
	for i := 0; i < 8; i++ {
		if err := loop.cycle(); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	channel.ready <- 140
	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if got := loop.Stats().LastFrame; got != 150 {
		t.Fatalf("LastFrame = %d, want 150", got)
	}
	if _, ok := tracker.Lookup(40); !ok {
		t.Error("frame 40 evicted at exactly the horizon, want retained")
	}
	if _, ok := tracker.Lookup(10); ok {
		t.Error("frame 10 still resolvable after sweep at ready=140, want evicted")
	}
}

func TestCycleFallbackOnMiss(t *testing.T) {
	loop, surface, channel, sink, _ := rig(t)

	// Issue 141 frames; the ready signal for 140 sweeps everything
	// below 40 out of the registry.
	for i := 0; i < 140; i++ {
		if err := loop.cycle(); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	channel.ready <- 140
	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// Ready signal for a frame that has aged out of the registry.
	channel.ready <- 10
	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// Live pose of the final cycle is translated(142).
	got, _ := surface.lastPresented()
	if got != translated(142) {
		t.Errorf("presented %v, want live-pose fallback", got)
	}
	records := sink.all()
	last := records[len(records)-1]
	if last.Outcome != OutcomeFallback || last.ReadyIndex != 10 {
		t.Errorf("last record = %+v, want fallback ready=10", last)
	}
	if loop.Stats().Fallback != 1 {
		t.Errorf("Fallback counter = %d, want 1", loop.Stats().Fallback)
	}
}

// A ready index beyond the issued counter can only come from a corrupt
// or hostile datagram: the remote cannot report a frame that was never
// submitted. It must be dropped without presenting or sweeping, and
// without shadowing a valid signal queued behind it.
func TestCycleRejectsReadyBeyondIssued(t *testing.T) {
	loop, surface, channel, sink, tracker := rig(t)

	for i := 0; i < 3; i++ {
		if err := loop.cycle(); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	channel.ready <- 1 << 62
	channel.ready <- 0
	channel.ready <- 2
	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := surface.lastPresented()
	if got != translated(2) {
		t.Errorf("presented %v, want pose recorded at valid ready frame 2", got)
	}
	st := loop.Stats()
	if st.RejectedReady != 2 {
		t.Errorf("RejectedReady = %d, want 2", st.RejectedReady)
	}
	if st.LastReady != 2 {
		t.Errorf("LastReady = %d, want 2", st.LastReady)
	}
	// The oversized index must not have driven an eviction sweep.
	if _, ok := tracker.Lookup(1); !ok {
		t.Error("frame 1 swept on a rejected ready index, want retained")
	}
	records := sink.all()
	last := records[len(records)-1]
	if last.Outcome != OutcomeCorrected || last.ReadyIndex != 2 {
		t.Errorf("last record = %+v, want corrected ready=2", last)
	}
}

func TestCycleDrainsToNewestReady(t *testing.T) {
	loop, surface, channel, _, _ := rig(t)

	for i := 0; i < 5; i++ {
		if err := loop.cycle(); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	channel.ready <- 2
	channel.ready <- 4
	channel.ready <- 3 // out of order: newest signal wins, not highest
	if err := loop.cycle(); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got, _ := surface.lastPresented()
	if got != translated(3) {
		t.Errorf("presented %v, want pose of newest ready signal (frame 3)", got)
	}
}

func TestFatalSurfaceLoss(t *testing.T) {
	loop, surface, _, _, _ := rig(t)
	surface.acquireErr = fmt.Errorf("surface destroyed")

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-loop.Err():
		if err == nil {
			t.Fatal("nil fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("surface loss not surfaced as fatal")
	}
}

func TestFatalTransportLoss(t *testing.T) {
	loop, _, channel, _, _ := rig(t)
	channel.fatal <- fmt.Errorf("channel closed")

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-loop.Err():
		if err == nil {
			t.Fatal("nil fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport loss not surfaced as fatal")
	}
}

func TestFatalSendFailure(t *testing.T) {
	loop, _, channel, _, _ := rig(t)
	channel.sendErr = fmt.Errorf("socket gone")

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-loop.Err():
	case <-time.After(2 * time.Second):
		t.Fatal("send failure not surfaced as fatal")
	}
}

func TestPauseResumeKeepsState(t *testing.T) {
	loop, _, _, _, tracker := rig(t)

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer loop.Stop()

	waitFor(t, func() bool { return loop.Stats().Frames >= 3 })

	loop.Pause()
	// Let in-flight cycles finish, then confirm the counter holds.
	time.Sleep(50 * time.Millisecond)
	before := loop.Stats().LastFrame
	time.Sleep(50 * time.Millisecond)
	if after := loop.Stats().LastFrame; after != before {
		t.Errorf("frame counter advanced while paused: %d -> %d", before, after)
	}
	if _, ok := tracker.Lookup(1); !ok {
		t.Error("tracker lost contents across pause")
	}

	loop.Resume()
	waitFor(t, func() bool { return loop.Stats().LastFrame > before })
}

func TestStopAndResetForTeardown(t *testing.T) {
	loop, _, _, _, tracker := rig(t)

	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return loop.Stats().Frames >= 2 })
	loop.Stop()

	loop.Reset()
	if got := loop.Stats().LastFrame; got != 0 {
		t.Errorf("frame counter = %d after Reset, want 0", got)
	}
	if _, ok := tracker.Lookup(1); ok {
		t.Error("tracker retained entries after Reset")
	}
}

func TestStartWhileRunning(t *testing.T) {
	loop, _, _, _, _ := rig(t)
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer loop.Stop()
	if err := loop.Start(); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}
