// Package render runs the per-frame submission loop: sample a predicted
// pose, record it against the outgoing frame index, ship it to the remote
// renderer, and present whichever frame the transport reports ready with
// the pose that frame was rendered under.
package render

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/frametrack"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/timeutil"
	"github.com/banshee-data/reproject/internal/transport"
)

// FrameOutcome classifies how a cycle's presented pose was chosen.
type FrameOutcome string

const (
	// OutcomeProvisional: no ready signal this cycle, presented with the
	// freshly sampled pose.
	OutcomeProvisional FrameOutcome = "provisional"
	// OutcomeCorrected: ready frame correlated, presented with its
	// recorded pose.
	OutcomeCorrected FrameOutcome = "corrected"
	// OutcomeFallback: ready frame's pose was evicted or never recorded,
	// presented with the live pose. Degraded but valid.
	OutcomeFallback FrameOutcome = "fallback"
)

// FrameRecord is the per-cycle diagnostic record handed to the sink.
type FrameRecord struct {
	FrameIndex   int64        // index issued this cycle
	ReadyIndex   int64        // ready frame presented, 0 if none
	Outcome      FrameOutcome
	PoseAgeNanos int64 // age of the presented pose at present time
	TSNanos      int64
}

// Sink consumes frame records. Implementations must not block the render
// cadence; posedb buffers internally.
type Sink interface {
	RecordFrame(FrameRecord)
}

// Config holds loop tuning.
type Config struct {
	EvictionHorizon int64
	Convention      transport.Convention

	// PauseInterval is how long the loop idles between checks while
	// paused.
	PauseInterval time.Duration
}

// DefaultConfig returns the default loop tuning.
func DefaultConfig() Config {
	return Config{
		EvictionHorizon: frametrack.DefaultEvictionHorizon,
		Convention:      transport.DefaultConvention(),
		PauseInterval:   10 * time.Millisecond,
	}
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Frames        uint64 `json:"frames"`
	Corrected     uint64 `json:"corrected"`
	Fallback      uint64 `json:"fallback"`
	Provisional   uint64 `json:"provisional"`
	RejectedReady uint64 `json:"rejected_ready"`
	LastFrame     int64  `json:"last_frame"`
	LastReady     int64  `json:"last_ready"`
}

// Loop is the per-frame orchestrator. It owns the monotonic frame index
// and is the tracker's single writer; the capture side only feeds the
// sampler's provider. Start runs the loop on its own goroutine at the
// cadence the surface provider's acquire call imposes (the provider
// blocks on the display refresh).
type Loop struct {
	surface SurfaceProvider
	sampler *headtrack.Sampler
	tracker *frametrack.Tracker
	channel Channel
	clock   timeutil.Clock
	sink    Sink
	cfg     Config

	frameIndex atomic.Int64
	lastReady  atomic.Int64

	frames        atomic.Uint64
	corrected     atomic.Uint64
	fallback      atomic.Uint64
	provisional   atomic.Uint64
	rejectedReady atomic.Uint64

	running atomic.Bool
	paused  atomic.Bool
	stopCh  chan struct{}
	errCh   chan error
	wg      sync.WaitGroup
}

// New assembles a loop. sink may be nil.
func New(surface SurfaceProvider, sampler *headtrack.Sampler, tracker *frametrack.Tracker, channel Channel, clock timeutil.Clock, sink Sink, cfg Config) *Loop {
	if cfg.EvictionHorizon <= 0 {
		cfg.EvictionHorizon = frametrack.DefaultEvictionHorizon
	}
	if cfg.PauseInterval <= 0 {
		cfg.PauseInterval = 10 * time.Millisecond
	}
	return &Loop{
		surface: surface,
		sampler: sampler,
		tracker: tracker,
		channel: channel,
		clock:   clock,
		sink:    sink,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		errCh:   make(chan error, 1),
	}
}

// Start launches the loop goroutine. It returns an error if the loop is
// already running.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("render loop already running")
	}
	l.wg.Add(1)
	go l.run()
	return nil
}

// Stop halts the loop and waits for the goroutine to exit. Tracker
// contents and the frame counter survive, so a later Start resumes the
// same session (pause/resume contract).
func (l *Loop) Stop() {
	if !l.running.Load() {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
	l.running.Store(false)
	l.stopCh = make(chan struct{})
}

// Pause suspends frame cycles without losing correlation state.
func (l *Loop) Pause() { l.paused.Store(true) }

// Resume continues after Pause.
func (l *Loop) Resume() { l.paused.Store(false) }

// Reset clears the frame counter and tracker for a full teardown or
// recreate. Must not be called while running.
func (l *Loop) Reset() {
	l.frameIndex.Store(0)
	l.lastReady.Store(0)
	l.tracker.Reset()
}

// Err delivers the loop's fatal error, if any. At most one is sent; the
// loop has already stopped cycling when it arrives.
func (l *Loop) Err() <-chan error {
	return l.errCh
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:        l.frames.Load(),
		Corrected:     l.corrected.Load(),
		Fallback:      l.fallback.Load(),
		Provisional:   l.provisional.Load(),
		RejectedReady: l.rejectedReady.Load(),
		LastFrame:     l.frameIndex.Load(),
		LastReady:     l.lastReady.Load(),
	}
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stopCh:
			return
		case err := <-l.channel.Fatal():
			l.fail(fmt.Errorf("transport channel lost: %w", err))
			return
		default:
		}

		if l.paused.Load() {
			l.clock.Sleep(l.cfg.PauseInterval)
			continue
		}

		if err := l.cycle(); err != nil {
			l.fail(err)
			return
		}
	}
}

// fail surfaces a fatal error to the owning session. The loop never
// retries fatal failures itself.
func (l *Loop) fail(err error) {
	diag.Logf("[render] fatal: %v", err)
	select {
	case l.errCh <- err:
	default:
	}
	l.running.Store(false)
}

// cycle runs one ACQUIRE → POSE_SAMPLE → RECORD → SUBMIT → RETRIEVE →
// PRESENT pass. Only external-resource failures return an error; pose
// correlation misses and rejected samples are handled in place.
func (l *Loop) cycle() error {
	// ACQUIRE. The provider blocks until the display is ready for the
	// next frame, which sets the loop cadence.
	target, err := l.surface.AcquireRenderTarget()
	if err != nil {
		return fmt.Errorf("acquire render target: %w", err)
	}

	// POSE_SAMPLE at issue time plus the latency budget. The sampler
	// never fails: stale and rejected samples fall back internally.
	sampled := l.sampler.SampleAhead()

	// RECORD under the next monotonic index.
	idx := l.frameIndex.Add(1)
	l.tracker.Record(idx, sampled)

	// SUBMIT: decomposed pose to the remote renderer.
	q, tr := pose.Decompose(sampled)
	q, tr = l.cfg.Convention.Apply(q, tr)
	if err := l.channel.SendPose(transport.PoseUpdate{FrameIndex: idx, Orientation: q, Translation: tr}); err != nil {
		return fmt.Errorf("submit pose: %w", err)
	}

	if err := l.surface.BindTarget(target); err != nil {
		return fmt.Errorf("bind render target: %w", err)
	}

	// RETRIEVE: correlate the frame the transport reports ready. Without
	// a signal this cycle, present provisionally with the live pose.
	record := FrameRecord{FrameIndex: idx, Outcome: OutcomeProvisional, TSNanos: l.clock.NowNanos()}
	present := sampled.Transform
	if ready, ok := l.pollReady(idx); ok {
		record.ReadyIndex = ready
		l.lastReady.Store(ready)
		if tracked, ok := l.tracker.Lookup(ready); ok {
			present = tracked.Pose.Transform
			record.Outcome = OutcomeCorrected
			record.PoseAgeNanos = record.TSNanos - tracked.Pose.CaptureTimeNanos
		} else {
			// Frame was dropped or aged out; the live pose is the
			// designed substitute.
			record.Outcome = OutcomeFallback
			diag.Debugf("[render] no recorded pose for ready frame %d, using live pose", ready)
		}
		l.tracker.EvictBefore(ready, l.cfg.EvictionHorizon)
	}

	// PRESENT.
	if err := l.surface.PresentWithPose(target, present); err != nil {
		l.surface.Unbind(target)
		return fmt.Errorf("present frame %d: %w", idx, err)
	}
	l.surface.Unbind(target)

	l.frames.Add(1)
	switch record.Outcome {
	case OutcomeCorrected:
		l.corrected.Add(1)
	case OutcomeFallback:
		l.fallback.Add(1)
	default:
		l.provisional.Add(1)
	}
	if l.sink != nil {
		l.sink.RecordFrame(record)
	}
	return nil
}

// pollReady drains pending ready signals without blocking and returns the
// newest one. Signals may arrive out of order relative to submission; the
// newest is the frame the compositor wants next.
//
// Ready indices come off an unauthenticated datagram socket, so they are
// validated against the loop's own issued counter: the remote cannot
// legitimately report a frame that was never issued, and an oversized
// index would drive an unbounded eviction sweep. Out-of-range indices
// are counted and dropped without shadowing valid signals behind them.
func (l *Loop) pollReady(maxIssued int64) (int64, bool) {
	var idx int64
	var ok bool
	for {
		select {
		case v := <-l.channel.ReadyFrames():
			if v < 1 || v > maxIssued {
				l.rejectedReady.Add(1)
				diag.Debugf("[render] discarding ready index %d outside issued range 1..%d", v, maxIssued)
				continue
			}
			idx, ok = v, true
		default:
			return idx, ok
		}
	}
}
