package headtrack

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/timeutil"
)

const (
	// DefaultLatencyBudget is the forward-prediction offset added to the
	// sample time, covering the pipeline delay between pose capture and
	// photon emission.
	DefaultLatencyBudget = 50 * time.Millisecond

	// DefaultProviderWait bounds how long a sample blocks on the
	// provider before falling back to the last known pose. Well under a
	// frame period at 60Hz.
	DefaultProviderWait = 5 * time.Millisecond

	// providerAbandonWaits is how many ProviderWait periods an in-flight
	// query may stay outstanding before it is written off and a fresh
	// query is issued. Without this a provider call that never returns
	// would pin the sampler on the last known pose forever.
	providerAbandonWaits = 16
)

// SamplerConfig holds tuning for a Sampler.
type SamplerConfig struct {
	LatencyBudget        time.Duration // forward-prediction offset
	ProviderWait         time.Duration // bound on a single provider query
	OrthonormalTolerance float64       // rotation validation tolerance
}

// DefaultSamplerConfig returns the default sampler tuning.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		LatencyBudget:        DefaultLatencyBudget,
		ProviderWait:         DefaultProviderWait,
		OrthonormalTolerance: pose.DefaultOrthonormalTolerance,
	}
}

// SamplerStats is a snapshot of sampler counters.
type SamplerStats struct {
	Samples   uint64 `json:"samples"`
	Stale     uint64 `json:"stale"`     // provider timeout/busy, last pose reused
	Rejected  uint64 `json:"rejected"`  // orthonormality failure, last pose reused
	Abandoned uint64 `json:"abandoned"` // wedged queries written off and re-armed
}

// Sampler queries a Provider for latency-compensated poses. Sample never
// blocks past the configured wait and never returns an invalid transform:
// timeouts and rejected samples both fall back to the most recent valid
// pose (identity before the first valid sample).
//
// Sample is called from the render goroutine only.
type Sampler struct {
	provider Provider
	clock    timeutil.Clock
	cfg      SamplerConfig

	last     pose.HeadPose
	haveLast bool

	// inflight holds the generation of the outstanding provider query,
	// zero when idle. It guards against stacking queries when one
	// overruns the wait bound; a query outstanding for more than
	// providerAbandonWaits periods is superseded by a new generation and
	// its late result discarded.
	inflight      atomic.Uint64
	gen           uint64
	inflightSince int64

	samples   atomic.Uint64
	stale     atomic.Uint64
	rejected  atomic.Uint64
	abandoned atomic.Uint64
}

// NewSampler returns a Sampler over the given provider.
func NewSampler(p Provider, clock timeutil.Clock, cfg SamplerConfig) *Sampler {
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = DefaultLatencyBudget
	}
	if cfg.ProviderWait <= 0 {
		cfg.ProviderWait = DefaultProviderWait
	}
	if cfg.OrthonormalTolerance <= 0 {
		cfg.OrthonormalTolerance = pose.DefaultOrthonormalTolerance
	}
	return &Sampler{provider: p, clock: clock, cfg: cfg, last: pose.HeadPose{Transform: pose.Identity()}}
}

// SampleAhead samples for "now + latency budget".
func (s *Sampler) SampleAhead() pose.HeadPose {
	return s.Sample(s.clock.NowNanos() + s.cfg.LatencyBudget.Nanoseconds())
}

// Sample returns the provider's estimate for predictFor (monotonic
// nanoseconds), or the last known valid pose if the provider is slow,
// errors, or hands back a transform that fails orthonormality.
func (s *Sampler) Sample(predictForNanos int64) pose.HeadPose {
	s.samples.Add(1)

	type result struct {
		m   pose.Transform
		err error
	}

	now := s.clock.NowNanos()
	if s.inflight.Load() != 0 {
		if now-s.inflightSince < providerAbandonWaits*s.cfg.ProviderWait.Nanoseconds() {
			// Previous query still in flight; don't stack another.
			s.stale.Add(1)
			return s.last
		}
		// The outstanding query has been wedged for long enough to write
		// off. Re-arm with a new generation; the orphaned goroutine's
		// eventual result no longer matches and is discarded.
		s.abandoned.Add(1)
		diag.Logf("[headtrack] abandoning provider query outstanding for %v, re-arming", time.Duration(now-s.inflightSince))
	}
	s.gen++
	gen := s.gen
	s.inflight.Store(gen)
	s.inflightSince = now

	ch := make(chan result, 1)
	go func() {
		m, err := s.provider.PredictedPose(predictForNanos)
		// Release before publishing so a caller that consumes this
		// result can immediately issue the next query. The CAS fails,
		// leaving the newer query in flight, if this one was abandoned.
		s.inflight.CompareAndSwap(gen, 0)
		ch <- result{m: m, err: err}
	}()

	timer := s.clock.NewTimer(s.cfg.ProviderWait)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			s.stale.Add(1)
			diag.Debugf("[headtrack] provider error, reusing last pose: %v", r.err)
			return s.last
		}
		if !r.m.Orthonormal(s.cfg.OrthonormalTolerance) {
			s.rejected.Add(1)
			diag.Debugf("[headtrack] rejected non-orthonormal transform at t=%d", predictForNanos)
			return s.last
		}
		s.last = pose.HeadPose{Transform: r.m, CaptureTimeNanos: predictForNanos}
		s.haveLast = true
		return s.last
	case <-timer.C():
		s.stale.Add(1)
		diag.Debugf("[headtrack] provider exceeded %v wait, reusing last pose", s.cfg.ProviderWait)
		return s.last
	}
}

// HaveValidPose reports whether at least one valid sample has been
// accepted since construction.
func (s *Sampler) HaveValidPose() bool { return s.haveLast }

// Stats returns a snapshot of the sampler counters.
func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Samples:   s.samples.Load(),
		Stale:     s.stale.Load(),
		Rejected:  s.rejected.Load(),
		Abandoned: s.abandoned.Load(),
	}
}
