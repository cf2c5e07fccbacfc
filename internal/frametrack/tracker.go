// Package frametrack maintains the registry correlating outgoing frame
// indices with the head pose that was active when each render request was
// issued. The render loop writes under a monotonically increasing index;
// the present side reads back whichever index the remote pipeline reports
// ready, which may lag arbitrarily behind the writer.
package frametrack

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/reproject/internal/pose"
)

// DefaultEvictionHorizon is how many outstanding frames are retained
// behind the most recently retrieved index. Entries older than that are
// reclaimed by the post-lookup sweep; frames that are dropped upstream
// and never looked up are only freed by this sweep, so the horizon bounds
// peak memory rather than eliminating it.
const DefaultEvictionHorizon = 100

// TrackedFrame is the stored association for one render request.
type TrackedFrame struct {
	FrameIndex int64
	Pose       pose.HeadPose
}

// Stats is a snapshot of tracker counters for diagnostics.
type Stats struct {
	Recorded  uint64 `json:"recorded"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int64  `json:"size"`
}

// Tracker is a single-writer / single-reader frame-to-pose registry.
//
// Concurrency contract: exactly one goroutine calls Record and one calls
// Lookup/EvictBefore. Reads never block the writer and a lookup for an
// index that was never recorded (or already evicted) returns ok=false
// immediately; that is the designed frame-dropped signal, not an error.
// Eviction is idempotent: sweeping an already-absent index is a no-op.
type Tracker struct {
	frames sync.Map // int64 -> TrackedFrame

	// oldest is the lowest index that may still be present; the sweep
	// walks from here instead of iterating the whole map. Only touched
	// by the reader side.
	oldest int64

	recorded  atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	size      atomic.Int64
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{oldest: 0}
}

// Record inserts or overwrites the entry for frameIndex. Safe to call
// concurrently with Lookup and EvictBefore from the reader goroutine.
func (t *Tracker) Record(frameIndex int64, p pose.HeadPose) {
	if _, loaded := t.frames.Swap(frameIndex, TrackedFrame{FrameIndex: frameIndex, Pose: p}); !loaded {
		t.size.Add(1)
	}
	t.recorded.Add(1)
}

// Lookup returns a copy of the entry for frameIndex. ok is false when the
// frame was dropped, never recorded, or already evicted; callers are
// expected to substitute the live pose in that case.
func (t *Tracker) Lookup(frameIndex int64) (TrackedFrame, bool) {
	v, ok := t.frames.Load(frameIndex)
	if !ok {
		t.misses.Add(1)
		return TrackedFrame{}, false
	}
	t.hits.Add(1)
	return v.(TrackedFrame), true
}

// EvictBefore removes entries with index strictly below latest-horizon,
// so with the default horizon an entry exactly horizon frames old still
// resolves. Called by the reader after each successful retrieval.
//
// The sweep cost is bounded by the live entry count, not by latest: a
// latest far ahead of anything recorded (e.g. decoded from a corrupt or
// hostile datagram) must not stall the reader in a per-index walk.
func (t *Tracker) EvictBefore(latest, horizon int64) {
	cutoff := latest - horizon
	if cutoff <= t.oldest {
		return
	}
	if cutoff-t.oldest > t.size.Load() {
		// Span wider than the live entry count: probing every index
		// would mostly hit absent keys, so walk the map instead.
		t.frames.Range(func(k, _ any) bool {
			if idx := k.(int64); idx < cutoff {
				if _, loaded := t.frames.LoadAndDelete(idx); loaded {
					t.evictions.Add(1)
					t.size.Add(-1)
				}
			}
			return true
		})
		t.oldest = cutoff
		return
	}
	for i := t.oldest; i < cutoff; i++ {
		if _, loaded := t.frames.LoadAndDelete(i); loaded {
			t.evictions.Add(1)
			t.size.Add(-1)
		}
	}
	t.oldest = cutoff
}

// Reset drops all entries and counters. Used on full session teardown;
// pause/resume deliberately does not call this.
func (t *Tracker) Reset() {
	t.frames.Range(func(k, _ any) bool {
		t.frames.Delete(k)
		return true
	})
	t.oldest = 0
	t.recorded.Store(0)
	t.hits.Store(0)
	t.misses.Store(0)
	t.evictions.Store(0)
	t.size.Store(0)
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Recorded:  t.recorded.Load(),
		Hits:      t.hits.Load(),
		Misses:    t.misses.Load(),
		Evictions: t.evictions.Load(),
		Size:      t.size.Load(),
	}
}
