// Package session owns one rendering session: a frame tracker and render
// loop with a defined lifetime, the diagnostics writer for that lifetime,
// and the mapping from host lifecycle signals (pause/resume/teardown)
// onto them.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/frametrack"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/posedb"
	"github.com/banshee-data/reproject/internal/render"
	"github.com/banshee-data/reproject/internal/timeutil"
)

// Session is one VR session. It constructs and owns the frame tracker
// and render loop, so their lifetime is the session's lifetime and
// teardown/recreate semantics are explicit: Close resets both and a
// recreated session starts from frame zero.
type Session struct {
	ID string

	loop    *render.Loop
	tracker *frametrack.Tracker
	sampler *headtrack.Sampler
	store   *posedb.Store
	writer  *posedb.FrameWriter
	clock   timeutil.Clock

	startedNanos int64
	closed       bool
}

// New assembles a session: tracker, diagnostics writer (when store is
// non-nil) and render loop. The session row is registered immediately.
func New(surface render.SurfaceProvider, sampler *headtrack.Sampler, channel render.Channel, store *posedb.Store, clock timeutil.Clock, cfg render.Config) (*Session, error) {
	s := &Session{
		ID:      uuid.NewString(),
		tracker: frametrack.New(),
		sampler: sampler,
		store:   store,
		clock:   clock,
	}

	var sink render.Sink
	if store != nil {
		s.startedNanos = clock.NowNanos()
		if err := store.InsertSession(s.ID, s.startedNanos); err != nil {
			return nil, fmt.Errorf("register session: %w", err)
		}
		s.writer = posedb.NewFrameWriter(store, s.ID)
		sink = s.writer
	}

	s.loop = render.New(surface, sampler, s.tracker, channel, clock, sink, cfg)
	return s, nil
}

// Run starts the loop and blocks until the context is cancelled or the
// loop dies of a fatal collaborator failure. The fatal error is returned;
// cancellation returns nil. Either way the loop is stopped on return, but
// session state survives for a later Run (resume) until Close.
func (s *Session) Run(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("session %s already closed", s.ID)
	}
	if err := s.loop.Start(); err != nil {
		return fmt.Errorf("start render loop: %w", err)
	}
	diag.Logf("[session] %s running", s.ID)

	select {
	case <-ctx.Done():
		s.loop.Stop()
		diag.Logf("[session] %s stopped: %v", s.ID, ctx.Err())
		return nil
	case err := <-s.loop.Err():
		diag.Logf("[session] %s terminated: %v", s.ID, err)
		return err
	}
}

// Pause forwards the host's pause signal. Tracker contents and the frame
// counter are retained.
func (s *Session) Pause() { s.loop.Pause() }

// Resume forwards the host's resume signal.
func (s *Session) Resume() { s.loop.Resume() }

// Stats bundles the session's loop, sampler and tracker counters.
func (s *Session) Stats() (render.Stats, headtrack.SamplerStats, frametrack.Stats) {
	return s.loop.Stats(), s.sampler.Stats(), s.tracker.Stats()
}

// Close is the full teardown: stop the loop, flush diagnostics, stamp the
// session row, and reset the frame counter and tracker so a recreated
// session starts clean. Idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.loop.Stop()
	loopStats := s.loop.Stats()
	samplerStats := s.sampler.Stats()
	s.loop.Reset()

	if s.writer != nil {
		s.writer.Close()
	}
	if s.store != nil {
		if err := s.store.CloseSession(s.ID, s.clock.NowNanos(), loopStats, samplerStats.Rejected, samplerStats.Stale); err != nil {
			return fmt.Errorf("finalize session %s: %w", s.ID, err)
		}
	}
	diag.Logf("[session] %s closed after %d frames", s.ID, loopStats.Frames)
	return nil
}
