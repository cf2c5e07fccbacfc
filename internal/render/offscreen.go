package render

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/timeutil"
)

// DefaultRefreshInterval paces the offscreen surface at 72 Hz, the stock
// headset refresh.
const DefaultRefreshInterval = time.Second / 72

// OffscreenSurface is a headless SurfaceProvider. Acquire blocks for one
// refresh interval, which stands in for the display's vsync and sets the
// loop cadence on hosts without a real swap chain (bench rigs, replay,
// soak runs).
type OffscreenSurface struct {
	clock    timeutil.Clock
	interval time.Duration
	width    int
	height   int

	acquired  atomic.Uint64
	presented atomic.Uint64
}

// NewOffscreenSurface returns a surface paced at interval. interval <= 0
// selects the default refresh.
func NewOffscreenSurface(clock timeutil.Clock, interval time.Duration, width, height int) *OffscreenSurface {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &OffscreenSurface{clock: clock, interval: interval, width: width, height: height}
}

// AcquireRenderTarget blocks for one refresh interval and hands out the
// frame ordinal as the target handle.
func (s *OffscreenSurface) AcquireRenderTarget() (Target, error) {
	s.clock.Sleep(s.interval)
	return s.acquired.Add(1), nil
}

func (s *OffscreenSurface) BindTarget(Target) error { return nil }

// PresentWithPose counts the presentation; there is no display to flip.
func (s *OffscreenSurface) PresentWithPose(Target, pose.Transform) error {
	s.presented.Add(1)
	return nil
}

func (s *OffscreenSurface) Unbind(Target) {}

// TargetSize returns the configured target dimensions.
func (s *OffscreenSurface) TargetSize() (int, int) { return s.width, s.height }

// Presented reports how many frames have been presented.
func (s *OffscreenSurface) Presented() uint64 { return s.presented.Load() }
