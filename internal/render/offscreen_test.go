package render

import (
	"testing"
	"time"

	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/timeutil"
)

func TestOffscreenSurfacePacesAcquire(t *testing.T) {
	s := NewOffscreenSurface(timeutil.RealClock{}, time.Millisecond, 1024, 1024)

	start := time.Now()
	for i := 0; i < 5; i++ {
		target, err := s.AcquireRenderTarget()
		if err != nil {
			t.Fatalf("AcquireRenderTarget: %v", err)
		}
		if err := s.BindTarget(target); err != nil {
			t.Fatalf("BindTarget: %v", err)
		}
		if err := s.PresentWithPose(target, pose.Identity()); err != nil {
			t.Fatalf("PresentWithPose: %v", err)
		}
		s.Unbind(target)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("5 acquires took %v, want at least 5ms of pacing", elapsed)
	}
	if got := s.Presented(); got != 5 {
		t.Errorf("Presented = %d, want 5", got)
	}
	if w, h := s.TargetSize(); w != 1024 || h != 1024 {
		t.Errorf("TargetSize = %dx%d, want 1024x1024", w, h)
	}
}
