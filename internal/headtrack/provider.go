// Package headtrack supplies predicted head poses to the render loop. A
// Provider is the platform tracking service (or a device bridge); the
// Sampler wraps a Provider with the latency-budget offset, a bounded
// wait, and validation of the returned transform.
package headtrack

import (
	"fmt"
	"sync"

	"github.com/banshee-data/reproject/internal/pose"
)

// Provider is the platform head-tracking service. PredictedPose returns
// the best-effort estimate of the head-to-world transform at the given
// future monotonic timestamp. Implementations may return stale data but
// are expected to answer promptly; the Sampler enforces the wait bound
// regardless.
type Provider interface {
	PredictedPose(atNanos int64) (pose.Transform, error)
}

// StaticProvider always returns the same transform. Useful for bench
// rigs and tests.
type StaticProvider struct {
	mu        sync.Mutex
	transform pose.Transform
}

// NewStaticProvider returns a provider pinned to t.
func NewStaticProvider(t pose.Transform) *StaticProvider {
	return &StaticProvider{transform: t}
}

// Set replaces the transform returned by subsequent queries.
func (p *StaticProvider) Set(t pose.Transform) {
	p.mu.Lock()
	p.transform = t
	p.mu.Unlock()
}

// PredictedPose returns the pinned transform.
func (p *StaticProvider) PredictedPose(int64) (pose.Transform, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transform, nil
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(atNanos int64) (pose.Transform, error)

// PredictedPose calls f.
func (f ProviderFunc) PredictedPose(atNanos int64) (pose.Transform, error) {
	return f(atNanos)
}

// ErrNoPose is returned by providers that have not yet produced an
// estimate (e.g. a serial bridge before its first frame).
var ErrNoPose = fmt.Errorf("headtrack: no pose available yet")
