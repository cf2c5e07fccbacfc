package render

import (
	"github.com/banshee-data/reproject/internal/pose"
	"github.com/banshee-data/reproject/internal/transport"
)

// Target is an opaque render target handle owned by the surface provider.
type Target interface{}

// SurfaceProvider is the display-side collaborator. It owns the swap
// chain, the buffer viewport layout and the maximum effective target
// size; the loop only acquires, binds, presents and unbinds. Errors from
// any of these are unrecoverable resource loss (surface destroyed) and
// stop the loop.
type SurfaceProvider interface {
	AcquireRenderTarget() (Target, error)
	BindTarget(t Target) error
	PresentWithPose(t Target, p pose.Transform) error
	Unbind(t Target)

	// TargetSize returns the maximum effective render target size.
	TargetSize() (width, height int)
}

// Channel is the transport link the loop submits poses to and receives
// ready-frame signals from. Satisfied by transport.UDPChannel.
type Channel interface {
	SendPose(u transport.PoseUpdate) error
	ReadyFrames() <-chan int64
	Fatal() <-chan error
}
