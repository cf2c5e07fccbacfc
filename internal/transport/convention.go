package transport

import "github.com/banshee-data/reproject/internal/pose"

// DefaultEyeHeightMeters is the standing eye-height offset applied to the
// vertical translation channel so a seated tracking origin maps to the
// remote renderer's standing origin.
const DefaultEyeHeightMeters = 1.8

// Convention maps decomposed pose channels from the headset's tracking
// space into the remote renderer's coordinate convention: X and Z flip
// sign and Y is measured down from the configured eye height.
type Convention struct {
	EyeHeightMeters float32
}

// DefaultConvention returns the convention for the stock remote renderer.
func DefaultConvention() Convention {
	return Convention{EyeHeightMeters: DefaultEyeHeightMeters}
}

// Apply maps a rotation-undone translation into the remote convention.
// The quaternion channel passes through unchanged.
func (c Convention) Apply(q pose.Quaternion, tr [3]float32) (pose.Quaternion, [3]float32) {
	return q, [3]float32{-tr[0], c.EyeHeightMeters - tr[1], -tr[2]}
}
