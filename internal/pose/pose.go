// Package pose provides pure transform math for head tracking: validation
// of head-to-world transforms and decomposition into the quaternion plus
// translation form the remote renderer consumes.
package pose

import "math"

// DefaultOrthonormalTolerance is the per-element tolerance applied when
// validating the rotation submatrix of an incoming transform.
const DefaultOrthonormalTolerance = 1e-3

// Transform is a row-major 4x4 homogeneous transform from head space to
// world (tracking-origin) space: m00,m01,m02,m03, m10,... Translation
// lives at indices 3, 7, 11.
type Transform [16]float32

// HeadPose couples a head-to-world transform with the monotonic timestamp
// it was sampled (or predicted) for.
type HeadPose struct {
	Transform        Transform
	CaptureTimeNanos int64
}

// Quaternion is a unit quaternion in (x, y, z, w) component order.
type Quaternion struct {
	X, Y, Z, W float32
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(float64(q.X)*float64(q.X) + float64(q.Y)*float64(q.Y) +
		float64(q.Z)*float64(q.Z) + float64(q.W)*float64(q.W))
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Orthonormal reports whether the upper-left 3x3 submatrix of t is a pure
// rotation (orthonormal, no scale or shear) within tol. Callers reject or
// reuse a previous pose when this fails; Decompose assumes it holds.
func (t Transform) Orthonormal(tol float64) bool {
	// Check R * R^T == I elementwise over the 3x3 block.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += float64(t[i*4+k]) * float64(t[j*4+k])
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return true
}

// Decompose converts a head-to-world pose into a unit quaternion and the
// rotation-undone translation offset. The rotation is extracted with the
// four-branch trace method: branch on the trace when it is non-negative,
// otherwise on the largest diagonal term. A single-formula extraction is
// ill-conditioned near 180 degree rotations, so all four branches are
// load-bearing.
//
// The input must satisfy Orthonormal; Decompose itself is pure and does
// not validate.
func Decompose(p HeadPose) (Quaternion, [3]float32) {
	m := p.Transform

	var x, y, z, w float32
	t0 := m[0] + m[5] + m[10]
	switch {
	case t0 >= 0:
		s := float32(math.Sqrt(float64(t0 + 1)))
		w = 0.5 * s
		s = 0.5 / s
		x = (m[9] - m[6]) * s
		y = (m[2] - m[8]) * s
		z = (m[4] - m[1]) * s
	case m[0] > m[5] && m[0] > m[10]:
		s := float32(math.Sqrt(float64(1 + m[0] - m[5] - m[10])))
		x = 0.5 * s
		s = 0.5 / s
		y = (m[4] + m[1]) * s
		z = (m[2] + m[8]) * s
		w = (m[9] - m[6]) * s
	case m[5] > m[10]:
		s := float32(math.Sqrt(float64(1 + m[5] - m[0] - m[10])))
		y = 0.5 * s
		s = 0.5 / s
		x = (m[4] + m[1]) * s
		z = (m[9] + m[6]) * s
		w = (m[2] - m[8]) * s
	default:
		s := float32(math.Sqrt(float64(1 + m[10] - m[0] - m[5])))
		z = 0.5 * s
		s = 0.5 / s
		x = (m[2] + m[8]) * s
		y = (m[9] + m[6]) * s
		w = (m[4] - m[1]) * s
	}

	// Undo the rotation before reading translation: for an orthonormal
	// rotation block the transpose is the inverse, and R^T * M leaves the
	// rotation-undone world offset in the translation column. Downstream
	// applies rotation and translation as separate channels, so the offset
	// must be isolated from orientation here.
	inv := m.transposedRotation()
	undone := mul(inv, m)

	return Quaternion{X: x, Y: y, Z: z, W: w}, [3]float32{undone[3], undone[7], undone[11]}
}

// FromQuaternionTranslation builds a transform from a unit quaternion and
// translation offset. It is the inverse of Decompose for valid inputs and
// is used by diagnostics tooling and tests to reconstruct rotations.
func FromQuaternionTranslation(q Quaternion, tr [3]float32) Transform {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	m := Transform{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), 0,
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), 0,
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), 0,
		0, 0, 0, 1,
	}
	// Translation channel is rotation-undone, so rotate it back into the
	// world column.
	m[3] = m[0]*tr[0] + m[1]*tr[1] + m[2]*tr[2]
	m[7] = m[4]*tr[0] + m[5]*tr[1] + m[6]*tr[2]
	m[11] = m[8]*tr[0] + m[9]*tr[1] + m[10]*tr[2]
	return m
}

// transposedRotation returns the transpose of the rotation block with a
// zero translation column.
func (t Transform) transposedRotation() Transform {
	out := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*4+j] = t[j*4+i]
		}
	}
	return out
}

// mul returns a * b for row-major 4x4 transforms.
func mul(a, b Transform) Transform {
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[i*4+k] * b[k*4+j]
			}
			out[i*4+j] = sum
		}
	}
	return out
}
