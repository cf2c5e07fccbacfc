package pose

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// rotX/rotY/rotZ build 3x3 axis rotations with gonum so the tests carry an
// oracle independent of the Transform helpers under test.
func rotX(rad float64) *mat.Dense {
	c, s := math.Cos(rad), math.Sin(rad)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotY(rad float64) *mat.Dense {
	c, s := math.Cos(rad), math.Sin(rad)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotZ(rad float64) *mat.Dense {
	c, s := math.Cos(rad), math.Sin(rad)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// compose multiplies rotations left to right.
func compose(rs ...*mat.Dense) *mat.Dense {
	out := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	for _, r := range rs {
		var tmp mat.Dense
		tmp.Mul(out, r)
		out.CloneFrom(&tmp)
	}
	return out
}

// toTransform embeds a 3x3 rotation and a world translation column into a
// row-major Transform.
func toTransform(r *mat.Dense, tx, ty, tz float64) Transform {
	out := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*4+j] = float32(r.At(i, j))
		}
	}
	out[3], out[7], out[11] = float32(tx), float32(ty), float32(tz)
	return out
}

// branchRotations covers all four extraction branches: identity and small
// angles hit the trace branch, the 180 degree axis rotations force each of
// the diagonal-dominant branches.
func branchRotations() map[string]*mat.Dense {
	return map[string]*mat.Dense{
		"identity":        compose(),
		"x90":             rotX(math.Pi / 2),
		"y90":             rotY(math.Pi / 2),
		"z90":             rotZ(math.Pi / 2),
		"x180":            rotX(math.Pi),
		"y180":            rotY(math.Pi),
		"z180":            rotZ(math.Pi),
		"x180_tilted":     compose(rotX(math.Pi), rotY(0.1)),
		"composite":       compose(rotZ(0.7), rotY(-0.3), rotX(1.2)),
		"near_180_skew":   compose(rotX(math.Pi-0.01), rotZ(0.02)),
		"yaw_pitch_roll":  compose(rotZ(2.9), rotY(0.4), rotX(-2.6)),
		"gimbal_boundary": compose(rotY(math.Pi / 2), rotX(math.Pi)),
	}
}

func TestDecomposeQuaternionUnitNorm(t *testing.T) {
	for name, r := range branchRotations() {
		t.Run(name, func(t *testing.T) {
			q, _ := Decompose(HeadPose{Transform: toTransform(r, 0, 0, 0)})
			if n := q.Norm(); math.Abs(n-1) > 1e-4 {
				t.Errorf("quaternion norm = %v, want 1 within 1e-4 (q=%+v)", n, q)
			}
		})
	}
}

func TestDecomposeRoundTrip(t *testing.T) {
	for name, r := range branchRotations() {
		t.Run(name, func(t *testing.T) {
			in := toTransform(r, 0, 0, 0)
			q, tr := Decompose(HeadPose{Transform: in})
			out := FromQuaternionTranslation(q, tr)
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					got := float64(out[i*4+j])
					want := r.At(i, j)
					if math.Abs(got-want) > 1e-4 {
						t.Fatalf("R[%d][%d] = %v, want %v (err %g)", i, j, got, want, math.Abs(got-want))
					}
				}
			}
		})
	}
}

// TestDecomposeTranslationIsolation holds the head's world position fixed
// while sweeping the orientation through every extraction branch. The pose
// matrix is head-from-world, [R^T | -R^T p], so the rotation-undone
// translation must come out as -p regardless of R.
func TestDecomposeTranslationIsolation(t *testing.T) {
	p := []float64{0.25, 1.6, -0.75}
	for name, r := range branchRotations() {
		t.Run(name, func(t *testing.T) {
			var rt mat.Dense
			rt.CloneFrom(r.T())
			// -R^T p
			tx := -(rt.At(0, 0)*p[0] + rt.At(0, 1)*p[1] + rt.At(0, 2)*p[2])
			ty := -(rt.At(1, 0)*p[0] + rt.At(1, 1)*p[1] + rt.At(1, 2)*p[2])
			tz := -(rt.At(2, 0)*p[0] + rt.At(2, 1)*p[1] + rt.At(2, 2)*p[2])

			_, tr := Decompose(HeadPose{Transform: toTransform(&rt, tx, ty, tz)})
			for i, want := range []float64{-p[0], -p[1], -p[2]} {
				if math.Abs(float64(tr[i])-want) > 1e-4 {
					t.Errorf("translation[%d] = %v, want %v", i, tr[i], want)
				}
			}
		})
	}
}

func TestOrthonormal(t *testing.T) {
	tests := []struct {
		name      string
		transform Transform
		want      bool
	}{
		{"identity", Identity(), true},
		{"rotation", toTransform(compose(rotZ(0.7), rotX(1.2)), 0, 0, 0), true},
		{"rotation with translation", toTransform(rotY(math.Pi/3), 3, 2, 1), true},
		{"uniform scale", Transform{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 1}, false},
		{"shear", Transform{1, 0.5, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, false},
		{"zero", Transform{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.transform.Orthonormal(DefaultOrthonormalTolerance); got != tt.want {
				t.Errorf("Orthonormal = %v, want %v", got, tt.want)
			}
		})
	}
}

// Orthonormality is tolerance-based: a rotation perturbed well below the
// tolerance still validates, one perturbed above it does not.
func TestOrthonormalTolerance(t *testing.T) {
	m := toTransform(rotZ(0.5), 0, 0, 0)
	m[0] += 1e-5
	if !m.Orthonormal(DefaultOrthonormalTolerance) {
		t.Error("perturbation below tolerance rejected")
	}
	m[0] += 0.05
	if m.Orthonormal(DefaultOrthonormalTolerance) {
		t.Error("perturbation above tolerance accepted")
	}
}
