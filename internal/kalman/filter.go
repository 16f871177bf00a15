// Package kalman implements the per-track 7-dimensional constant-velocity
// Kalman filter of spec §4.1: state [cx, cy, area, aspect, vx, vy,
// v_area], measurement [cx, cy, area, aspect]. Predict/update structure
// is grounded on Valkyrie/internal/fusion/ekf.go's ExtendedKalmanFilter.
package kalman

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	stateDim = 7
	measDim  = 4
)

// ErrNonFinite is returned when a predict/update step produces a
// non-finite state; the caller (tracker) resets the track per §4.1.
var ErrNonFinite = errors.New("kalman: non-finite state")

// Filter is a single track's constant-velocity Kalman filter.
type Filter struct {
	state *mat.VecDense // [cx,cy,area,aspect,vx,vy,v_area]
	cov   *mat.SymDense
}

// Measurement is [cx, cy, area, aspect].
type Measurement struct {
	CX, CY, Area, Aspect float64
}

// New creates a filter initialized from a first measurement with
// covariance reflecting high uncertainty on the unobserved velocity
// terms, per §4.1 ("initialized KF covariance reflecting high
// uncertainty").
func New(m Measurement) *Filter {
	state := mat.NewVecDense(stateDim, []float64{
		m.CX, m.CY, m.Area, m.Aspect, 0, 0, 0,
	})

	covDiag := []float64{10, 10, 10, 10, 1e4, 1e4, 1e4}
	cov := mat.NewSymDense(stateDim, nil)
	for i, v := range covDiag {
		cov.SetSym(i, i, v)
	}

	return &Filter{state: state, cov: cov}
}

// State returns the current posterior state vector values.
func (f *Filter) State() (cx, cy, area, aspect, vx, vy, vArea float64) {
	s := f.state
	return s.AtVec(0), s.AtVec(1), s.AtVec(2), s.AtVec(3), s.AtVec(4), s.AtVec(5), s.AtVec(6)
}

// IsFinite reports whether every state component is finite.
func (f *Filter) IsFinite() bool {
	for i := 0; i < stateDim; i++ {
		v := f.state.AtVec(i)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ResetVelocity inflates the covariance and zeroes the velocity terms,
// the recovery action §4.1 prescribes for a non-finite state.
func (f *Filter) ResetVelocity() {
	f.state.SetVec(4, 0)
	f.state.SetVec(5, 0)
	f.state.SetVec(6, 0)
	for i := 4; i < stateDim; i++ {
		f.cov.SetSym(i, i, 1e4)
	}
}

// buildF returns the state-transition matrix: block-identity with dt
// linking position/velocity entries (cx+=vx*dt, cy+=vy*dt, area+=v_area*dt).
func buildF(dt float64) *mat.Dense {
	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 4, dt) // cx += vx*dt
	f.Set(1, 5, dt) // cy += vy*dt
	f.Set(2, 6, dt) // area += v_area*dt
	return f
}

// buildQ returns process noise scaled by dt on the velocity components.
func buildQ(dt float64) *mat.SymDense {
	q := mat.NewSymDense(stateDim, nil)
	posNoise := 1.0
	velNoise := 10.0 * dt
	q.SetSym(0, 0, posNoise)
	q.SetSym(1, 1, posNoise)
	q.SetSym(2, 2, posNoise)
	q.SetSym(3, 3, 0.1)
	q.SetSym(4, 4, velNoise)
	q.SetSym(5, 5, velNoise)
	q.SetSym(6, 6, velNoise)
	return q
}

// buildH projects the first 4 state components (measurement model).
func buildH() *mat.Dense {
	h := mat.NewDense(measDim, stateDim, nil)
	for i := 0; i < measDim; i++ {
		h.Set(i, i, 1)
	}
	return h
}

// buildR returns the measurement noise, larger for area/aspect than
// for the center, per §4.1.
func buildR() *mat.SymDense {
	r := mat.NewSymDense(measDim, nil)
	r.SetSym(0, 0, 1.0)  // cx
	r.SetSym(1, 1, 1.0)  // cy
	r.SetSym(2, 2, 10.0) // area
	r.SetSym(3, 3, 10.0) // aspect
	return r
}

// Predict advances the filter by dt seconds: x = F*x, P = F*P*Fᵀ + Q.
func (f *Filter) Predict(dt float64) error {
	F := buildF(dt)
	Q := buildQ(dt)

	var predicted mat.VecDense
	predicted.MulVec(F, f.state)
	f.state.CopyVec(&predicted)

	var temp mat.Dense
	temp.Mul(F, f.cov)

	var predictedCov mat.Dense
	predictedCov.Mul(&temp, F.T())

	n, _ := predictedCov.Dims()
	covData := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			v := predictedCov.At(i, j)
			if i == j {
				v += Q.At(i, i)
			}
			covData[i*n+j] = v
			covData[j*n+i] = v
		}
	}
	f.cov = mat.NewSymDense(n, covData)

	if !f.IsFinite() {
		return ErrNonFinite
	}
	return nil
}

// Update performs the measurement-update step: innovation, Kalman
// gain, state/covariance correction.
func (f *Filter) Update(m Measurement) error {
	H := buildH()
	R := buildR()

	z := mat.NewVecDense(measDim, []float64{m.CX, m.CY, m.Area, m.Aspect})

	var expected mat.VecDense
	expected.MulVec(H, f.state)

	innovation := mat.NewVecDense(measDim, nil)
	for i := 0; i < measDim; i++ {
		innovation.SetVec(i, z.AtVec(i)-expected.AtVec(i))
	}

	var temp mat.Dense
	temp.Mul(H, f.cov)

	var S mat.Dense
	S.Mul(&temp, H.T())
	for i := 0; i < measDim; i++ {
		for j := 0; j < measDim; j++ {
			v := S.At(i, j)
			if i == j {
				v += R.At(i, i)
			}
			S.Set(i, j, v)
		}
	}

	var Sinv mat.Dense
	if err := Sinv.Inverse(&S); err != nil {
		return err
	}

	var HT mat.Dense
	HT.CloneFrom(H.T())

	var temp2, K mat.Dense
	temp2.Mul(f.cov, &HT)
	K.Mul(&temp2, &Sinv)

	var correction mat.VecDense
	correction.MulVec(&K, innovation)
	f.state.AddVec(f.state, &correction)

	var KH mat.Dense
	KH.Mul(&K, H)

	I := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		I.Set(i, i, 1.0)
	}

	var IminusKH, updatedCov mat.Dense
	IminusKH.Sub(I, &KH)
	updatedCov.Mul(&IminusKH, f.cov)

	covData := make([]float64, stateDim*stateDim)
	for i := 0; i < stateDim; i++ {
		for j := 0; j <= i; j++ {
			v := updatedCov.At(i, j)
			covData[i*stateDim+j] = v
			covData[j*stateDim+i] = v
		}
	}
	f.cov = mat.NewSymDense(stateDim, covData)

	if !f.IsFinite() {
		return ErrNonFinite
	}
	return nil
}
