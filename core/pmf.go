package core

import (
	"fmt"
	"math"
)

// PMF is a probability mass function over the five Likert points.
type PMF [ScaleSize]float64

// DefaultPMFTolerance is the accepted deviation of a PMF's sum from 1.
const DefaultPMFTolerance = 1e-6

// UniformPMF returns 0.2 on every point.
func UniformPMF() PMF {
	var p PMF
	for i := range p {
		p[i] = 1.0 / ScaleSize
	}
	return p
}

// Expectation returns the expected rating on the 1..5 scale.
func (p PMF) Expectation() float64 {
	var sum float64
	for i, v := range p {
		sum += v * float64(i+1)
	}
	return sum
}

// Sum returns the total mass.
func (p PMF) Sum() float64 {
	var s float64
	for _, v := range p {
		s += v
	}
	return s
}

// Validate checks non-negativity and that the mass sums to 1 within tol.
func (p PMF) Validate(tol float64) error {
	for i, v := range p {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("pmf: entry %d is %v: %w", i, v, ErrInvalidParameter)
		}
	}
	if s := p.Sum(); math.Abs(s-1) > tol {
		return fmt.Errorf("pmf: sums to %v: %w", s, ErrInvalidParameter)
	}
	return nil
}

// Slice returns the PMF as a slice, for JSON encoding and gonum helpers.
func (p PMF) Slice() []float64 {
	out := make([]float64, ScaleSize)
	copy(out, p[:])
	return out
}

// AveragePMF averages PMFs element-wise. It returns false for an empty input.
func AveragePMF(pmfs []PMF) (PMF, bool) {
	var out PMF
	if len(pmfs) == 0 {
		return out, false
	}
	for _, p := range pmfs {
		for i, v := range p {
			out[i] += v
		}
	}
	n := float64(len(pmfs))
	for i := range out {
		out[i] /= n
	}
	return out, true
}
