// Package rater implements Semantic Similarity Rating: it maps free text onto a five-point
// Likert PMF through cosine similarity to anchor statements.
package rater

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/klejdi94/synthpanel/core"
	"github.com/klejdi94/synthpanel/embedding"
)

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1].
func Cosine(a, b embedding.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("rater: %d vs %d dimensions: %w", len(a), len(b), core.ErrDimensionMismatch)
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("rater: zero-norm vector: %w", core.ErrDegenerateVector)
	}
	s := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, s)), nil
}

// Similarities returns the cosine similarity of resp to each anchor, in anchor order.
func Similarities(resp embedding.Vector, anchors []embedding.Vector) ([]float64, error) {
	sims := make([]float64, len(anchors))
	for i, a := range anchors {
		s, err := Cosine(resp, a)
		if err != nil {
			return nil, fmt.Errorf("rater: anchor %d: %w", i, err)
		}
		sims[i] = s
	}
	return sims, nil
}

// FromSimilarities shifts sims by their minimum, raises them to beta and normalizes.
// When every shifted similarity is zero it returns the uniform PMF with ErrDegenerateDistribution.
func FromSimilarities(sims []float64, beta float64) (core.PMF, error) {
	if err := core.ValidateBeta(beta); err != nil {
		return core.PMF{}, err
	}
	if len(sims) != core.ScaleSize {
		return core.PMF{}, &core.ValidationError{Field: "similarities", Value: len(sims), Message: fmt.Sprintf("expected %d values", core.ScaleSize)}
	}
	w := make([]float64, core.ScaleSize)
	copy(w, sims)
	floats.AddConst(-floats.Min(w), w)
	for i, v := range w {
		w[i] = math.Pow(v, beta)
	}
	denom := floats.Sum(w)
	if denom == 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return core.UniformPMF(), core.ErrDegenerateDistribution
	}
	floats.Scale(1/denom, w)
	var pmf core.PMF
	copy(pmf[:], w)
	return pmf, nil
}

// Transform maps a response embedding and five anchor embeddings to a PMF.
func Transform(resp embedding.Vector, anchors []embedding.Vector, beta float64) (core.PMF, error) {
	if err := core.ValidateBeta(beta); err != nil {
		return core.PMF{}, err
	}
	if len(anchors) != core.ScaleSize {
		return core.PMF{}, &core.ValidationError{Field: "anchors", Value: len(anchors), Message: fmt.Sprintf("expected %d anchor vectors", core.ScaleSize)}
	}
	sims, err := Similarities(resp, anchors)
	if err != nil {
		return core.PMF{}, err
	}
	return FromSimilarities(sims, beta)
}
