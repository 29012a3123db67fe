package scoring

import (
	"errors"
	"fmt"
)

// Dimension names used in weights, structured data and prompts
const (
	DimClarity        = "clarity"
	DimConciseness    = "conciseness"
	DimTechnicalDepth = "technical_depth"
	DimStarMethod     = "star_method"
)

// Dimensions are the four weighted feedback scores, each on a 0-100 scale
type Dimensions struct {
	Clarity        float64 `json:"clarity"`
	Conciseness    float64 `json:"conciseness"`
	TechnicalDepth float64 `json:"technical_depth"`
	StarMethod     float64 `json:"star_method"`
}

// Clamped returns d with every dimension bounded to [0, 100] and rounded to two decimals
func (d Dimensions) Clamped() Dimensions {
	return Dimensions{
		Clarity:        Round2(Clamp(d.Clarity)),
		Conciseness:    Round2(Clamp(d.Conciseness)),
		TechnicalDepth: Round2(Clamp(d.TechnicalDepth)),
		StarMethod:     Round2(Clamp(d.StarMethod)),
	}
}

// Map returns the dimensions keyed by name
func (d Dimensions) Map() map[string]float64 {
	return map[string]float64{
		DimClarity:        d.Clarity,
		DimConciseness:    d.Conciseness,
		DimTechnicalDepth: d.TechnicalDepth,
		DimStarMethod:     d.StarMethod,
	}
}

// Weights configure the overall score formula:
//
//	overall = (wc*clarity + wn*conciseness + wt*technical_depth + ws*star_method) / (wc + wn + wt + ws)
type Weights struct {
	Clarity        float64
	Conciseness    float64
	TechnicalDepth float64
	StarMethod     float64
}

// DefaultWeights favour technical depth slightly over the other dimensions
func DefaultWeights() Weights {
	return Weights{
		Clarity:        0.25,
		Conciseness:    0.20,
		TechnicalDepth: 0.30,
		StarMethod:     0.25,
	}
}

// ErrInvalidWeights is returned when weights cannot form a weighted mean
var ErrInvalidWeights = errors.New("invalid scoring weights")

// Validate rejects negative weights and an all-zero set
func (w Weights) Validate() error {
	for name, v := range w.Map() {
		if v < 0 {
			return fmt.Errorf("%w: %s weight is negative (%v)", ErrInvalidWeights, name, v)
		}
	}
	if w.sum() <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}
	return nil
}

func (w Weights) sum() float64 {
	return w.Clarity + w.Conciseness + w.TechnicalDepth + w.StarMethod
}

// Map returns the weights keyed by dimension name
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		DimClarity:        w.Clarity,
		DimConciseness:    w.Conciseness,
		DimTechnicalDepth: w.TechnicalDepth,
		DimStarMethod:     w.StarMethod,
	}
}

// Overall combines the four dimensions into the weighted mean, rounded to two decimals.
// Invalid weights fall back to DefaultWeights.
func (w Weights) Overall(d Dimensions) float64 {
	if w.Validate() != nil {
		w = DefaultWeights()
	}
	d = d.Clamped()
	total := w.Clarity*d.Clarity +
		w.Conciseness*d.Conciseness +
		w.TechnicalDepth*d.TechnicalDepth +
		w.StarMethod*d.StarMethod
	return Round2(Clamp(total / w.sum()))
}
