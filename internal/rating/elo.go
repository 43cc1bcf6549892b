// internal/rating/elo.go
package rating

import (
	"fmt"
	"math"
)

const (
	// DefaultRating is the rating every participant starts from.
	DefaultRating = 1500
	// DefaultK is the K-factor used when a queue or mode does not set its own.
	DefaultK = 50.0
	// DefaultScale is the rating difference at which the favourite is expected
	// to score ten times as often as the underdog.
	DefaultScale = 400.0
)

// Calculator applies the logistic Elo update with a fixed K-factor.
// The zero value is not usable; build one with NewCalculator.
type Calculator struct {
	K     float64
	Scale float64
}

// NewCalculator returns a Calculator, substituting the defaults for
// non-positive k or scale.
func NewCalculator(k, scale float64) Calculator {
	if k <= 0 {
		k = DefaultK
	}
	if scale <= 0 {
		scale = DefaultScale
	}
	return Calculator{K: k, Scale: scale}
}

// Expectation returns side A's expected score against side B.
func (c Calculator) Expectation(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, -float64(ratingA-ratingB)/c.Scale))
}

// Delta is the signed number of points side A gains for scoreA.
// Side B always moves by the negated value, so the exchange is zero-sum.
func (c Calculator) Delta(ratingA, ratingB int, scoreA float64) int {
	e := c.Expectation(ratingA, ratingB)
	return int(math.Round(c.K * (scoreA - e)))
}

// Update returns the new ratings of A and B after A scored scoreA in [0,1].
//
// newA = round(ratingA + K*(scoreA - eA))
// newB = round(ratingB + K*((1-scoreA) - (1-eA)))
//
// math.Round is symmetric around zero, so computing the delta once gives the
// same result as rounding both sides separately.
func (c Calculator) Update(ratingA, ratingB int, scoreA float64) (int, int) {
	d := c.Delta(ratingA, ratingB, scoreA)
	return ratingA + d, ratingB - d
}

// SeriesScore converts a multi-game result into side A's fractional score.
func SeriesScore(winsA, winsB int) (float64, error) {
	if winsA < 0 || winsB < 0 {
		return 0, fmt.Errorf("negative game count %d-%d", winsA, winsB)
	}
	if winsA+winsB == 0 {
		return 0, fmt.Errorf("no decided games")
	}
	return float64(winsA) / float64(winsA+winsB), nil
}
