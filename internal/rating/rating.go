// internal/rating/rating.go
package rating

import "math"

// Change records one participant's rating movement from a completed match.
type Change struct {
	ParticipantID string `json:"participant_id"`
	Old           int    `json:"old"`
	New           int    `json:"new"`
	Delta         int    `json:"delta"`
}

// Mean returns the rounded average of ratings, or DefaultRating for an empty side.
func Mean(ratings []int) int {
	if len(ratings) == 0 {
		return DefaultRating
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return int(math.Round(float64(sum) / float64(len(ratings))))
}

// UpdateTeams rates each side by its mean rating and moves every member of a
// side by that side's delta. For single-member sides this is exactly Update.
//
// ids and ratings are parallel slices per side. The returned changes list side
// A members first, then side B, in roster order.
func (c Calculator) UpdateTeams(idsA []string, ratingsA []int, idsB []string, ratingsB []int, scoreA float64) []Change {
	d := c.Delta(Mean(ratingsA), Mean(ratingsB), scoreA)

	changes := make([]Change, 0, len(idsA)+len(idsB))
	for i, id := range idsA {
		changes = append(changes, Change{ParticipantID: id, Old: ratingsA[i], New: ratingsA[i] + d, Delta: d})
	}
	for i, id := range idsB {
		changes = append(changes, Change{ParticipantID: id, Old: ratingsB[i], New: ratingsB[i] - d, Delta: -d})
	}
	return changes
}
