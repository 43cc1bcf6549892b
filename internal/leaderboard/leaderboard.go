// internal/leaderboard/leaderboard.go
package leaderboard

import (
	"sort"

	"github.com/jason-s-yu/ladder/internal/models"
)

// Entry is one ranked leaderboard row. Rank starts at 1.
type Entry struct {
	Rank        int    `json:"rank"`
	Participant string `json:"participant"`
	Name        string `json:"name"`
	Rating      int    `json:"rating"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Tier        string `json:"tier,omitempty"`
}

// Filter narrows which participants are ranked. Zero values disable a filter.
type Filter struct {
	Tier      string
	MinRating int
	MaxRating int
	MinGames  int
}

// ByTier ranks only participants of tier.
func ByTier(tier string) Filter { return Filter{Tier: tier} }

// RatingBetween ranks only participants rated within [lo, hi].
func RatingBetween(lo, hi int) Filter { return Filter{MinRating: lo, MaxRating: hi} }

// MinGames ranks only participants with at least n decided games.
func MinGames(n int) Filter { return Filter{MinGames: n} }

func (f Filter) match(p models.Participant) bool {
	if f.Tier != "" && p.Tier != f.Tier {
		return false
	}
	if f.MinRating != 0 && p.Rating < f.MinRating {
		return false
	}
	if f.MaxRating != 0 && p.Rating > f.MaxRating {
		return false
	}
	return p.Games() >= f.MinGames
}

// TopN ranks participants by rating, highest first. Ties keep input order.
// n <= 0 returns every matching participant.
func TopN(participants []models.Participant, n int, filter Filter) []Entry {
	ranked := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if filter.match(p) {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rating > ranked[j].Rating })

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	entries := make([]Entry, len(ranked))
	for i, p := range ranked {
		entries[i] = Entry{
			Rank:        i + 1,
			Participant: p.ID,
			Name:        p.Name,
			Rating:      p.Rating,
			Wins:        p.Wins,
			Losses:      p.Losses,
			Tier:        p.Tier,
		}
	}
	return entries
}
