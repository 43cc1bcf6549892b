// internal/queue/policy.go
package queue

import (
	"math/bits"
	"slices"
	"sort"

	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/samber/lo"
)

// Policy selects how a formation is split into two sides.
type Policy string

const (
	PolicyRandom   Policy = "random"
	PolicyCaptains Policy = "captains"
	PolicyBalanced Policy = "balanced"
	PolicySelf     Policy = "self"
)

var policies = map[Policy]struct{}{
	PolicyRandom:   {},
	PolicyCaptains: {},
	PolicyBalanced: {},
	PolicySelf:     {},
}

// exactBalanceLimit is the largest formation partitioned exhaustively.
const exactBalanceLimit = 12

// Assignment is the result of applying a policy: either two settled sides or
// a draft still to be played out.
type Assignment struct {
	SideA []string
	SideB []string
	Draft *match.Draft
}

// Assign splits f according to its queue's policy. ratings is only consulted
// by the balanced policy; missing entries count as rating.DefaultRating.
func (m *Manager) Assign(f Formation, ratings map[string]int) (Assignment, error) {
	pool := slices.Clone(f.Participants)
	teamSize := len(pool) / 2

	switch f.Queue.Policy {
	case PolicyRandom:
		m.shuffle(pool)
		return Assignment{SideA: pool[:teamSize], SideB: pool[teamSize:]}, nil

	case PolicyBalanced:
		a, b := Balance(pool, func(id string) int {
			if r, ok := ratings[id]; ok {
				return r
			}
			return rating.DefaultRating
		})
		return Assignment{SideA: a, SideB: b}, nil

	case PolicyCaptains:
		shuffled := slices.Clone(pool)
		m.shuffle(shuffled)
		d, err := match.NewCaptainsDraft(pool, shuffled[0], shuffled[1], teamSize)
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{Draft: d}, nil

	case PolicySelf:
		d, err := match.NewSelfPickDraft(pool, teamSize)
		if err != nil {
			return Assignment{}, err
		}
		return Assignment{Draft: d}, nil
	}
	return Assignment{}, match.NewErrorf(match.NotFound, "unknown team assignment policy %q", f.Queue.Policy)
}

func (m *Manager) shuffle(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// Balance splits an even-sized pool into two equal sides whose rating sums
// differ as little as possible. Pools up to exactBalanceLimit are searched
// exhaustively; larger pools use a greedy assignment by descending rating.
// Sides keep the relative order of the input pool.
func Balance(pool []string, ratingOf func(string) int) ([]string, []string) {
	n := len(pool)
	half := n / 2
	if n == 0 {
		return nil, nil
	}
	if n > exactBalanceLimit {
		return greedyBalance(pool, ratingOf)
	}

	total := 0
	for _, id := range pool {
		total += ratingOf(id)
	}
	best, bestDiff := uint(0), -1
	// Bit 0 is pinned to side A so mirrored partitions are visited once.
	for mask := uint(1); mask < 1<<n; mask += 2 {
		if bits.OnesCount(mask) != half {
			continue
		}
		sumA := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sumA += ratingOf(pool[i])
			}
		}
		diff := total - 2*sumA
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = mask, diff
		}
	}

	a := make([]string, 0, half)
	b := make([]string, 0, half)
	for i, id := range pool {
		if best&(1<<i) != 0 {
			a = append(a, id)
		} else {
			b = append(b, id)
		}
	}
	return a, b
}

func greedyBalance(pool []string, ratingOf func(string) int) ([]string, []string) {
	half := len(pool) / 2
	sorted := slices.Clone(pool)
	sort.SliceStable(sorted, func(i, j int) bool { return ratingOf(sorted[i]) > ratingOf(sorted[j]) })

	inA := make(map[string]bool, half)
	countA, countB, sumA, sumB := 0, 0, 0, 0
	for _, id := range sorted {
		r := ratingOf(id)
		if countB >= half || (countA < half && sumA <= sumB) {
			inA[id] = true
			countA++
			sumA += r
		} else {
			countB++
			sumB += r
		}
	}
	a := lo.Filter(pool, func(id string, _ int) bool { return inA[id] })
	b := lo.Filter(pool, func(id string, _ int) bool { return !inA[id] })
	return a, b
}
