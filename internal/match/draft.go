// internal/match/draft.go
package match

import (
	"slices"
)

// DraftMode selects how a drafting match fills its sides.
type DraftMode string

const (
	// DraftCaptains: two captains alternate picks in the A,B,B,A,A,B,B,A... pattern.
	DraftCaptains DraftMode = "captains"
	// DraftSelf: every player chooses a side until one side is full.
	DraftSelf DraftMode = "self"
)

// Side names one half of a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Draft tracks team assignment for a formed match whose rosters are not yet
// settled. Picks is keyed by pick slot, starting at 0 after the captains.
type Draft struct {
	Mode      DraftMode      `json:"mode"`
	TeamSize  int            `json:"team_size"`
	CaptainA  string         `json:"captain_a,omitempty"`
	CaptainB  string         `json:"captain_b,omitempty"`
	SideA     []string       `json:"side_a"`
	SideB     []string       `json:"side_b"`
	Remaining []string       `json:"remaining"`
	Picks     map[int]string `json:"picks"`
}

// NewCaptainsDraft seats captainA and captainB on opposite sides and leaves the
// rest of pool to be picked. Both captains must be in pool.
func NewCaptainsDraft(pool []string, captainA, captainB string, teamSize int) (*Draft, error) {
	if err := checkPool(pool, teamSize); err != nil {
		return nil, err
	}
	if captainA == captainB || !slices.Contains(pool, captainA) || !slices.Contains(pool, captainB) {
		return nil, NewError(NotAMember, "both captains must be distinct members of the pool")
	}
	d := &Draft{
		Mode:     DraftCaptains,
		TeamSize: teamSize,
		CaptainA: captainA,
		CaptainB: captainB,
		SideA:    []string{captainA},
		SideB:    []string{captainB},
		Picks:    map[int]string{},
	}
	for _, p := range pool {
		if p != captainA && p != captainB {
			d.Remaining = append(d.Remaining, p)
		}
	}
	d.settle()
	return d, nil
}

// NewSelfPickDraft leaves every player of pool unassigned.
func NewSelfPickDraft(pool []string, teamSize int) (*Draft, error) {
	if err := checkPool(pool, teamSize); err != nil {
		return nil, err
	}
	return &Draft{
		Mode:      DraftSelf,
		TeamSize:  teamSize,
		SideA:     []string{},
		SideB:     []string{},
		Remaining: slices.Clone(pool),
		Picks:     map[int]string{},
	}, nil
}

func checkPool(pool []string, teamSize int) error {
	if teamSize < 1 || len(pool) != teamSize*2 {
		return NewErrorf(InvalidRosterSize, "a draft needs exactly %d players", teamSize*2)
	}
	return nil
}

// PickSide returns the side that owns pick slot n (0-based).
func PickSide(n int) Side {
	switch n % 4 {
	case 0, 3:
		return SideA
	default:
		return SideB
	}
}

// Turn returns the side expected to pick next.
func (d *Draft) Turn() Side {
	return PickSide(len(d.Picks))
}

// Done reports whether every player has a side.
func (d *Draft) Done() bool {
	return len(d.Remaining) == 0
}

// Members returns everyone taking part in the draft.
func (d *Draft) Members() []string {
	out := make([]string, 0, d.TeamSize*2)
	out = append(out, d.SideA...)
	out = append(out, d.SideB...)
	return append(out, d.Remaining...)
}

// Pick assigns player to the side of captain. Only the captain whose turn it
// is may pick.
func (d *Draft) Pick(captain, player string) error {
	if d.Mode != DraftCaptains {
		return NewError(StaleState, "this match is not drafted by captains")
	}
	if d.Done() {
		return NewError(StaleState, "the draft is already finished")
	}
	turn := d.Turn()
	expected := d.CaptainA
	if turn == SideB {
		expected = d.CaptainB
	}
	if captain != expected {
		return NewErrorf(Forbidden, "it is the other captain's turn to pick")
	}
	if !slices.Contains(d.Remaining, player) {
		return NewErrorf(NotAMember, "%s is not available to pick", player)
	}
	d.assign(player, turn)
	d.settle()
	return nil
}

// Choose puts player on side in a self-pick draft.
func (d *Draft) Choose(player string, side Side) error {
	if d.Mode != DraftSelf {
		return NewError(StaleState, "sides are picked by captains in this match")
	}
	if !slices.Contains(d.Remaining, player) {
		return NewErrorf(NotAMember, "%s has already chosen or is not in this match", player)
	}
	switch side {
	case SideA:
		if len(d.SideA) >= d.TeamSize {
			return NewError(StaleState, "side A is already full")
		}
	case SideB:
		if len(d.SideB) >= d.TeamSize {
			return NewError(StaleState, "side B is already full")
		}
	default:
		return NewErrorf(NotAMember, "unknown side %q", side)
	}
	d.assign(player, side)
	d.settle()
	return nil
}

func (d *Draft) assign(player string, side Side) {
	d.Remaining = slices.DeleteFunc(d.Remaining, func(p string) bool { return p == player })
	if side == SideA {
		d.SideA = append(d.SideA, player)
	} else {
		d.SideB = append(d.SideB, player)
	}
	d.Picks[len(d.Picks)] = player
}

// settle auto-assigns the remaining players once one side is full.
func (d *Draft) settle() {
	var side Side
	switch {
	case len(d.SideA) >= d.TeamSize:
		side = SideB
	case len(d.SideB) >= d.TeamSize:
		side = SideA
	case len(d.Remaining) == 1 && d.Mode == DraftCaptains:
		side = d.Turn()
	default:
		return
	}
	for len(d.Remaining) > 0 {
		d.assign(d.Remaining[0], side)
	}
}

// Rosters builds the final rosters of a finished draft, designating captains
// when the draft has them.
func (d *Draft) Rosters() (Roster, Roster, error) {
	if !d.Done() {
		return Roster{}, Roster{}, NewError(StaleState, "the draft is not finished")
	}
	size := Size{Exact: d.TeamSize}
	a, err := NewRoster(d.SideA, size)
	if err != nil {
		return Roster{}, Roster{}, err
	}
	b, err := NewRoster(d.SideB, size)
	if err != nil {
		return Roster{}, Roster{}, err
	}
	if d.CaptainA != "" {
		_ = a.DesignateCaptain(d.CaptainA)
	}
	if d.CaptainB != "" {
		_ = b.DesignateCaptain(d.CaptainB)
	}
	return a, b, nil
}
