// internal/match/roster.go
package match

import (
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Size constrains how many members a roster holds. Exact == 0 means any
// non-empty roster is accepted.
type Size struct {
	Exact int
}

// Roster is one side of a match. Two rosters with the same members are still
// different rosters; identity is the generated ID.
type Roster struct {
	ID      uuid.UUID `json:"id"`
	Members []string  `json:"members"`
	Captain string    `json:"captain,omitempty"`
}

// NewRoster builds a roster from members, preserving their order.
func NewRoster(members []string, size Size) (Roster, error) {
	if len(members) == 0 {
		return Roster{}, NewError(InvalidRosterSize, "a roster needs at least one member")
	}
	if size.Exact > 0 && len(members) != size.Exact {
		return Roster{}, NewErrorf(InvalidRosterSize, "a roster needs exactly %d members, got %d", size.Exact, len(members))
	}
	if len(lo.Uniq(members)) != len(members) {
		return Roster{}, NewError(InvalidRosterSize, "a roster cannot list the same member twice")
	}
	return Roster{
		ID:      uuid.New(),
		Members: slices.Clone(members),
	}, nil
}

// DesignateCaptain makes member the roster's captain.
func (r *Roster) DesignateCaptain(member string) error {
	if !r.Contains(member) {
		return NewErrorf(NotAMember, "%s is not on this roster", member)
	}
	r.Captain = member
	return nil
}

// Contains reports whether id is a member.
func (r Roster) Contains(id string) bool {
	return slices.Contains(r.Members, id)
}

// Len returns the number of members.
func (r Roster) Len() int {
	return len(r.Members)
}

// Responder is the member that answers for the roster: the captain if one is
// designated, otherwise the first member.
func (r Roster) Responder() string {
	if r.Captain != "" {
		return r.Captain
	}
	if len(r.Members) == 0 {
		return ""
	}
	return r.Members[0]
}
