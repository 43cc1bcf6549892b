// internal/match/match.go
package match

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/samber/lo"
)

// State is a match lifecycle state.
type State string

const (
	StateForming        State = "FORMING"
	StateAwaitingStart  State = "AWAITING_START_CONFIRMATION"
	StateOngoing        State = "ONGOING"
	StateAwaitingResult State = "AWAITING_RESULT_CONFIRMATION"
	StateComplete       State = "COMPLETE"
	StateCancelled      State = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled
}

// Report is a proposed (or forced) series result.
type Report struct {
	Reporter string    `json:"reporter"`
	WinsA    int       `json:"wins_a"`
	WinsB    int       `json:"wins_b"`
	At       time.Time `json:"at"`
	Forced   bool      `json:"forced,omitempty"`
}

// Match is a single contest between two rosters.
//
// A Match is a plain value: callers persist it after every transition and
// serialise access per guild. Transition methods never partially apply; on
// error the match is unchanged.
type Match struct {
	ID    uuid.UUID
	Guild string
	Queue string
	K     float64

	SideA Roster
	SideB Roster
	State State

	RoomName string
	RoomPass string

	Reported *Report
	WinsA    int
	WinsB    int
	Changes  []rating.Change

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	// Draft is non-nil while the sides are still being picked.
	Draft *Draft
}

// New creates a FORMING match between two settled rosters.
func New(guild, queue string, k float64, a, b Roster, now time.Time) (*Match, error) {
	if a.Len() == 0 || b.Len() == 0 {
		return nil, NewError(InvalidRosterSize, "both sides need at least one player")
	}
	if len(lo.Intersect(a.Members, b.Members)) > 0 {
		return nil, NewError(InvalidRosterSize, "a player cannot be on both sides")
	}
	return &Match{
		ID:        uuid.New(),
		Guild:     guild,
		Queue:     queue,
		K:         k,
		SideA:     a,
		SideB:     b,
		State:     StateForming,
		CreatedAt: now,
	}, nil
}

// NewDrafting creates a FORMING match whose rosters come from d.
func NewDrafting(guild, queue string, k float64, d *Draft, now time.Time) *Match {
	m := &Match{
		ID:        uuid.New(),
		Guild:     guild,
		Queue:     queue,
		K:         k,
		State:     StateForming,
		CreatedAt: now,
		Draft:     d,
	}
	m.settleDraft()
	return m
}

func (m *Match) stale(action string) error {
	return NewErrorf(StaleState, "cannot %s a match that is %s", action, m.State)
}

// IsActive reports whether the match still holds its participants.
func (m *Match) IsActive() bool {
	return !m.State.Terminal()
}

// Participants returns every participant of the match, side A first.
func (m *Match) Participants() []string {
	if m.Draft != nil {
		return m.Draft.Members()
	}
	out := make([]string, 0, m.SideA.Len()+m.SideB.Len())
	out = append(out, m.SideA.Members...)
	return append(out, m.SideB.Members...)
}

// SideOf returns the side id plays on.
func (m *Match) SideOf(id string) (Side, bool) {
	switch {
	case m.SideA.Contains(id):
		return SideA, true
	case m.SideB.Contains(id):
		return SideB, true
	}
	return "", false
}

// Roster returns the roster playing on side.
func (m *Match) Roster(side Side) Roster {
	if side == SideB {
		return m.SideB
	}
	return m.SideA
}

// Responder returns who must confirm an action proposed by proposer: the
// opposing side's captain, or its first member.
func (m *Match) Responder(proposer string) (string, error) {
	side, ok := m.SideOf(proposer)
	if !ok {
		return "", NewErrorf(NotAMember, "%s is not playing in this match", proposer)
	}
	if side == SideA {
		return m.SideB.Responder(), nil
	}
	return m.SideA.Responder(), nil
}

// Pick applies a captain's pick to a drafting match.
func (m *Match) Pick(captain, player string) error {
	if m.Draft == nil || m.State != StateForming {
		return m.stale("pick players for")
	}
	if err := m.Draft.Pick(captain, player); err != nil {
		return err
	}
	m.settleDraft()
	return nil
}

// ChooseSide applies a self-pick choice to a drafting match.
func (m *Match) ChooseSide(player string, side Side) error {
	if m.Draft == nil || m.State != StateForming {
		return m.stale("choose sides in")
	}
	if err := m.Draft.Choose(player, side); err != nil {
		return err
	}
	m.settleDraft()
	return nil
}

func (m *Match) settleDraft() {
	if m.Draft == nil || !m.Draft.Done() {
		return
	}
	a, b, err := m.Draft.Rosters()
	if err != nil {
		return
	}
	m.SideA, m.SideB, m.Draft = a, b, nil
}

// AwaitStart moves a formed match to AWAITING_START_CONFIRMATION.
func (m *Match) AwaitStart() error {
	if m.State != StateForming || m.Draft != nil {
		return m.stale("propose a start for")
	}
	m.State = StateAwaitingStart
	return nil
}

// Start moves the match to ONGOING and starts the minimum-duration clock.
func (m *Match) Start(now time.Time) error {
	if (m.State != StateForming && m.State != StateAwaitingStart) || m.Draft != nil {
		return m.stale("start")
	}
	m.State = StateOngoing
	m.StartedAt = now
	return nil
}

// RevertStart returns an AWAITING_START_CONFIRMATION match to FORMING.
func (m *Match) RevertStart() error {
	if m.State != StateAwaitingStart {
		return m.stale("withdraw the start of")
	}
	m.State = StateForming
	return nil
}

// ReportResult records reporter's proposed result and moves the match to
// AWAITING_RESULT_CONFIRMATION.
func (m *Match) ReportResult(reporter string, winsA, winsB int, now time.Time, minDuration time.Duration) error {
	switch m.State {
	case StateOngoing:
	case StateAwaitingResult:
		return ErrVerificationInProgress
	default:
		return m.stale("report")
	}
	if _, ok := m.SideOf(reporter); !ok {
		return NewErrorf(NotAMember, "%s is not playing in this match", reporter)
	}
	if winsA < 0 || winsB < 0 || winsA+winsB == 0 {
		return ErrInvalidResult
	}
	if elapsed := now.Sub(m.StartedAt); elapsed < minDuration {
		return &Error{
			Code:       TooEarly,
			Message:    ErrTooEarly.Message,
			RetryAfter: minDuration - elapsed,
		}
	}
	m.Reported = &Report{Reporter: reporter, WinsA: winsA, WinsB: winsB, At: now}
	m.State = StateAwaitingResult
	return nil
}

// DiscardReport drops a rejected or unanswered report; the match is ONGOING again.
func (m *Match) DiscardReport() error {
	if m.State != StateAwaitingResult {
		return m.stale("discard the report of")
	}
	m.Reported = nil
	m.State = StateOngoing
	return nil
}

// ForceResult records an administrator's result, replacing any pending report.
// The match is left AWAITING_RESULT_CONFIRMATION, ready for Complete.
func (m *Match) ForceResult(admin string, winsA, winsB int, now time.Time) error {
	if m.State != StateOngoing && m.State != StateAwaitingResult {
		return m.stale("force a result for")
	}
	if winsA < 0 || winsB < 0 || winsA+winsB == 0 {
		return ErrInvalidResult
	}
	m.Reported = &Report{Reporter: admin, WinsA: winsA, WinsB: winsB, At: now, Forced: true}
	m.State = StateAwaitingResult
	return nil
}

// Complete settles the reported result: it computes every participant's
// rating change once and moves the match to COMPLETE. ratings holds the
// current rating of each participant; missing entries use rating.DefaultRating.
func (m *Match) Complete(calc rating.Calculator, ratings map[string]int, now time.Time) ([]rating.Change, error) {
	if m.State != StateAwaitingResult || m.Reported == nil {
		return nil, m.stale("complete")
	}
	score, err := rating.SeriesScore(m.Reported.WinsA, m.Reported.WinsB)
	if err != nil {
		return nil, NewError(InvalidResult, err.Error())
	}
	if m.K > 0 {
		calc.K = m.K
	}
	lookup := func(id string, _ int) int {
		if r, ok := ratings[id]; ok {
			return r
		}
		return rating.DefaultRating
	}
	changes := calc.UpdateTeams(
		m.SideA.Members, lo.Map(m.SideA.Members, lookup),
		m.SideB.Members, lo.Map(m.SideB.Members, lookup),
		score,
	)
	m.WinsA, m.WinsB = m.Reported.WinsA, m.Reported.WinsB
	m.Changes = changes
	m.State = StateComplete
	m.EndedAt = now
	return changes, nil
}

// Cancel ends a non-terminal match without rating changes.
func (m *Match) Cancel(now time.Time) error {
	if m.State.Terminal() {
		return m.stale("cancel")
	}
	m.State = StateCancelled
	m.EndedAt = now
	return nil
}

// Winner returns the winning side of a completed match, or "" for a draw.
func (m *Match) Winner() Side {
	switch {
	case m.WinsA > m.WinsB:
		return SideA
	case m.WinsB > m.WinsA:
		return SideB
	}
	return ""
}

type record struct {
	ID            uuid.UUID       `json:"id"`
	Guild         string          `json:"guild"`
	Queue         string          `json:"queue"`
	K             float64         `json:"k"`
	SideAID       uuid.UUID       `json:"sideAId"`
	SideA         []string        `json:"sideA"`
	CaptainA      string          `json:"captainA,omitempty"`
	SideBID       uuid.UUID       `json:"sideBId"`
	SideB         []string        `json:"sideB"`
	CaptainB      string          `json:"captainB,omitempty"`
	State         State           `json:"state"`
	RoomName      string          `json:"roomName"`
	RoomPass      string          `json:"roomPass"`
	ScoreReported *Report         `json:"scoreReported,omitempty"`
	WinsA         int             `json:"winsA"`
	WinsB         int             `json:"winsB"`
	Changes       []rating.Change `json:"changes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     time.Time       `json:"startedAt"`
	EndedAt       time.Time       `json:"endedAt"`
	Draft         *Draft          `json:"draft,omitempty"`
}

// MarshalJSON encodes the persisted match shape.
func (m *Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:            m.ID,
		Guild:         m.Guild,
		Queue:         m.Queue,
		K:             m.K,
		SideAID:       m.SideA.ID,
		SideA:         m.SideA.Members,
		CaptainA:      m.SideA.Captain,
		SideBID:       m.SideB.ID,
		SideB:         m.SideB.Members,
		CaptainB:      m.SideB.Captain,
		State:         m.State,
		RoomName:      m.RoomName,
		RoomPass:      m.RoomPass,
		ScoreReported: m.Reported,
		WinsA:         m.WinsA,
		WinsB:         m.WinsB,
		Changes:       m.Changes,
		CreatedAt:     m.CreatedAt,
		StartedAt:     m.StartedAt,
		EndedAt:       m.EndedAt,
		Draft:         m.Draft,
	})
}

// UnmarshalJSON decodes the persisted match shape.
func (m *Match) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = Match{
		ID:        r.ID,
		Guild:     r.Guild,
		Queue:     r.Queue,
		K:         r.K,
		SideA:     Roster{ID: r.SideAID, Members: r.SideA, Captain: r.CaptainA},
		SideB:     Roster{ID: r.SideBID, Members: r.SideB, Captain: r.CaptainB},
		State:     r.State,
		RoomName:  r.RoomName,
		RoomPass:  r.RoomPass,
		Reported:  r.ScoreReported,
		WinsA:     r.WinsA,
		WinsB:     r.WinsB,
		Changes:   r.Changes,
		CreatedAt: r.CreatedAt,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Draft:     r.Draft,
	}
	return nil
}
