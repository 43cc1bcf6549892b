// internal/match/match_test.go
package match

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// setupOngoing builds a 1v1 ladder-style match that started at t0.
func setupOngoing(t *testing.T) *Match {
	a, err := NewRoster([]string{"alice"}, Size{Exact: 1})
	require.NoError(t, err)
	b, err := NewRoster([]string{"bob"}, Size{Exact: 1})
	require.NoError(t, err)
	m, err := New("guild", "ladder", 40, a, b, t0)
	require.NoError(t, err)
	require.NoError(t, m.Start(t0))
	return m
}

func TestRosterValidation(t *testing.T) {
	_, err := NewRoster([]string{"a", "b"}, Size{Exact: 3})
	assert.ErrorIs(t, err, ErrInvalidRosterSize)

	_, err = NewRoster(nil, Size{})
	assert.ErrorIs(t, err, ErrInvalidRosterSize)

	_, err = NewRoster([]string{"a", "a", "b"}, Size{Exact: 3})
	assert.ErrorIs(t, err, ErrInvalidRosterSize)

	r, err := NewRoster([]string{"a", "b", "c"}, Size{Exact: 3})
	require.NoError(t, err)
	assert.Equal(t, "a", r.Responder())
	assert.ErrorIs(t, r.DesignateCaptain("z"), ErrNotAMember)
	require.NoError(t, r.DesignateCaptain("c"))
	assert.Equal(t, "c", r.Responder())

	r2, err := NewRoster([]string{"a", "b", "c"}, Size{Exact: 3})
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, r2.ID, "same members must still be distinct rosters")
}

func TestNewRejectsOverlappingSides(t *testing.T) {
	a, _ := NewRoster([]string{"x", "y"}, Size{})
	b, _ := NewRoster([]string{"y", "z"}, Size{})
	_, err := New("g", "q", 50, a, b, t0)
	assert.ErrorIs(t, err, ErrInvalidRosterSize)
}

func TestReportTooEarly(t *testing.T) {
	m := setupOngoing(t)

	err := m.ReportResult("alice", 2, 1, t0.Add(5*time.Minute), 10*time.Minute)
	require.ErrorIs(t, err, ErrTooEarly)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 5*time.Minute, e.RetryAfter)
	assert.Equal(t, "wait 5 more minutes before reporting", UserMessage(err))
	assert.Equal(t, StateOngoing, m.State)

	require.NoError(t, m.ReportResult("alice", 2, 1, t0.Add(11*time.Minute), 10*time.Minute))
	assert.Equal(t, StateAwaitingResult, m.State)
	require.NotNil(t, m.Reported)
	assert.Equal(t, "alice", m.Reported.Reporter)
}

func TestReportGuards(t *testing.T) {
	m := setupOngoing(t)
	later := t0.Add(time.Hour)

	assert.ErrorIs(t, m.ReportResult("carol", 1, 0, later, 0), ErrNotAMember)
	assert.ErrorIs(t, m.ReportResult("alice", 0, 0, later, 0), ErrInvalidResult)
	require.NoError(t, m.ReportResult("alice", 1, 0, later, 0))
	assert.ErrorIs(t, m.ReportResult("bob", 0, 1, later, 0), ErrVerificationInProgress)

	require.NoError(t, m.DiscardReport())
	assert.Equal(t, StateOngoing, m.State)
	assert.Nil(t, m.Reported)
}

func TestCompleteOnce(t *testing.T) {
	m := setupOngoing(t)
	require.NoError(t, m.ReportResult("bob", 0, 1, t0.Add(time.Hour), 10*time.Minute))

	calc := rating.NewCalculator(0, 0)
	changes, err := m.Complete(calc, map[string]int{"alice": 1600, "bob": 1400}, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 1570, changes[0].New, "match K of 40 overrides the calculator default")
	assert.Equal(t, 1430, changes[1].New)
	assert.Equal(t, StateComplete, m.State)
	assert.Equal(t, SideB, m.Winner())

	_, err = m.Complete(calc, map[string]int{"alice": 1570, "bob": 1430}, t0.Add(3*time.Hour))
	assert.ErrorIs(t, err, ErrStaleState)
	assert.Equal(t, 1570, m.Changes[0].New)
}

func TestCompleteDefaultsMissingRatings(t *testing.T) {
	m := setupOngoing(t)
	require.NoError(t, m.ReportResult("alice", 3, 0, t0.Add(time.Hour), 0))
	m.K = 50

	changes, err := m.Complete(rating.NewCalculator(0, 0), nil, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1525, changes[0].New)
	assert.Equal(t, 1475, changes[1].New)
}

func TestTransitionsFromWrongState(t *testing.T) {
	a, _ := NewRoster([]string{"alice"}, Size{Exact: 1})
	b, _ := NewRoster([]string{"bob"}, Size{Exact: 1})
	m, err := New("g", "ladder", 40, a, b, t0)
	require.NoError(t, err)

	assert.ErrorIs(t, m.ReportResult("alice", 1, 0, t0, 0), ErrStaleState)
	assert.ErrorIs(t, m.DiscardReport(), ErrStaleState)
	assert.ErrorIs(t, m.ForceResult("admin", 1, 0, t0), ErrStaleState)
	_, err = m.Complete(rating.NewCalculator(0, 0), nil, t0)
	assert.ErrorIs(t, err, ErrStaleState)

	require.NoError(t, m.AwaitStart())
	assert.ErrorIs(t, m.AwaitStart(), ErrStaleState)
	require.NoError(t, m.RevertStart())
	require.NoError(t, m.AwaitStart())
	require.NoError(t, m.Start(t0))
	assert.ErrorIs(t, m.Start(t0), ErrStaleState)

	require.NoError(t, m.Cancel(t0))
	assert.False(t, m.IsActive())
	assert.ErrorIs(t, m.Cancel(t0), ErrStaleState)
}

func TestForceResultReplacesReport(t *testing.T) {
	m := setupOngoing(t)
	require.NoError(t, m.ReportResult("alice", 2, 0, t0.Add(time.Hour), 0))
	require.NoError(t, m.ForceResult("admin", 0, 2, t0.Add(time.Hour)))
	assert.True(t, m.Reported.Forced)
	assert.Equal(t, 2, m.Reported.WinsB)
	assert.Equal(t, StateAwaitingResult, m.State)
}

func TestResponderIsOpposingCaptain(t *testing.T) {
	a, _ := NewRoster([]string{"a1", "a2"}, Size{Exact: 2})
	b, _ := NewRoster([]string{"b1", "b2"}, Size{Exact: 2})
	require.NoError(t, b.DesignateCaptain("b2"))
	m, err := New("g", "q", 50, a, b, t0)
	require.NoError(t, err)

	r, err := m.Responder("a2")
	require.NoError(t, err)
	assert.Equal(t, "b2", r)

	r, err = m.Responder("b1")
	require.NoError(t, err)
	assert.Equal(t, "a1", r)

	_, err = m.Responder("zed")
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestMatchJSONRoundTrip(t *testing.T) {
	m := setupOngoing(t)
	m.RoomName, m.RoomPass = "octanefennec12", "boost042"
	require.NoError(t, m.ReportResult("alice", 2, 1, t0.Add(time.Hour), 0))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "AWAITING_RESULT_CONFIRMATION", raw["state"])
	assert.Equal(t, []any{"alice"}, raw["sideA"])
	assert.Contains(t, raw, "scoreReported")

	var back Match
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.ID, back.ID)
	assert.Equal(t, m.SideA, back.SideA)
	assert.Equal(t, m.SideB, back.SideB)
	assert.Equal(t, m.Reported.WinsA, back.Reported.WinsA)
	assert.True(t, m.StartedAt.Equal(back.StartedAt))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "you are already queued", UserMessage(ErrAlreadyQueued))
	assert.Equal(t, "wait 1 more minute before reporting",
		UserMessage(&Error{Code: TooEarly, Message: "x", RetryAfter: 20 * time.Second}))
	assert.Contains(t, UserMessage(errors.New("disk on fire")), "league staff")

	code, ok := CodeOf(NewErrorf(NotFound, "match %s", "m1"))
	require.True(t, ok)
	assert.Equal(t, NotFound, code)
	assert.ErrorIs(t, NewErrorf(NotFound, "match %s", "m1"), ErrNotFound)
	assert.NotErrorIs(t, ErrNotFound, ErrStaleState)
}

func TestRoomGeneratorDeterministic(t *testing.T) {
	g1 := NewRoomGenerator(nil, 42)
	g2 := NewRoomGenerator(nil, 42)
	for i := 0; i < 5; i++ {
		n1, p1 := g1.Generate()
		n2, p2 := g2.Generate()
		assert.Equal(t, n1, n2)
		assert.Equal(t, p1, p2)
		assert.NotEmpty(t, n1)
		assert.Len(t, p1[len(p1)-3:], 3)
	}
}
