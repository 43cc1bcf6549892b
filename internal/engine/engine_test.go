// internal/engine/engine_test.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/cache"
	"github.com/jason-s-yu/ladder/internal/leaderboard"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/queue"
	"github.com/jason-s-yu/ladder/internal/store"
	"github.com/jason-s-yu/ladder/internal/verify"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guild = "rsc"

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder collects notifications and events instead of delivering them.
type recorder struct {
	mu     sync.Mutex
	notes  []notify.Notification
	events []cache.MatchEvent
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) Publish(_ context.Context, ev cache.MatchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) templatesFor(recipient string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		if n.Recipient == recipient {
			out = append(out, n.Template)
		}
	}
	return out
}

func (r *recorder) eventTypes(matchID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.MatchID == matchID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	e     *Engine
	repo  *store.Repository
	clock *fakeClock
	rec   *recorder
}

func setupEngine(t *testing.T, opts Options, queues ...queue.Config) *harness {
	t.Helper()
	return setupEngineWith(t, store.NewMemory(), opts, queues...)
}

func setupEngineWith(t *testing.T, docs store.Documents, opts Options, queues ...queue.Config) *harness {
	t.Helper()
	if len(queues) == 0 {
		queues = []queue.Config{
			{ID: "sixmans", TeamSize: 3, Policy: queue.PolicyRandom, K: 50},
			{ID: "captains", TeamSize: 2, Policy: queue.PolicyCaptains, K: 50},
			{ID: "self", TeamSize: 1, Policy: queue.PolicySelf, K: 50},
		}
	}
	qm, err := queue.NewManager(queues, nil)
	require.NoError(t, err)
	qm.Seed(1)

	if opts.MinMatchDuration == 0 {
		opts.MinMatchDuration = 10 * time.Minute
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	repo := store.NewRepository(docs, 0)
	rec := &recorder{}
	e := New(Config{
		Repo:     repo,
		Queues:   qm,
		Rooms:    match.NewRoomGenerator(nil, 1),
		Notifier: rec,
		Events:   rec,
		Logger:   logger,
		Options:  opts,
	})
	clock := &fakeClock{t: time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	return &harness{e: e, repo: repo, clock: clock, rec: rec}
}

func (h *harness) fillQueue(t *testing.T, queueID string, ids ...string) *match.Match {
	t.Helper()
	var formed *match.Match
	for _, id := range ids {
		res, err := h.e.Enqueue(context.Background(), guild, queueID, id)
		require.NoError(t, err)
		if res.Match != nil {
			formed = res.Match
		}
	}
	require.NotNil(t, formed, "queue did not form a match")
	return formed
}

func (h *harness) setRatings(t *testing.T, ratings map[string]int) {
	t.Helper()
	ps := map[string]models.Participant{}
	for id, r := range ratings {
		ps[id] = models.Participant{ID: id, Name: id, Rating: r}
	}
	require.NoError(t, h.repo.SaveParticipants(context.Background(), guild, ps))
}

func sixPlayers() []string {
	return []string{"p1", "p2", "p3", "p4", "p5", "p6"}
}

func TestSixMansReportConfirmComplete(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m := h.fillQueue(t, "sixmans", sixPlayers()...)

	assert.Equal(t, match.StateOngoing, m.State)
	assert.Len(t, m.SideA.Members, 3)
	assert.Len(t, m.SideB.Members, 3)
	assert.NotEmpty(t, m.RoomName)
	st, err := h.e.QueueStatus(ctx, guild, "sixmans")
	require.NoError(t, err)
	assert.Empty(t, st.Waiting)

	reporter := m.SideA.Members[0]
	h.clock.Advance(5 * time.Minute)
	_, err = h.e.ReportResult(ctx, guild, m.ID, reporter, 2, 1)
	require.ErrorIs(t, err, match.ErrTooEarly)
	assert.Equal(t, "wait 5 more minutes before reporting", match.UserMessage(err))

	h.clock.Advance(6 * time.Minute)
	req, err := h.e.ReportResult(ctx, guild, m.ID, reporter, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, m.SideB.Members[0], req.Responder)
	assert.Contains(t, h.rec.templatesFor(req.Responder), notify.VerifyResultPrompt)

	current, err := h.e.Match(ctx, guild, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateAwaitingResult, current.State)

	_, err = h.e.ReportResult(ctx, guild, m.ID, m.SideB.Members[1], 1, 2)
	assert.ErrorIs(t, err, match.ErrVerificationInProgress)

	outcome, err := h.e.Respond(ctx, guild, m.ID, Caller{ID: m.SideB.Members[2]}, true)
	require.NoError(t, err, "answers from others are ignored")
	assert.Equal(t, verify.Pending, outcome)
	_, still := h.e.Verification().Pending(m.ID)
	assert.True(t, still, "the request stays open for the responder")

	outcome, err = h.e.Respond(ctx, guild, m.ID, Caller{ID: req.Responder}, true)
	require.NoError(t, err)
	assert.Equal(t, verify.Approved, outcome)

	_, err = h.e.Match(ctx, guild, m.ID)
	assert.ErrorIs(t, err, match.ErrNotFound, "completed matches leave the active set")

	history, err := h.e.History(ctx, guild, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, match.StateComplete, history[0].State)
	assert.Equal(t, 2, history[0].WinsA)
	require.Len(t, history[0].Changes, 6)

	// 2-1 between equal sides at K=50: round(50 * (2/3 - 1/2)) = 8.
	winner, err := h.e.Participant(ctx, guild, m.SideA.Members[1])
	require.NoError(t, err)
	assert.Equal(t, 1508, winner.Rating)
	assert.Equal(t, 2, winner.Wins)
	assert.Equal(t, 1, winner.Losses)
	loser, err := h.e.Participant(ctx, guild, m.SideB.Members[1])
	require.NoError(t, err)
	assert.Equal(t, 1492, loser.Rating)

	_, err = h.e.Respond(ctx, guild, m.ID, Caller{ID: req.Responder}, true)
	assert.ErrorIs(t, err, match.ErrStaleState, "a second confirmation must not apply again")
	again, err := h.e.Participant(ctx, guild, m.SideA.Members[1])
	require.NoError(t, err)
	assert.Equal(t, 1508, again.Rating)

	assert.Equal(t, []string{EventFormed, EventStarted, EventReported, EventVerification, EventCompleted}, h.rec.eventTypes(m.ID))
}

func TestLadderChallengeWorkedExample(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{LadderK: 40})
	h.setRatings(t, map[string]int{"teamA": 1600, "teamB": 1400})

	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"teamA"}, SideB: []string{"teamB"}, TeamSize: 1})
	require.NoError(t, err)
	assert.Equal(t, match.StateForming, m.State)
	assert.Equal(t, 40.0, m.K)

	req, err := h.e.ProposeStart(ctx, guild, m.ID, "teamA")
	require.NoError(t, err)
	assert.Equal(t, "teamB", req.Responder)
	_, err = h.e.ProposeStart(ctx, guild, m.ID, "teamA")
	assert.ErrorIs(t, err, match.ErrStaleState)

	outcome, err := h.e.Respond(ctx, guild, m.ID, Caller{ID: "teamB"}, true)
	require.NoError(t, err)
	assert.Equal(t, verify.Approved, outcome)
	current, err := h.e.Match(ctx, guild, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateOngoing, current.State)

	h.clock.Advance(time.Hour)
	_, err = h.e.ReportResult(ctx, guild, m.ID, "teamB", 0, 3)
	require.NoError(t, err)
	_, err = h.e.Respond(ctx, guild, m.ID, Caller{ID: "teamA"}, true)
	require.NoError(t, err)

	board, err := h.e.Leaderboard(ctx, guild, 0, leaderboard.Filter{})
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, leaderboard.Entry{Rank: 1, Participant: "teamA", Name: "teamA", Rating: 1570, Wins: 0, Losses: 3}, board[0])
	assert.Equal(t, 1430, board[1].Rating)
}

func TestStartTimeoutCancelsMatch(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{StartTimeout: 50 * time.Millisecond})
	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)

	_, err = h.e.ProposeStart(ctx, guild, m.ID, "a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := h.e.Match(ctx, guild, m.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond)

	history, err := h.e.History(ctx, guild, "a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, match.StateCancelled, history[0].State)
	assert.Contains(t, h.rec.templatesFor("a"), notify.VerifyTimedOut)
}

func TestRejectedStartReturnsToForming(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)
	_, err = h.e.ProposeStart(ctx, guild, m.ID, "a")
	require.NoError(t, err)

	outcome, err := h.e.Respond(ctx, guild, m.ID, Caller{ID: "b"}, false)
	require.NoError(t, err)
	assert.Equal(t, verify.Rejected, outcome)

	current, err := h.e.Match(ctx, guild, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateForming, current.State)
}

func TestResultTimeoutRevertsToOngoing(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{ResultTimeout: 50 * time.Millisecond})
	m := h.fillQueue(t, "sixmans", sixPlayers()...)
	h.clock.Advance(time.Hour)

	_, err := h.e.ReportResult(ctx, guild, m.ID, m.SideB.Members[0], 0, 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := h.e.Match(ctx, guild, m.ID)
		return err == nil && current.State == match.StateOngoing
	}, time.Second, 10*time.Millisecond)

	current, err := h.e.Match(ctx, guild, m.ID)
	require.NoError(t, err)
	assert.Nil(t, current.Reported)
	ps, err := h.repo.Participants(ctx, guild)
	require.NoError(t, err)
	assert.Empty(t, ps, "a timed out report never changes ratings")
}

func TestRejectedResultRevertsToOngoing(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m := h.fillQueue(t, "sixmans", sixPlayers()...)
	h.clock.Advance(time.Hour)

	req, err := h.e.ReportResult(ctx, guild, m.ID, m.SideA.Members[0], 1, 0)
	require.NoError(t, err)
	outcome, err := h.e.Respond(ctx, guild, m.ID, Caller{ID: req.Responder}, false)
	require.NoError(t, err)
	assert.Equal(t, verify.Rejected, outcome)

	current, err := h.e.Match(ctx, guild, m.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateOngoing, current.State)

	// The match can be reported again.
	_, err = h.e.ReportResult(ctx, guild, m.ID, m.SideA.Members[0], 1, 0)
	assert.NoError(t, err)
}

func TestQueueRejectsPlayersInMatch(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	h.fillQueue(t, "sixmans", sixPlayers()...)

	_, err := h.e.Enqueue(ctx, guild, "sixmans", "p1")
	assert.ErrorIs(t, err, match.ErrAlreadyInMatch)

	_, err = h.e.Enqueue(ctx, guild, "sixmans", "p7")
	require.NoError(t, err)
	_, err = h.e.Enqueue(ctx, guild, "sixmans", "p7")
	assert.ErrorIs(t, err, match.ErrAlreadyQueued)

	_, err = h.e.Dequeue(ctx, guild, "sixmans", "p8")
	assert.ErrorIs(t, err, match.ErrNotQueued)
	st, err := h.e.Dequeue(ctx, guild, "sixmans", "p7")
	require.NoError(t, err)
	assert.Empty(t, st.Waiting)

	_, err = h.e.Enqueue(ctx, guild, "nope", "p9")
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestQueueStateIsPersisted(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	_, err := h.e.Enqueue(ctx, guild, "sixmans", "p1")
	require.NoError(t, err)

	pools, err := h.repo.Queues(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, pools["sixmans"])

	// State written behind the engine's back is picked up on the next call.
	require.NoError(t, h.repo.SaveQueues(ctx, guild, map[string][]string{"sixmans": {"x", "y"}}))
	st, err := h.e.QueueStatus(ctx, guild, "sixmans")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, st.Waiting)
}

func TestCaptainsDraftFlow(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m := h.fillQueue(t, "captains", "c1", "c2", "c3", "c4")

	require.NotNil(t, m.Draft)
	assert.Equal(t, match.StateForming, m.State)
	capA, capB := m.Draft.CaptainA, m.Draft.CaptainB
	pick := m.Draft.Remaining[0]

	_, err := h.e.Pick(ctx, guild, m.ID, capB, pick)
	assert.ErrorIs(t, err, match.ErrForbidden)

	_, err = h.e.ReportResult(ctx, guild, m.ID, capA, 1, 0)
	assert.ErrorIs(t, err, match.ErrStaleState)

	done, err := h.e.Pick(ctx, guild, m.ID, capA, pick)
	require.NoError(t, err)
	assert.Nil(t, done.Draft)
	assert.Equal(t, match.StateOngoing, done.State)
	assert.Equal(t, []string{capA, pick}, done.SideA.Members)
	assert.Equal(t, capA, done.SideA.Captain)
	assert.Equal(t, capB, done.SideB.Captain)

	h.clock.Advance(time.Hour)
	req, err := h.e.ReportResult(ctx, guild, m.ID, pick, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, capB, req.Responder, "the opposing captain confirms")
}

func TestSelfPickFlow(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m := h.fillQueue(t, "self", "x", "y")
	require.NotNil(t, m.Draft)

	done, err := h.e.ChooseSide(ctx, guild, m.ID, "y", match.SideA)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, done.SideA.Members)
	assert.Equal(t, []string{"x"}, done.SideB.Members)
	assert.Equal(t, match.StateOngoing, done.State)
}

func TestForceResultAndCancelByStaff(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m := h.fillQueue(t, "sixmans", sixPlayers()...)
	h.clock.Advance(time.Hour)

	_, _, err := h.e.ForceResult(ctx, guild, m.ID, Caller{ID: "p1"}, 1, 0)
	assert.ErrorIs(t, err, match.ErrForbidden)

	_, err = h.e.ReportResult(ctx, guild, m.ID, m.SideA.Members[0], 3, 0)
	require.NoError(t, err)

	forced, changes, err := h.e.ForceResult(ctx, guild, m.ID, Caller{ID: "staff", Admin: true}, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, match.StateComplete, forced.State)
	require.Len(t, changes, 6)
	assert.Equal(t, -25, changes[0].Delta)
	_, pending := h.e.Verification().Pending(m.ID)
	assert.False(t, pending)

	m2 := h.fillQueue(t, "sixmans", "q1", "q2", "q3", "q4", "q5", "q6")
	_, _, err = h.e.Cancel(ctx, guild, m2.ID, Caller{ID: "staff", Admin: true})
	require.NoError(t, err)
	_, err = h.e.Match(ctx, guild, m2.ID)
	assert.ErrorIs(t, err, match.ErrNotFound)

	history, err := h.e.History(ctx, guild, "", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, m2.ID, history[0].MatchID, "history is newest first")
	assert.Equal(t, match.StateCancelled, history[0].State)
}

func TestCancelByParticipantNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)

	_, req, err := h.e.Cancel(ctx, guild, m.ID, Caller{ID: "a"})
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, verify.PayloadCancel, req.Payload)
	assert.Contains(t, h.rec.templatesFor("b"), notify.VerifyCancelPrompt)

	outcome, err := h.e.Respond(ctx, guild, m.ID, Caller{ID: "a"}, true)
	require.NoError(t, err)
	assert.Equal(t, verify.Pending, outcome, "a proposer cannot confirm their own request")
	_, err = h.e.Respond(ctx, guild, m.ID, Caller{ID: "b"}, true)
	require.NoError(t, err)

	_, err = h.e.Match(ctx, guild, m.ID)
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestChallengeValidation(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})

	_, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a", "b"}, SideB: []string{"c"}, TeamSize: 2})
	assert.ErrorIs(t, err, match.ErrInvalidRosterSize)
	_, err = h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"c"}, CaptainA: "z"})
	assert.ErrorIs(t, err, match.ErrNotAMember)

	_, err = h.e.Enqueue(ctx, guild, "sixmans", "a")
	require.NoError(t, err)
	_, err = h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"c"}})
	require.NoError(t, err)
	st, err := h.e.QueueStatus(ctx, guild, "sixmans")
	require.NoError(t, err)
	assert.Empty(t, st.Waiting, "challenged players leave their queues")

	_, err = h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"d"}})
	assert.ErrorIs(t, err, match.ErrAlreadyInMatch)
}

func TestAbandonTimesOutPendingStart(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})
	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)
	_, err = h.e.ProposeStart(ctx, guild, m.ID, "a")
	require.NoError(t, err)
	_, err = h.e.Enqueue(ctx, guild, "sixmans", "b")
	assert.ErrorIs(t, err, match.ErrAlreadyInMatch)

	ids, err := h.e.Abandon(ctx, guild, "b")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{m.ID}, ids)

	_, err = h.e.Match(ctx, guild, m.ID)
	assert.ErrorIs(t, err, match.ErrNotFound, "an unanswered start cancels the match")
}

func TestRecoverAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})

	awaitingResult := h.fillQueue(t, "sixmans", sixPlayers()...)
	h.clock.Advance(time.Hour)
	_, err := h.e.ReportResult(ctx, guild, awaitingResult.ID, awaitingResult.SideA.Members[0], 1, 0)
	require.NoError(t, err)
	awaitingStart, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)
	_, err = h.e.ProposeStart(ctx, guild, awaitingStart.ID, "a")
	require.NoError(t, err)

	// A new engine over the same store has lost the pending requests.
	qm, err := queue.NewManager(h.e.Queues(), nil)
	require.NoError(t, err)
	restarted := New(Config{Repo: h.repo, Queues: qm, Logger: h.e.logger})
	restarted.now = h.clock.Now
	require.NoError(t, restarted.Recover(ctx))

	current, err := restarted.Match(ctx, guild, awaitingResult.ID)
	require.NoError(t, err)
	assert.Equal(t, match.StateOngoing, current.State)
	_, err = restarted.Match(ctx, guild, awaitingStart.ID)
	assert.ErrorIs(t, err, match.ErrNotFound)

	_, err = restarted.ReportResult(ctx, guild, awaitingResult.ID, awaitingResult.SideA.Members[0], 1, 0)
	assert.NoError(t, err)
}

func TestConcurrentEnqueueFormsDisjointMatches(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.e.Enqueue(ctx, guild, "sixmans", id)
			assert.NoError(t, err)
		}(fmt.Sprintf("p%02d", i))
	}
	wg.Wait()

	ms, err := h.e.ActiveMatches(ctx, guild)
	require.NoError(t, err)
	require.Len(t, ms, 5)
	seen := map[string]bool{}
	for _, m := range ms {
		for _, p := range m.Participants() {
			assert.False(t, seen[p], "%s is in two matches", p)
			seen[p] = true
		}
	}
	assert.Len(t, seen, 30)
}

func TestRegisterKeepsRating(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{InitialRating: 1200})

	p, err := h.e.Register(ctx, guild, "42", "jstn", "")
	require.NoError(t, err)
	assert.Equal(t, 1200, p.Rating)

	h.setRatings(t, map[string]int{"42": 1333})
	p, err = h.e.Register(ctx, guild, "42", "jstn.", "pro")
	require.NoError(t, err)
	assert.Equal(t, 1333, p.Rating)
	assert.Equal(t, "jstn.", p.Name)
	assert.Equal(t, "pro", p.Tier)

	_, err = h.e.Participant(ctx, guild, "nobody")
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestRegisterWithoutTierKeepsTier(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})

	_, err := h.e.Register(ctx, guild, "p1", "One", "premier")
	require.NoError(t, err)
	p, err := h.e.Register(ctx, guild, "p1", "One renamed", "")
	require.NoError(t, err)
	assert.Equal(t, "One renamed", p.Name)
	assert.Equal(t, "premier", p.Tier)

	top, err := h.e.Leaderboard(ctx, guild, 0, leaderboard.ByTier("premier"))
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "p1", top[0].Participant)
}

func TestLeaderboardTiesKeepRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{})

	for _, id := range []string{"zed", "amy", "max"} {
		_, err := h.e.Register(ctx, guild, id, "", "")
		require.NoError(t, err)
	}
	top, err := h.e.Leaderboard(ctx, guild, 0, leaderboard.Filter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(top))
	for _, e := range top {
		ids = append(ids, e.Participant)
	}
	assert.Equal(t, []string{"zed", "amy", "max"}, ids)

	_, err = h.e.Register(ctx, guild, "amy", "Amy", "")
	require.NoError(t, err)
	top, err = h.e.Leaderboard(ctx, guild, 1, leaderboard.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "zed", top[0].Participant, "re-registering keeps a participant's place")
}

// flakyDocs fails the next writes of one document.
type flakyDocs struct {
	store.Documents
	mu       sync.Mutex
	key      string
	failures int
}

func (f *flakyDocs) Set(ctx context.Context, guild, key string, value any) error {
	f.mu.Lock()
	fail := key == f.key && f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("set %s: disk full", key)
	}
	return f.Documents.Set(ctx, guild, key, value)
}

func TestFailedQueueWriteNeverDoublesMatches(t *testing.T) {
	ctx := context.Background()
	docs := &flakyDocs{Documents: store.NewMemory(), key: store.KeyQueues}
	h := setupEngineWith(t, docs, Options{}, queue.Config{ID: "duel", TeamSize: 1, Policy: queue.PolicyRandom, K: 50})

	_, err := h.e.Enqueue(ctx, guild, "duel", "p1")
	require.NoError(t, err)

	docs.failures = 1
	_, err = h.e.Enqueue(ctx, guild, "duel", "p2")
	require.Error(t, err)
	active, err := h.e.ActiveMatches(ctx, guild)
	require.NoError(t, err)
	assert.Empty(t, active, "no match is stored when its pool could not be saved")

	// p1 is still queued; p2 joins again and the pair forms once.
	res, err := h.e.Enqueue(ctx, guild, "duel", "p2")
	require.NoError(t, err)
	require.NotNil(t, res.Match)

	res, err = h.e.Enqueue(ctx, guild, "duel", "p3")
	require.NoError(t, err)
	assert.Nil(t, res.Match)
	assert.Equal(t, []string{"p3"}, res.Status.Waiting)

	active, err = h.e.ActiveMatches(ctx, guild)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStaleQueueSnapshotSkipsPlayersInMatches(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{}, queue.Config{ID: "duel", TeamSize: 1, Policy: queue.PolicyRandom, K: 50})

	res := h.fillQueue(t, "duel", "p1", "p2")
	require.NotNil(t, res)
	// A snapshot left behind by an interrupted write still lists p1.
	require.NoError(t, h.repo.SaveQueues(ctx, guild, map[string][]string{"duel": {"p1"}}))

	r, err := h.e.Enqueue(ctx, guild, "duel", "p3")
	require.NoError(t, err)
	assert.Nil(t, r.Match, "p1 cannot be drafted into a second match")
	assert.Equal(t, []string{"p3"}, r.Status.Waiting)

	active, err := h.e.ActiveMatches(ctx, guild)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEndedMatchDropsLateConfirmation(t *testing.T) {
	ctx := context.Background()
	h := setupEngine(t, Options{ResultTimeout: time.Hour})
	m, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)
	_, err = h.e.Start(ctx, guild, m.ID, Caller{ID: "staff", Admin: true})
	require.NoError(t, err)
	_, _, err = h.e.ForceResult(ctx, guild, m.ID, Caller{ID: "staff", Admin: true}, 1, 0)
	require.NoError(t, err)

	// A report accepted just before the force lands leaves a request behind.
	late, err := h.e.Verification().Propose(verify.Proposal{
		Guild:      guild,
		MatchID:    m.ID,
		Proposer:   "a",
		Responder:  "b",
		Payload:    verify.PayloadResult,
		Timeout:    time.Hour,
		OnApproved: h.e.onResultApproved,
		OnRollback: h.e.onResultRollback,
	})
	require.NoError(t, err)

	h.e.dropPending(guild, m.ID)
	assert.Equal(t, verify.TimedOut, late.Outcome())
	_, pending := h.e.Verification().Pending(m.ID)
	assert.False(t, pending)

	history, err := h.e.History(ctx, guild, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, match.StateComplete, history[0].State, "the archived result is untouched")

	// Staff cancels clear late requests the same way.
	m2, err := h.e.Challenge(ctx, guild, ChallengeRequest{SideA: []string{"a"}, SideB: []string{"b"}})
	require.NoError(t, err)
	_, _, err = h.e.Cancel(ctx, guild, m2.ID, Caller{ID: "staff", Admin: true})
	require.NoError(t, err)
	_, pending = h.e.Verification().Pending(m2.ID)
	assert.False(t, pending)
}
