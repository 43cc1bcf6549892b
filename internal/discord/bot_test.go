package discord

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/verify"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	channel, content string
}

type fakeSession struct {
	mu        sync.Mutex
	messages  []sent
	reactions map[string][]string
	next      int
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.messages = append(f.messages, sent{channelID, content})
	return &discordgo.Message{ID: fmt.Sprintf("m%d", f.next), ChannelID: channelID}, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) MessageReactionAdd(_, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions == nil {
		f.reactions = map[string][]string{}
	}
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

type response struct {
	guild   string
	matchID uuid.UUID
	caller  engine.Caller
	approve bool
}

type fakeEngine struct {
	responses []response
	abandoned []string
	err       error
	timedOut  []uuid.UUID
}

func (f *fakeEngine) Respond(_ context.Context, guild string, matchID uuid.UUID, caller engine.Caller, approve bool) (verify.Outcome, error) {
	f.responses = append(f.responses, response{guild, matchID, caller, approve})
	if f.err != nil {
		return verify.Pending, f.err
	}
	if approve {
		return verify.Approved, nil
	}
	return verify.Rejected, nil
}

func (f *fakeEngine) Abandon(_ context.Context, guild, participant string) ([]uuid.UUID, error) {
	f.abandoned = append(f.abandoned, guild+"/"+participant)
	return f.timedOut, nil
}

func newBot(eng *fakeEngine) (*Bot, *fakeSession) {
	logger, _ := test.NewNullLogger()
	s := &fakeSession{}
	return New(s, eng, notify.NewCatalog(), map[string]string{"g1": "chan-1"}, logger), s
}

func TestNotifyRouting(t *testing.T) {
	b, s := newBot(&fakeEngine{})
	ctx := context.Background()

	require.NoError(t, b.Notify(ctx, notify.Notification{Guild: "g1", Template: notify.MatchCancelled, Args: map[string]any{"match": "x"}}))
	require.NoError(t, b.Notify(ctx, notify.Notification{Guild: "g2", Template: notify.MatchCancelled}))
	require.NoError(t, b.Notify(ctx, notify.Notification{Guild: "g2", Recipient: "u1", Template: notify.MatchCancelled, Args: map[string]any{"match": "y"}}))

	assert.Equal(t, []sent{
		{"chan-1", "Match x was cancelled."},
		{"dm-u1", "<@u1> Match y was cancelled."},
	}, s.messages)
	assert.Empty(t, s.reactions)
	assert.Error(t, b.Notify(ctx, notify.Notification{Guild: "g1", Template: "unknown"}))
}

func TestPromptReactionResponds(t *testing.T) {
	eng := &fakeEngine{}
	b, s := newBot(eng)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, b.Notify(ctx, notify.Notification{
		Guild: "g1", Recipient: "u2", Template: notify.VerifyResultPrompt,
		Args: map[string]any{"match": id.String(), "proposer": "u1", "wins_a": 2, "wins_b": 0, "timeout": "5m0s"},
	}))
	require.Len(t, s.messages, 1)
	assert.Equal(t, []string{ApproveEmoji, RejectEmoji}, s.reactions["m1"])
	assert.Equal(t, 1, b.Prompts())

	b.React(ctx, "m1", "u1", ApproveEmoji)
	b.React(ctx, "m1", "u2", "🎉")
	assert.Empty(t, eng.responses, "only the responder's approve or reject counts")

	b.React(ctx, "m1", "u2", RejectEmoji)
	require.Len(t, eng.responses, 1)
	assert.Equal(t, response{"g1", id, engine.Caller{ID: "u2"}, false}, eng.responses[0])
	assert.Zero(t, b.Prompts())
}

func TestStaleReactionIsExplained(t *testing.T) {
	eng := &fakeEngine{err: match.NewError(match.StaleState, "this request was already answered")}
	b, s := newBot(eng)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, b.Notify(ctx, notify.Notification{
		Guild: "g1", Recipient: "u2", Template: notify.VerifyStartPrompt,
		Args: map[string]any{"match": id.String()},
	}))
	b.React(ctx, "m1", "u2", ApproveEmoji)

	require.Len(t, s.messages, 2)
	assert.Equal(t, sent{"dm-u2", "this request was already answered"}, s.messages[1])
	assert.Zero(t, b.Prompts())
}

func TestSettlementForgetsPrompts(t *testing.T) {
	b, _ := newBot(&fakeEngine{})
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, b.Notify(ctx, notify.Notification{
		Guild: "g1", Recipient: "u2", Template: notify.VerifyStartPrompt, Args: map[string]any{"match": id.String()},
	}))
	require.Equal(t, 1, b.Prompts())
	require.NoError(t, b.Notify(ctx, notify.Notification{
		Guild: "g1", Recipient: "u1", Template: notify.VerifyTimedOut, Args: map[string]any{"match": id.String(), "payload": "start"},
	}))
	assert.Zero(t, b.Prompts())
}

func TestMemberLeftAbandons(t *testing.T) {
	id := uuid.New()
	eng := &fakeEngine{timedOut: []uuid.UUID{id}}
	b, _ := newBot(eng)
	ctx := context.Background()

	require.NoError(t, b.Notify(ctx, notify.Notification{
		Guild: "g1", Recipient: "u2", Template: notify.VerifyStartPrompt, Args: map[string]any{"match": id.String()},
	}))
	b.onMemberRemove(nil, &discordgo.GuildMemberRemove{Member: &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u2"}}})

	assert.Equal(t, []string{"g1/u2"}, eng.abandoned)
	assert.Zero(t, b.Prompts())
}
