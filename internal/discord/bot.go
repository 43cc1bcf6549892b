// Package discord delivers notifications to a Discord guild and turns
// reactions on confirmation prompts into verification responses.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/jason-s-yu/ladder/internal/verify"
	"github.com/sirupsen/logrus"
)

// Reactions added to every confirmation prompt.
const (
	ApproveEmoji = "✅"
	RejectEmoji  = "❌"
)

// handlerTimeout bounds the engine work done for one gateway event.
const handlerTimeout = 30 * time.Second

// Session is the part of *discordgo.Session the bot uses.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// Engine is what the bot drives.
type Engine interface {
	Respond(ctx context.Context, guild string, matchID uuid.UUID, caller engine.Caller, approve bool) (verify.Outcome, error)
	Abandon(ctx context.Context, guild, participant string) ([]uuid.UUID, error)
}

// prompt is a confirmation message waiting for its responder's reaction.
type prompt struct {
	guild     string
	matchID   uuid.UUID
	responder string
	channelID string
}

// Bot is a notify.Notifier backed by Discord.
type Bot struct {
	session  Session
	engine   Engine
	catalog  *notify.Catalog
	channels map[string]string
	logger   *logrus.Logger

	mu      sync.Mutex
	prompts map[string]prompt // by message id
}

// New creates a bot. channels maps guild ids to the channel that receives
// guild-wide notifications; guilds without one only get direct messages.
func New(session Session, eng Engine, catalog *notify.Catalog, channels map[string]string, logger *logrus.Logger) *Bot {
	if catalog == nil {
		catalog = notify.NewCatalog()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bot{
		session:  session,
		engine:   eng,
		catalog:  catalog,
		channels: channels,
		logger:   logger,
		prompts:  make(map[string]prompt),
	}
}

// Connect opens a gateway session for token and registers the bot's event
// handlers on it.
func Connect(token string, eng Engine, catalog *notify.Catalog, channels map[string]string, logger *logrus.Logger) (*Bot, *discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create discord session: %w", err)
	}
	s.Identify.Intents |= discordgo.IntentGuilds
	s.Identify.Intents |= discordgo.IntentGuildMembers
	s.Identify.Intents |= discordgo.IntentGuildMessageReactions
	s.Identify.Intents |= discordgo.IntentDirectMessageReactions

	b := New(s, eng, catalog, channels, logger)
	s.AddHandler(b.onReactionAdd)
	s.AddHandler(b.onMemberRemove)
	if err := s.Open(); err != nil {
		return nil, nil, fmt.Errorf("could not open discord session: %w", err)
	}
	return b, s, nil
}

func isPrompt(template string) bool {
	switch template {
	case notify.VerifyStartPrompt, notify.VerifyResultPrompt, notify.VerifyCancelPrompt:
		return true
	}
	return false
}

func isSettlement(template string) bool {
	switch template {
	case notify.VerifyApproved, notify.VerifyRejected, notify.VerifyTimedOut:
		return true
	}
	return false
}

// Notify sends n to its recipient by direct message, or to the guild's
// channel when n has no recipient.
func (b *Bot) Notify(_ context.Context, n notify.Notification) error {
	text, err := b.catalog.Render(n)
	if err != nil {
		return err
	}

	var channelID string
	if n.Recipient == "" {
		channelID = b.channels[n.Guild]
		if channelID == "" {
			return nil
		}
	} else {
		ch, err := b.session.UserChannelCreate(n.Recipient)
		if err != nil {
			return fmt.Errorf("open dm with %s: %w", n.Recipient, err)
		}
		channelID = ch.ID
		text = fmt.Sprintf("<@%s> %s", n.Recipient, text)
	}

	msg, err := b.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return fmt.Errorf("send %s: %w", n.Template, err)
	}

	matchID, _ := uuid.Parse(fmt.Sprint(n.Args["match"]))
	switch {
	case isPrompt(n.Template) && n.Recipient != "" && matchID != uuid.Nil:
		b.track(msg.ID, prompt{guild: n.Guild, matchID: matchID, responder: n.Recipient, channelID: channelID})
		for _, emoji := range []string{ApproveEmoji, RejectEmoji} {
			if err := b.session.MessageReactionAdd(channelID, msg.ID, emoji); err != nil {
				return fmt.Errorf("add reaction: %w", err)
			}
		}
	case isSettlement(n.Template) && matchID != uuid.Nil:
		b.forget(matchID)
	}
	return nil
}

func (b *Bot) track(messageID string, p prompt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts[messageID] = p
}

// forget drops every prompt of matchID.
func (b *Bot) forget(matchID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.prompts {
		if p.matchID == matchID {
			delete(b.prompts, id)
		}
	}
}

// Prompts returns how many prompts await a reaction.
func (b *Bot) Prompts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

func (b *Bot) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if s.State != nil && s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	b.React(ctx, r.MessageID, r.UserID, r.Emoji.Name)
}

// React handles userID reacting with emoji on messageID. Only the prompt's
// responder is heard; other reactions are ignored.
func (b *Bot) React(ctx context.Context, messageID, userID, emoji string) {
	if emoji != ApproveEmoji && emoji != RejectEmoji {
		return
	}
	b.mu.Lock()
	p, ok := b.prompts[messageID]
	b.mu.Unlock()
	if !ok || p.responder != userID {
		return
	}

	entry := b.logger.WithFields(logrus.Fields{"guild": p.guild, "match": p.matchID, "participant": userID})
	_, err := b.engine.Respond(ctx, p.guild, p.matchID, engine.Caller{ID: userID}, emoji == ApproveEmoji)
	if err == nil {
		b.forget(p.matchID)
		return
	}
	if code, ok := match.CodeOf(err); ok && code == match.StaleState {
		b.forget(p.matchID)
	}
	entry.WithError(err).Info("reaction could not be applied")
	if _, serr := b.session.ChannelMessageSend(p.channelID, match.UserMessage(err)); serr != nil {
		entry.WithError(serr).Warn("failed to explain rejected reaction")
	}
}

func (b *Bot) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	b.MemberLeft(ctx, m.GuildID, m.User.ID)
}

// MemberLeft removes a departed member from the guild's queues and times out
// confirmations waiting on them.
func (b *Bot) MemberLeft(ctx context.Context, guild, userID string) {
	ids, err := b.engine.Abandon(ctx, guild, userID)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{"guild": guild, "participant": userID}).Error("failed to handle departed member")
		return
	}
	for _, id := range ids {
		b.forget(id)
	}
}
