// internal/notify/notify.go
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"

	"github.com/sirupsen/logrus"
)

// Template ids emitted by the engine.
const (
	QueueJoined        = "queue.joined"
	QueueLeft          = "queue.left"
	MatchFormed        = "match.formed"
	MatchDraftTurn     = "match.draft_turn"
	MatchStarted       = "match.started"
	MatchCompleted     = "match.completed"
	MatchCancelled     = "match.cancelled"
	VerifyStartPrompt  = "verify.start_prompt"
	VerifyResultPrompt = "verify.result_prompt"
	VerifyCancelPrompt = "verify.cancel_prompt"
	VerifyApproved     = "verify.approved"
	VerifyRejected     = "verify.rejected"
	VerifyTimedOut     = "verify.timed_out"
)

// Notification asks a delivery channel to tell Recipient something. An empty
// Recipient addresses the guild's match channel.
type Notification struct {
	Guild     string         `json:"guild"`
	Recipient string         `json:"recipient,omitempty"`
	Template  string         `json:"template"`
	Args      map[string]any `json:"args,omitempty"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range f {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var defaultTemplates = map[string]string{
	QueueJoined:        `{{.participant}} joined {{.queue}} ({{.waiting}}/{{.capacity}})`,
	QueueLeft:          `{{.participant}} left {{.queue}} ({{.waiting}}/{{.capacity}})`,
	MatchFormed:        `Match {{.match}} formed in {{.queue}}. Lobby {{.room_name}} / {{.room_pass}}`,
	MatchDraftTurn:     `Side {{.side}} to pick. Captain {{.captain}}, available: {{join .remaining ", "}}`,
	MatchStarted:       `Match {{.match}} has started. Report the result once it is over.`,
	MatchCompleted:     `Match {{.match}} complete: {{.wins_a}}-{{.wins_b}}.{{range .changes}} {{.ParticipantID}} {{.Old}}->{{.New}}{{end}}`,
	MatchCancelled:     `Match {{.match}} was cancelled.`,
	VerifyStartPrompt:  `{{.proposer}} wants to start match {{.match}}. Accept within {{.timeout}}?`,
	VerifyResultPrompt: `{{.proposer}} reported {{.wins_a}}-{{.wins_b}} for match {{.match}}. Confirm within {{.timeout}}?`,
	VerifyCancelPrompt: `{{.proposer}} wants to cancel match {{.match}}. Agree within {{.timeout}}?`,
	VerifyApproved:     `The {{.payload}} of match {{.match}} was confirmed.`,
	VerifyRejected:     `The {{.payload}} of match {{.match}} was rejected.`,
	VerifyTimedOut:     `Nobody answered the {{.payload}} request for match {{.match}} in time.`,
}

// Catalog renders notifications as plain text.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// NewCatalog returns a catalog with the default templates.
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]*template.Template)}
	for id, text := range defaultTemplates {
		if err := c.Register(id, text); err != nil {
			panic(err)
		}
	}
	return c
}

var funcs = template.FuncMap{
	"join": func(items []string, sep string) string {
		var b bytes.Buffer
		for i, s := range items {
			if i > 0 {
				b.WriteString(sep)
			}
			b.WriteString(s)
		}
		return b.String()
	},
}

// Register adds or replaces the template for id.
func (c *Catalog) Register(id, text string) error {
	t, err := template.New(id).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", id, err)
	}
	c.mu.Lock()
	c.templates[id] = t
	c.mu.Unlock()
	return nil
}

// Render produces the text of n.
func (c *Catalog) Render(n Notification) (string, error) {
	c.mu.RLock()
	t, ok := c.templates[n.Template]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", n.Template)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, n.Args); err != nil {
		return "", fmt.Errorf("render %s: %w", n.Template, err)
	}
	return buf.String(), nil
}

// LogNotifier writes every notification to a logger.
type LogNotifier struct {
	Logger  logrus.FieldLogger
	Catalog *Catalog
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	entry := l.Logger.WithFields(logrus.Fields{
		"guild":     n.Guild,
		"recipient": n.Recipient,
		"template":  n.Template,
	})
	if l.Catalog == nil {
		entry.Info("notification")
		return nil
	}
	text, err := l.Catalog.Render(n)
	if err != nil {
		return err
	}
	entry.Info(text)
	return nil
}
