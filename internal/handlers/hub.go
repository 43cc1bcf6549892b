// internal/handlers/hub.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/ladder/internal/middleware"
	"github.com/jason-s-yu/ladder/internal/notify"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol spoken on the event stream.
const Subprotocol = "ladder"

// BadSubprotocolError closes connections that do not speak Subprotocol.
const BadSubprotocolError = 3000

// Event is one notification as sent on the stream.
type Event struct {
	notify.Notification
	Text string `json:"text,omitempty"`
}

type subscriber struct {
	participant string
	// staff receive every notification of the guild, not only their own
	staff bool
	out   chan []byte
}

func (s *subscriber) wants(n notify.Notification) bool {
	return n.Recipient == "" || s.staff || n.Recipient == s.participant
}

// Hub streams notifications to websocket subscribers of a guild. It is a
// notify.Notifier.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	catalog *notify.Catalog
	logger  *logrus.Logger
}

// NewHub creates a hub that renders text with catalog. catalog may be nil.
func NewHub(catalog *notify.Catalog, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		catalog: catalog,
		logger:  logger,
	}
}

// Notify queues n for every interested subscriber. Slow subscribers miss
// notifications rather than block the engine.
func (h *Hub) Notify(_ context.Context, n notify.Notification) error {
	ev := Event{Notification: n}
	if h.catalog != nil {
		if text, err := h.catalog.Render(n); err == nil {
			ev.Text = text
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[n.Guild] {
		if !s.wants(n) {
			continue
		}
		select {
		case s.out <- data:
		default:
			h.logger.WithFields(logrus.Fields{
				"guild":       n.Guild,
				"participant": s.participant,
				"template":    n.Template,
			}).Warn("dropping notification for slow subscriber")
		}
	}
	return nil
}

// Subscribers returns how many connections follow guild.
func (h *Hub) Subscribers(guild string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[guild])
}

func (h *Hub) subscribe(guild string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[guild] == nil {
		h.subs[guild] = make(map[*subscriber]struct{})
	}
	h.subs[guild][s] = struct{}{}
}

func (h *Hub) unsubscribe(guild string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[guild], s)
	if len(h.subs[guild]) == 0 {
		delete(h.subs, guild)
	}
}

// ServeGuild upgrades the request and streams the guild's notifications
// until the client goes away. The route must sit behind RequireToken.
func (h *Hub) ServeGuild(w http.ResponseWriter, r *http.Request) {
	guild := chi.URLParam(r, "guild")
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the ladder subprotocol")
		return
	}

	s := &subscriber{participant: id.Subject, staff: id.Admin, out: make(chan []byte, 32)}
	h.subscribe(guild, s)
	defer h.unsubscribe(guild, s)
	middleware.LogWebSocketConnect(h.logger, r.RemoteAddr, guild)

	// The stream is one-way; CloseRead handles control frames and cancels
	// ctx once the client closes.
	ctx := c.CloseRead(r.Context())
	err = writePump(ctx, c, s.out)
	middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, guild, err)
}

// writePump sends queued events and pings until ctx ends or a write fails.
func writePump(ctx context.Context, c *websocket.Conn, out <-chan []byte) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return nil
		case data := <-out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
