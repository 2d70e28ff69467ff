// Package websocket fans stored probe results out to connected dashboards.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/model"
)

// TypeResponseUpserted is sent whenever a probe result is stored.
const TypeResponseUpserted = "response_upserted"

// Message is one status notification, delivered only to the feeds of the
// user who owns the site.
type Message struct {
	Type       string    `json:"type"`
	SiteID     int64     `json:"site_id"`
	UserID     int64     `json:"user_id"`
	URL        string    `json:"url"`
	ResponseID int64     `json:"response_id"`
	StatusCode int       `json:"status_code"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewResponseMessage describes resp as observed for site.
func NewResponseMessage(site model.Site, resp *model.Response) Message {
	return Message{
		Type:       TypeResponseUpserted,
		SiteID:     site.ID,
		UserID:     site.UserID,
		URL:        site.URL,
		ResponseID: resp.ID,
		StatusCode: resp.StatusCode,
		UpdatedAt:  resp.UpdatedAt,
	}
}

// Hub tracks live clients and routes each message to its owner's clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client connected", zap.Int64("user_id", c.userID), zap.Int("clients", n))
}

// Unregister drops c and closes its send channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws client disconnected", zap.Int("clients", n))
}

// Broadcast queues msg for every client of msg.UserID. Clients with a full
// buffer miss it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID != msg.UserID {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws client lagging, message dropped", zap.String("type", msg.Type))
		}
	}
}

// ResponseRecorded lets the hub act as the scheduler's notifier.
func (h *Hub) ResponseRecorded(site model.Site, resp *model.Response) {
	h.Broadcast(NewResponseMessage(site, resp))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
