package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"backtesting-broker/internal/config"
)

// Handlers serves the progress API: a health probe carrying run progress,
// a one-shot JSON snapshot, and the WebSocket feed.
type Handlers struct {
	provider RunSnapshotProvider
	hub      *Hub
	origins  *originPolicy
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance. The origin allowlist is
// normalized once here rather than re-parsed per upgrade request.
func NewHandlers(provider RunSnapshotProvider, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		hub:      hub,
		origins:  newOriginPolicy(cfg.AllowedOrigins),
		logger:   logger.With("component", "dashboard-handlers"),
	}
}

// HandleHealth reports liveness plus how far through [start, end] the
// simulated clock has advanced, so a probe doubles as a progress check.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"progress": h.provider.RunSnapshot().Progress,
	})
}

// HandleSnapshot returns the current run state
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := h.provider.RunSnapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

// HandleWebSocket upgrades the connection, subscribes it to the hub (which
// replays the event backlog), and sends a snapshot frame so the client has
// the full run state before live events resume.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.allow,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := h.hub.Subscribe(conn)
	h.hub.Send(client, SnapshotEvent(h.provider.RunSnapshot()))
}

// originPolicy decides which browser origins may open the progress
// socket. With no configured allowlist the dashboard is treated as an
// operator-local tool: only loopback origins are accepted, along with
// requests carrying no Origin header at all (non-browser clients). A
// configured allowlist replaces that default entirely.
type originPolicy struct {
	allowed map[string]struct{} // normalized scheme://host[:port]
}

func newOriginPolicy(allowedOrigins []string) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, raw := range allowedOrigins {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		p.allowed[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
	}
	return p
}

func (p *originPolicy) allow(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
