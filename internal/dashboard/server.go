// Package dashboard serves a live progress feed for a running backtest:
// order-lifecycle events and equity-curve samples stream over WebSocket
// to any connected browser, with a JSON snapshot endpoint for one-shot
// polling and a small embedded page that renders it all. A months-long
// minute-bar simulation takes real wall-clock time, and this is how an
// operator watches it without tailing logs.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"backtesting-broker/internal/config"
)

// Server runs the HTTP/WebSocket progress API
type Server struct {
	cfg      config.DashboardConfig
	provider RunSnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new dashboard server
func NewServer(cfg config.DashboardConfig, provider RunSnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.HandleFunc("/", serveIndex)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "dashboard-server"),
	}
}

// Start consumes the run's event feed and serves HTTP until Stop.
func (s *Server) Start() error {
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, ending every client connection first.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents broadcasts the run's progress events until the channel
// closes (end of run), then closes the hub so every client receives its
// remaining frames and a normal-closure frame.
func (s *Server) consumeEvents() {
	eventsCh := s.provider.Events()
	if eventsCh == nil {
		return
	}

	for evt := range eventsCh {
		s.hub.Broadcast(evt)
	}
	s.hub.Close()
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

// indexHTML is the embedded progress page: a progress bar, the cash and
// portfolio-value read-outs, and a rolling list of order events, all fed
// from /ws with /api/snapshot as the initial state.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Backtest Progress</title>
<style>
  body { font-family: ui-monospace, monospace; margin: 2rem; background: #111; color: #ddd; }
  h1 { font-size: 1.1rem; }
  #bar { width: 100%; height: 12px; background: #333; border-radius: 6px; }
  #fill { height: 100%; width: 0; background: #4a9; border-radius: 6px; }
  table { border-collapse: collapse; margin-top: 1rem; }
  td, th { padding: 2px 12px; text-align: left; }
  #events { margin-top: 1rem; max-height: 320px; overflow-y: auto; font-size: 0.85rem; }
  .canceled { color: #b66; }
  .filled { color: #6b9; }
</style>
</head>
<body>
<h1>Backtest Progress <span id="state"></span></h1>
<div id="bar"><div id="fill"></div></div>
<table>
  <tr><th>Simulated time</th><td id="sim"></td></tr>
  <tr><th>Cash</th><td id="cash"></td></tr>
  <tr><th>Portfolio value</th><td id="value"></td></tr>
  <tr><th>Orders filled / canceled / open</th><td id="orders"></td></tr>
</table>
<div id="events"></div>
<script>
function snapshot(s) {
  document.getElementById("fill").style.width = (100 * s.progress).toFixed(1) + "%";
  document.getElementById("sim").textContent = s.simulated_time;
  document.getElementById("cash").textContent = s.cash.toFixed(2);
  document.getElementById("value").textContent = s.portfolio_value.toFixed(2);
  document.getElementById("orders").textContent =
    s.orders_filled + " / " + s.orders_canceled + " / " + s.orders_open;
}
function orderLine(t, o) {
  const div = document.createElement("div");
  div.textContent = t + "  " + o.event + "  " + o.side + " " + o.quantity + " " +
    o.asset + (o.price ? " @ " + o.price : "");
  div.className = o.event === "FILLED_ORDER" ? "filled" :
    o.event === "CANCELED_ORDER" ? "canceled" : "";
  const log = document.getElementById("events");
  log.prepend(div);
  while (log.childElementCount > 200) log.removeChild(log.lastChild);
}
fetch("/api/snapshot").then(r => r.json()).then(snapshot);
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = e => {
  const evt = JSON.parse(e.data);
  if (evt.type === "snapshot") snapshot(evt.data);
  else if (evt.type === "order") orderLine(evt.simulated_time, evt.data);
  else if (evt.type === "equity") {
    document.getElementById("cash").textContent = evt.data.cash.toFixed(2);
    document.getElementById("value").textContent = evt.data.portfolio_value.toFixed(2);
  }
};
ws.onclose = () => { document.getElementById("state").textContent = "(complete)"; };
</script>
</body>
</html>
`
