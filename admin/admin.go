// Package admin exposes the read-only HTTP surface of a kvrelay node:
// a server-sent-events feed of command events, a status snapshot, and
// the recent hot-key alerts. It observes the engine through the broker
// only and never touches the store, WAL, or cluster relay.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mickamy/kvrelay/broker"
	"github.com/mickamy/kvrelay/hotkey"
)

// maxAlerts bounds the hot-key alert ring.
const maxAlerts = 64

// Status is the point-in-time node snapshot served at /api/status.
type Status struct {
	Addr      string `json:"addr"`
	ReadOnly  bool   `json:"read_only"`
	Keys      int    `json:"keys"`
	Followers int    `json:"followers"`
	WALPath   string `json:"wal_path"`
	UptimeS   int64  `json:"uptime_s"`
}

// StatusFunc produces the current Status; supplied by the process
// wiring, which is the only place that can see the engine and its
// configuration together.
type StatusFunc func() Status

// Server serves the kvrelay admin API.
type Server struct {
	httpServer *http.Server
	broker     *broker.Broker
	status     StatusFunc

	mu     sync.Mutex
	alerts []alertJSON
}

// New creates a new admin Server backed by the given Broker. logDst
// receives an access-log line per request in Apache combined format.
func New(b *broker.Broker, status StatusFunc, logDst io.Writer) *Server {
	s := &Server{
		broker: b,
		status: status,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/events", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/hotkeys", s.handleHotKeys).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}))(handler)
	if logDst != nil {
		handler = handlers.CombinedLoggingHandler(logDst, handler)
	}

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// RecordAlert appends a hot-key alert to the ring served at
// /api/hotkeys, dropping the oldest entry once the ring is full.
func (s *Server) RecordAlert(a hotkey.Alert, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alertJSON{
		Key:   a.Key,
		Count: a.Count,
		Time:  at.Format(time.RFC3339Nano),
	})
	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-maxAlerts:]
	}
}

type eventJSON struct {
	Seq      uint64 `json:"seq"`
	Time     string `json:"time"`
	ConnID   string `json:"conn_id,omitempty"`
	Op       string `json:"op"`
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	Mutated  bool   `json:"mutated"`
	NilReply bool   `json:"nil_reply"`
	Hot      bool   `json:"hot,omitempty"`
}

type alertJSON struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
	Time  string `json:"time"`
}

func eventToJSON(ev broker.Event) eventJSON {
	return eventJSON{
		Seq:      ev.Seq,
		Time:     ev.Time.Format(time.RFC3339Nano),
		ConnID:   ev.ConnID,
		Op:       ev.Op.String(),
		Key:      ev.Key,
		Value:    ev.Value,
		Mutated:  ev.Mutated,
		NilReply: ev.NilReply,
		Hot:      ev.Hot,
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush() // send headers immediately

	ch, unsub := s.broker.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleHotKeys(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	alerts := make([]alertJSON, len(s.alerts))
	copy(alerts, s.alerts)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, alerts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
