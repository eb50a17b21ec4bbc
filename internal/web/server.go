// Package web exposes the engine over HTTP: a JSON API for patterns, runs,
// recovery, and schedules, plus a WebSocket feed of live events.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/eventbus"
	"github.com/akontos/syntonia/internal/executor"
	"github.com/akontos/syntonia/internal/monitor"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/recovery"
	"github.com/akontos/syntonia/internal/store"
	"github.com/akontos/syntonia/internal/validation"
)

type Server struct {
	store     *store.Store
	bus       *eventbus.Client
	registry  *pattern.Registry
	exec      *executor.Executor
	mon       *monitor.Monitor
	validator *validation.Engine
	rec       *recovery.Manager
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

func NewServer(s *store.Store, bus *eventbus.Client, reg *pattern.Registry, exec *executor.Executor, mon *monitor.Monitor, val *validation.Engine, rec *recovery.Manager, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		bus:       bus,
		registry:  reg,
		exec:      exec,
		mon:       mon,
		validator: val,
		rec:       rec,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.subscribeEvents(ctx)

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if !s.checkAuth(w, r) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts either a bearer token or the Basic Auth password.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Auth)) == 1 {
			return true
		}
	}
	if _, pass, ok := r.BasicAuth(); ok {
		if subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1 {
			return true
		}
	}

	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// subscribeEvents feeds the WebSocket hub. With a bus connected it mirrors
// every event topic; otherwise it drains the monitor's subscription directly.
func (s *Server) subscribeEvents(ctx context.Context) {
	if s.bus != nil {
		forward := func(msg *nats.Msg) {
			var payload any
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				slog.Warn("invalid event payload", "topic", msg.Subject, "error", err)
				return
			}
			s.hub.Broadcast(Event{Type: msg.Subject, Payload: payload})
		}
		for _, topic := range []string{eventbus.TopicEventsAll, eventbus.TopicMetricsAll} {
			if _, err := s.bus.Subscribe(topic, forward); err != nil {
				slog.Error("web event subscription failed", "topic", topic, "error", err)
			}
		}
		return
	}

	if s.mon == nil {
		return
	}
	events, cancel := s.mon.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.hub.Broadcast(Event{Type: string(ev.Type), Payload: ev})
			}
		}
	}()
}
