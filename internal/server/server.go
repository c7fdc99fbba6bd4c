// Package server exposes the HTTP surface: the webhook endpoint fed by the
// platform's push mechanism, health probes, and webhook management helpers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"modbot/internal/transport"
	"modbot/pkg/logx"
)

const maxUpdateBody = 1 << 20 // Telegram updates are small; 1MB is generous

type Config struct {
	ListenAddr string
	// Token is the path secret: updates are accepted on /webhook/{token} only.
	Token string
}

// Decoder turns a raw webhook body into a transport update.
type Decoder interface {
	DecodeUpdate(raw []byte) (transport.Update, bool)
}

// WebhookManager registers/unregisters the push endpoint with the platform.
type WebhookManager interface {
	SetWebhook(ctx context.Context) (string, error)
	DeleteWebhook(ctx context.Context) error
}

type Server struct {
	cfg     Config
	log     logx.Logger
	dec     Decoder
	hooks   WebhookManager
	enqueue func(transport.Update) bool

	srv *http.Server
}

func New(cfg Config, dec Decoder, hooks WebhookManager, enqueue func(transport.Update) bool, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, dec: dec, hooks: hooks, enqueue: enqueue}

	r := chi.NewRouter()
	r.Use(s.recoverJSON)
	r.Use(s.requestLog)

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Post("/webhook/{token}", s.handleWebhook)
	r.Get("/set_webhook", s.handleSetWebhook)
	r.Get("/delete_webhook", s.handleDeleteWebhook)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start(ctx context.Context) {
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.ListenAddr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "🤖 Telegram Bot is running!")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "modbot"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "token") != s.cfg.Token {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBody))
	if err != nil {
		s.log.Warn("webhook body read failed", logx.Err(err))
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}

	up, ok := s.dec.DecodeUpdate(body)
	if !ok {
		// Unrecognized update kinds are dropped; 200 keeps Telegram from
		// redelivering them forever.
		_, _ = io.WriteString(w, "ok")
		return
	}
	if !s.enqueue(up) {
		s.log.Warn("update dropped at webhook (queue full)")
	}
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	url, err := s.hooks.SetWebhook(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "webhook_url": url})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.hooks.DeleteWebhook(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLog logs each request with method, path and duration. Webhook spam
// stays at debug.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		path := r.URL.Path
		if strings.HasPrefix(path, "/webhook/") {
			path = "/webhook/<token>" // never log the secret
		}
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", path),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

// recoverJSON turns a handler panic into a logged JSON 500.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in http handler", logx.Any("panic", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
