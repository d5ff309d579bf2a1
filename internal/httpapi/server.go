// Package httpapi exposes the pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"go.uber.org/zap"

	"github.com/ppiankov/safetygate/internal/identity"
	"github.com/ppiankov/safetygate/internal/model"
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	textMediaType = contenttype.NewMediaType("text/plain")
)

// Evaluator produces a decision for a request.
type Evaluator interface {
	Dispatch(ctx context.Context, req model.Request) model.Decision
}

// Authenticator turns a bearer token into a verified caller.
type Authenticator interface {
	Verify(token string) (model.Caller, error)
}

// Server serves POST /v1/evaluate and GET /healthz.
type Server struct {
	eval Evaluator
	auth Authenticator
	log  *zap.Logger
	srv  *http.Server

	bodyTimeout time.Duration

	mu   sync.Mutex
	addr string
}

// Option configures a Server.
type Option func(*Server)

// WithBodyTimeout bounds how long reading one request body may take on
// the connection. It should match the pipeline's request timeout.
func WithBodyTimeout(d time.Duration) Option {
	return func(s *Server) { s.bodyTimeout = d }
}

// New creates a server listening on addr once started.
func New(addr string, eval Evaluator, auth Authenticator, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{eval: eval, auth: auth, log: log, addr: addr}
	for _, o := range opts {
		o(s)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("http.listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address. The bound port is known after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	token, err := identity.BearerToken(r.Header.Get("Authorization"))
	var caller model.Caller
	if err == nil {
		caller, err = s.auth.Verify(token)
	}
	if err != nil {
		s.log.Warn("http.unauthorized", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contentType, ok := mediaType(r)
	if !ok {
		s.log.Warn("http.content_type_unsupported", zap.String("caller_id", caller.ID))
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be text/plain or application/json")
		return
	}

	if s.bodyTimeout > 0 {
		if err := http.NewResponseController(w).SetReadDeadline(time.Now().Add(s.bodyTimeout)); err != nil {
			s.log.Debug("http.read_deadline_unsupported", zap.Error(err))
		}
	}

	q := r.URL.Query()
	dec := s.eval.Dispatch(r.Context(), model.Request{
		Caller:        caller,
		SessionHint:   q.Get("session"),
		Body:          r.Body,
		ContentLength: r.ContentLength,
		ContentType:   contentType,
		Boundaries:    q["boundary"],
	})

	status := http.StatusOK
	if dec.Outcome == model.Block {
		status = http.StatusForbidden
	}
	writeJSON(w, status, dec.Public())
}

// mediaType accepts text/plain and application/json. A missing header
// is treated as text/plain.
func mediaType(r *http.Request) (string, bool) {
	if r.Header.Get("Content-Type") == "" {
		return "text/plain", true
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil {
		return "", false
	}
	switch {
	case ctype.Matches(jsonMediaType):
		return "application/json", true
	case ctype.Matches(textMediaType):
		return "text/plain", true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
