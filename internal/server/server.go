// Package server exposes the player over HTTP: a JSON control API, a
// websocket event stream and the Prometheus endpoint.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reel/internal/catalog"
	"github.com/zsiec/reel/internal/ingest"
	"github.com/zsiec/reel/internal/ingest/srt"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/player"
)

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// Config wires a Server. Player is required; the rest may be nil.
type Config struct {
	Addr    string
	Player  *player.Machine
	Ingest  *ingest.Registry
	Pulls   Pulls
	Metrics *metrics.Metrics
	Log     *slog.Logger

	// TLS, when set, serves HTTPS.
	TLS *tls.Config
}

// Pulls lists and stops outbound network pulls. *srt.Caller implements it.
type Pulls interface {
	ActivePulls() []string
	Stop(uri string) error
}

// Server is the control API.
type Server struct {
	addr    string
	player  *player.Machine
	ingest  *ingest.Registry
	pulls   Pulls
	metrics *metrics.Metrics
	tls     *tls.Config
	hub     *Hub
	log     *slog.Logger

	unsubscribe func()
}

// New creates a server and subscribes its event hub to the player.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr:    cfg.Addr,
		player:  cfg.Player,
		ingest:  cfg.Ingest,
		pulls:   cfg.Pulls,
		metrics: cfg.Metrics,
		tls:     cfg.TLS,
		log:     log.With("component", "server"),
	}
	s.hub = NewHub(s.snapshotEvents, log)
	s.unsubscribe = s.player.Subscribe(s.hub.Publish)
	return s
}

// Hub returns the websocket event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	// Upgraded connections bypass the response wrappers below.
	r.Get("/api/events", s.hub.ServeHTTP)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(requestID)
		r.Use(s.requestLogger)
		if s.metrics != nil {
			r.Use(s.metrics.RequestMiddleware)
		}
		r.Get("/api/state", s.handleState)
		r.Get("/api/catalog", s.handleCatalog)
		r.Get("/api/ingest", s.handleIngest)
		r.Get("/api/ingest/pulls", s.handlePulls)
		r.Delete("/api/ingest/pulls", s.handleStopPull)
		r.Post("/api/open", s.handleOpen)
		r.Post("/api/play", s.handlePlay)
		r.Post("/api/pause", s.handlePause)
		r.Post("/api/stop", s.handleStop)
		r.Post("/api/streams/{kind}/{index}", s.handleSwitchStream)
		r.Post("/api/programs/{id}", s.handleSwitchProgram)
		r.Put("/api/read-timeout", s.handleReadTimeout)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts the listener down,
// disconnects event clients and unsubscribes from the player.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.tls,
	}
	defer s.unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("control API listening", "addr", s.addr, "tls", s.tls != nil)
		var err error
		if s.tls != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) snapshotEvents() []player.Event {
	now := time.Now()
	snap := s.player.Catalog()
	return []player.Event{
		{Kind: player.EventState, State: s.player.State(), At: now},
		{Kind: player.EventStreams, Streams: snap.Streams, At: now},
		{Kind: player.EventPrograms, Programs: snap.Programs, At: now},
	}
}

func (s *Server) stateInfo() StateInfo {
	info := StateInfo{
		State:       s.player.State(),
		Desired:     s.player.DesiredState(),
		Video:       s.player.ActiveStream(media.KindVideo),
		Audio:       s.player.ActiveStream(media.KindAudio),
		ReadTimeout: durationString(s.player.ReadTimeout()),
	}
	if src, ok := s.player.Source(); ok {
		info.Source = &SourceInfo{URI: src.URI, Kind: src.Kind.String()}
		if src.ReadTimeout > 0 {
			info.Source.ReadTimeout = src.ReadTimeout.String()
		}
	}
	return info
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stateInfo())
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogInfo(s.player.Catalog()))
}

func (s *Server) handleIngest(w http.ResponseWriter, _ *http.Request) {
	if s.ingest == nil {
		writeJSON(w, http.StatusOK, []ingest.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.ingest.List())
}

func (s *Server) handlePulls(w http.ResponseWriter, _ *http.Request) {
	if s.pulls == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.pulls.ActivePulls())
}

func (s *Server) handleStopPull(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	if s.pulls == nil {
		writeError(w, http.StatusNotFound, srt.ErrNoPull.Error())
		return
	}
	if err := s.pulls.Stop(uri); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src, err := sourceFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.control(w, r, func(ctx context.Context) error { return s.player.Open(ctx, src) })
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.player.Play)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.player.Pause)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.player.Stop)
}

func (s *Server) handleSwitchStream(w http.ResponseWriter, r *http.Request) {
	kind, err := media.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	s.control(w, r, func(ctx context.Context) error { return s.player.SwitchStream(ctx, kind, index) })
}

func (s *Server) handleSwitchProgram(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	s.control(w, r, func(ctx context.Context) error { return s.player.SwitchProgram(ctx, id) })
}

func (s *Server) handleReadTimeout(w http.ResponseWriter, r *http.Request) {
	var req readTimeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := time.ParseDuration(req.ReadTimeout)
	if err != nil || d < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid readTimeout %q", req.ReadTimeout))
		return
	}
	s.player.SetReadTimeout(d)
	writeJSON(w, http.StatusOK, s.stateInfo())
}

// control runs a blocking player call and answers with the resulting state.
func (s *Server) control(w http.ResponseWriter, r *http.Request, call func(context.Context) error) {
	if err := call(r.Context()); err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			s.log.Error("control call failed", "path", r.URL.Path, "error", err)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.stateInfo())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, player.ErrInvalidStream):
		return http.StatusBadRequest
	case errors.Is(err, srt.ErrNoPull):
		return http.StatusNotFound
	case errors.Is(err, player.ErrNoSource), errors.Is(err, player.ErrStopped),
		errors.Is(err, srt.ErrPullActive):
		return http.StatusConflict
	case errors.Is(err, player.ErrOpenSource),
		errors.Is(err, player.ErrNoStreams),
		errors.Is(err, player.ErrCodecUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sourceFromRequest infers a missing kind from the URI scheme: udp and srt
// are live streams, everything else is a file.
func sourceFromRequest(req openRequest) (catalog.Source, error) {
	if req.URI == "" {
		return catalog.Source{}, errors.New("uri is required")
	}
	src := catalog.SourceFor(req.URI)
	switch req.Kind {
	case "file":
		src.Kind = catalog.SourceFile
	case "stream":
		src.Kind = catalog.SourceStream
	case "":
	default:
		return catalog.Source{}, fmt.Errorf("unknown kind %q", req.Kind)
	}
	if req.ReadTimeout != "" {
		d, err := time.ParseDuration(req.ReadTimeout)
		if err != nil || d < 0 {
			return catalog.Source{}, fmt.Errorf("invalid readTimeout %q", req.ReadTimeout)
		}
		src.ReadTimeout = d
	}
	return src, nil
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrap, r)
		s.log.Info("request",
			slog.String("id", w.Header().Get("X-Request-ID")),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrap.status),
			slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
