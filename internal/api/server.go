// Package api exposes the scan Manager over HTTP so that an external
// interface can drive scans and follow their progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"streamscan/internal/scan"
)

const maxImportBytes = 10 << 20

// Options configures a Server.
type Options struct {
	// Defaults are the scan parameters used when a start request omits them.
	Defaults scan.Config
	// StartRate caps scan starts per minute per client IP. Zero disables it.
	StartRate int
	Logger    zerolog.Logger
}

// Server serves the scan control API.
type Server struct {
	ctx      context.Context
	manager  *scan.Manager
	defaults scan.Config
	logger   zerolog.Logger
	router   chi.Router
	events   *broadcaster
}

// New builds a Server around manager. Scans it starts run until ctx is done.
func New(ctx context.Context, manager *scan.Manager, opts Options) *Server {
	s := &Server{
		ctx:      ctx,
		manager:  manager,
		defaults: opts.Defaults,
		logger:   opts.Logger,
		events:   newBroadcaster(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(startLimit(opts.StartRate)).Post("/scans", s.handleStart)
		r.Post("/scans/pause", s.handlePause)
		r.Post("/scans/resume", s.handleResume)
		r.Post("/scans/cancel", s.handleCancel)
		r.Get("/scans/current", s.handleSnapshot)
		r.Get("/scans/current/export", s.handleExport)
		r.Post("/scans/import", s.handleImport)
		r.Get("/events", s.handleEvents)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.events.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// startRequest overrides the default scan parameters. Durations are in
// milliseconds; zero values keep the defaults.
type startRequest struct {
	Ports            []int `json:"ports"`
	ConnectTimeoutMS int   `json:"connectTimeoutMs"`
	HTTPTimeoutMS    int   `json:"httpTimeoutMs"`
	HostConcurrency  int   `json:"hostConcurrency"`
	DeadlineMS       int   `json:"deadlineMs"`
}

func (req startRequest) apply(cfg scan.Config) scan.Config {
	if len(req.Ports) > 0 {
		cfg.Ports = append([]int(nil), req.Ports...)
	}
	if req.ConnectTimeoutMS != 0 {
		cfg.ConnectTimeout = time.Duration(req.ConnectTimeoutMS) * time.Millisecond
	}
	if req.HTTPTimeoutMS != 0 {
		cfg.HTTPTimeout = time.Duration(req.HTTPTimeoutMS) * time.Millisecond
	}
	if req.HostConcurrency != 0 {
		cfg.HostConcurrency = req.HostConcurrency
	}
	if req.DeadlineMS != 0 {
		cfg.OverallDeadline = time.Duration(req.DeadlineMS) * time.Millisecond
	}
	return cfg
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, errors.New("invalid request payload"))
			return
		}
	}
	cfg := req.apply(s.defaults)

	snapshot, err := s.manager.Start(s.ctx, cfg, s.onUpdate, s.onProgress)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info().Ints("ports", cfg.Ports).Int("concurrency", cfg.HostConcurrency).Msg("scan started")
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.manager.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.manager.Resume)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	s.control(w, s.manager.Cancel)
}

func (s *Server) control(w http.ResponseWriter, op func() (scan.Progress, error)) {
	progress, err := op()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.onProgress(progress)
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.GetSnapshot())
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.manager.GetSnapshot()
	if snapshot.Progress.Status == scan.StatusIdle {
		writeError(w, http.StatusNotFound, errors.New("no scan data to export"))
		return
	}
	data, err := s.manager.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=streams.json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	var src io.Reader = body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("unable to read upload"))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("missing file"))
			return
		}
		defer file.Close()
		src = file
	}
	data, err := io.ReadAll(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot, err := s.manager.Import(data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.events.send(event{Type: "snapshot", Snapshot: &snapshot})
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	ch := s.events.add()
	defer s.events.remove(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot := s.manager.GetSnapshot()
	writeEvent(w, event{Type: "snapshot", Snapshot: &snapshot})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		}
	}
}

func (s *Server) onUpdate(u scan.Update) {
	stream := u.Stream
	progress := u.Progress
	s.events.send(event{Type: "stream", Stream: &stream, Progress: &progress})
}

func (s *Server) onProgress(p scan.Progress) {
	s.events.send(event{Type: "progress", Progress: &p})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scan.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrScanInProgress), errors.Is(err, scan.ErrNoActiveScan):
		return http.StatusConflict
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func startLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
			writeError(w, http.StatusTooManyRequests, errors.New("too many scan starts, try again later"))
		}),
	)
}
