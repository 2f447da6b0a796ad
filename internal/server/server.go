// Package server exposes indexer queries over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"

	"github.com/robert-at-pretension-io/vcd-waves/internal/indexer"
	"github.com/robert-at-pretension-io/vcd-waves/internal/source"
)

const (
	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 1 << 20
)

var errBadName = errors.New("invalid dump name")

// Server maps /api/waves routes onto an Indexer.
type Server struct {
	Indexer *indexer.Indexer

	// DumpDir holds <name>.vcd files addressed by the {file} path segment
	DumpDir string

	// Gatherer backs the metrics endpoint; nil disables it
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// Timeout bounds each API request; zero means none
	Timeout time.Duration

	Log *logrus.Entry
}

type signalRequest struct {
	Signals []string `json:"signals"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type snapshotBody struct {
	Time    uint64                    `json:"time"`
	Blocks  map[string]map[string]any `json:"blocks"`
	Values  map[string]any            `json:"values"`
	Times   []uint64                  `json:"times"`
	Skipped int                       `json:"skipped,omitempty"`
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/waves/{file}/header", "header", s.handleHeader)
	s.route(mux, "POST /api/waves/{file}/signal", "signal", s.handleSignal)
	s.route(mux, "GET /api/waves/{file}/snapshot", "snapshot", s.handleSnapshot)
	s.route(mux, "GET /api/waves/{file}/index", "index", s.handleIndex)
	s.route(mux, "OPTIONS /api/waves/", "preflight", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if s.Gatherer != nil && s.MetricsPath != "" {
		mux.Handle("GET "+s.MetricsPath, promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return s.withCORS(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log().WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// route registers h under pattern wrapped with request ids, the access log,
// metrics and the request timeout.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.Timeout > 0 {
		handler = http.TimeoutHandler(handler, s.Timeout, `{"error":"request timed out"}`)
	}
	mux.Handle(pattern, s.instrument(name, handler))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		d := time.Since(start)

		if m := s.Indexer.Metrics; m != nil {
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
		}
		s.log().WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"bytes":      rec.bytes,
			"duration":   d.String(),
		}).Info("request")
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		next.ServeHTTP(w, r)
	})
}

// dumpPath maps the {file} segment to <DumpDir>/<name>.vcd.
func (s *Server) dumpPath(r *http.Request) (string, error) {
	name := r.PathValue("file")
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", errBadName, name)
	}
	return filepath.Join(s.DumpDir, name+".vcd"), nil
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	path, err := s.dumpPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.Indexer.ParseHeader(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, h.View())
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	path, err := s.dumpPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	var req signalRequest
	if err := sonnet.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("decoding body: %w", err)))
		return
	}
	if len(req.Signals) == 0 {
		s.writeError(w, r, badRequest(errors.New("signals must be a non-empty list")))
		return
	}
	history, err := s.Indexer.ParseFullHistory(r.Context(), path, req.Signals)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, history)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.dumpPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := strconv.ParseUint(r.URL.Query().Get("time"), 10, 64)
	if err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("time must be a non-negative integer: %w", err)))
		return
	}
	snap, diag, err := s.Indexer.ParseSnapshotWithDiagnostics(r.Context(), path, t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blocks := make(map[string]map[string]any, len(snap))
	for ts, values := range snap {
		blocks[strconv.FormatUint(ts, 10)] = values
	}
	s.writeJSON(w, r, http.StatusOK, snapshotBody{
		Time:    t,
		Blocks:  blocks,
		Values:  snap.ValuesAt(t),
		Times:   snap.Times(),
		Skipped: diag.SkippedLines,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	path, err := s.dumpPath(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ti, err := s.Indexer.TimeIndex(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ti)
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func statusOf(err error) int {
	var re requestError
	switch {
	case errors.Is(err, errBadName), errors.As(err, &re):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log().WithError(err).WithField("request_id", requestID(r.Context())).Error("request failed")
		msg = http.StatusText(status)
	}
	s.writeJSON(w, r, status, errorBody{Error: msg, RequestID: requestID(r.Context())})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		s.log().WithError(err).WithField("request_id", requestID(r.Context())).Error("encoding response failed")
		status = http.StatusInternalServerError
		data = []byte(`{"error":"Internal Server Error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}
