// Package httpapi exposes an engine over HTTP.
//
//	GET    /health
//	GET    /records/{type}/{id}        load; ETag carries the version
//	PUT    /records/{type}/{id}        save; If-Match makes it conditional
//	DELETE /records/{type}/{id}
//	POST   /records/{type}/_find       {"filter": ..., "skip": n, "limit": n, "sort": {"field": ..., "desc": b}}
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/pipeline/internal/engine"
	"github.com/roach88/pipeline/internal/query"
	"github.com/roach88/pipeline/internal/record"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Server serves one engine.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
	addr   string
}

// NewServer creates a server that will listen on addr.
func NewServer(e *engine.Engine, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, logger: logger, addr: addr}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Route("/records/{type}", func(r chi.Router) {
		r.Post("/_find", s.handleFind)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handlePut)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP server started", "addr", s.addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

// statusFor maps the engine's error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrInvalidKey), errors.Is(err, query.ErrInvalidPredicate):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrUnsupportedType):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrVersionConflict):
		return http.StatusPreconditionFailed
	case errors.Is(err, engine.ErrAlreadyLocked):
		return http.StatusLocked
	case errors.Is(err, engine.ErrLockLost):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func keyFrom(r *http.Request) record.Key {
	return record.NewKey(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse(s.engine.NodeID()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	l, err := s.engine.Load(r.Context(), keyFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := newRecordBody(l)
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(l.Version, 10)))
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess, Record: &body})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)

	var opts []engine.SaveOption
	if match := r.Header.Get("If-Match"); match != "" {
		v, err := strconv.ParseInt(strings.Trim(match, `"`), 10, 64)
		if err != nil || v < 0 {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(fmt.Sprintf("invalid If-Match %q", match)))
			return
		}
		opts = append(opts, engine.IfVersion(v))
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, NewErrorResponse(err.Error()))
		return
	}
	doc, err := record.UnmarshalDocument(data)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	// the codec turns the document into the domain object Save encodes
	c, err := s.engine.Codecs().Resolve(key.Type)
	if err != nil {
		s.writeError(w, err)
		return
	}
	obj, err := c.Decode(doc)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	version, err := s.engine.Save(r.Context(), key, obj, opts...)
	if err != nil && version == 0 {
		s.writeError(w, err)
		return
	}

	resp := NewVersionResponse(version)
	if err != nil {
		resp.Warning = err.Error()
	}
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), keyFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
}

type findRequest struct {
	Filter json.RawMessage `json:"filter"`
	Skip   int             `json:"skip"`
	Limit  int             `json:"limit"`
	Sort   *sortRequest    `json:"sort"`
}

type sortRequest struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, NewErrorResponse(err.Error()))
		return
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
			return
		}
	}
	if req.Skip < 0 || req.Limit < 0 {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("skip and limit must not be negative"))
		return
	}

	var pred query.Predicate
	if !bytes.Equal(bytes.TrimSpace(req.Filter), []byte("null")) {
		if pred, err = query.ParseFilter(req.Filter); err != nil {
			s.writeError(w, err)
			return
		}
	}

	opts := []engine.FindOption{engine.Skip(req.Skip), engine.Limit(req.Limit)}
	if req.Sort != nil {
		opts = append(opts, engine.SortBy(req.Sort.Field, req.Sort.Desc))
	}
	results, err := s.engine.Find(chi.URLParam(r, "type"), pred, opts...).Collect(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := FindResponse{Status: StatusSuccess, Count: len(results), Records: make([]RecordBody, 0, len(results))}
	for _, l := range results {
		resp.Records = append(resp.Records, newRecordBody(l))
	}
	s.writeJSON(w, http.StatusOK, resp)
}
