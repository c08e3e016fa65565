// Package server exposes a catalog over the per-kind search and create
// endpoints and the cross-kind search.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/oakwood-commons/unifind/internal/catalog"
	"github.com/oakwood-commons/unifind/internal/entity"
	"github.com/oakwood-commons/unifind/pkg/logger"
)

const (
	// GlobalSearchPath serves the cross-kind search.
	GlobalSearchPath = "/api/search/"
	// RegionSearchPath serves region autocomplete.
	RegionSearchPath = "/api/search/region/"
)

const maxBody = 64 << 10

// Server serves one catalog.
type Server struct {
	store *catalog.Store
	reg   *entity.Registry
	log   logr.Logger

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New returns a server for store. Routes come from the store's registry.
func New(store *catalog.Store, opts ...Option) *Server {
	s := &Server{store: store, reg: store.Registry(), log: logr.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return s.logRequests(mux)
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	regions := true
	for _, kind := range s.reg.Kinds() {
		spec, _ := s.reg.Spec(kind)
		mux.HandleFunc("GET "+spec.SearchPath, s.handleSearch(spec))
		mux.HandleFunc("POST "+spec.CreatePath, s.handleCreate(spec))
		if spec.SearchPath == RegionSearchPath {
			regions = false
		}
	}
	mux.HandleFunc("GET "+GlobalSearchPath+"{$}", s.handleGlobalSearch)
	if regions {
		mux.HandleFunc("GET "+RegionSearchPath, s.handleRegionSearch)
	} else {
		s.log.Info("a kind owns the region search path; region autocomplete is off", "path", RegionSearchPath)
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server already running")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "serve")
		}
	}()
	s.log.Info("server started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.wg.Wait()
	s.log.Info("server stopped")
	return nil
}

func (s *Server) handleSearch(spec entity.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		q := catalog.Query{Kind: spec.Kind, Text: strings.TrimSpace(params.Get("q"))}
		if spec.HasDiscriminator() {
			q.Region = params.Get(spec.Discriminator)
		}
		if spec.HasParent() {
			if raw := strings.TrimSpace(params.Get(spec.ParentParam)); raw != "" {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", spec.ParentParam))
					return
				}
				q.ParentID = &id
			}
		}

		recs, err := s.store.Search(r.Context(), q)
		if err != nil {
			s.fail(w, err)
			return
		}
		out := make([]entity.Candidate, 0, len(recs))
		for _, rec := range recs {
			c, _ := s.store.Candidate(r.Context(), rec)
			out = append(out, c)
		}
		writeJSON(w, http.StatusOK, map[string]any{spec.ResultKey: out})
	}
}

func (s *Server) handleCreate(spec entity.Spec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeCreate(r, spec)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := s.store.Create(r.Context(), spec.Kind, req)
		var conflict *entity.ConflictError
		var invalid *entity.ValidationError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":                          fmt.Sprintf("%s %q already exists", spec.DisplayLabel(), conflict.Existing.Name),
				"existing_" + string(spec.Kind): conflict.Existing,
			})
			return
		case errors.As(err, &invalid) && errors.Is(err, entity.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s not found", spec.Parent))
			return
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, requiredMessage(spec))
			return
		case err != nil:
			s.fail(w, err)
			return
		}
		c, _ := s.store.Candidate(r.Context(), rec)
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleGlobalSearch(w http.ResponseWriter, r *http.Request) {
	hits, err := s.store.SearchAll(r.Context(), r.URL.Query().Get("q"), catalog.GlobalPerKind)
	if err != nil {
		s.fail(w, err)
		return
	}
	if hits == nil {
		hits = []entity.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// handleRegionSearch answers {"regions": [...]}, never null.
func (s *Server) handleRegionSearch(w http.ResponseWriter, r *http.Request) {
	regions, err := s.store.Regions(r.Context(), r.URL.Query().Get("q"), catalog.DefaultLimit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if regions == nil {
		regions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, entity.ErrUnknownKind) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error(err, "request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeCreate reads {name, <discriminator>, <parent_param>}. Parent ids may
// be numbers or numeric strings.
func decodeCreate(r *http.Request, spec entity.Spec) (entity.CreateRequest, error) {
	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return entity.CreateRequest{}, errors.New("invalid JSON")
	}
	req := entity.CreateRequest{Name: stringField(body, "name")}
	if spec.HasDiscriminator() {
		req.Discriminator = stringField(body, spec.Discriminator)
	}
	if !spec.HasParent() {
		return req, nil
	}
	switch v := body[spec.ParentParam].(type) {
	case nil:
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return req, fmt.Errorf("invalid %s", spec.ParentParam)
		}
		req.ParentID = &id
	case string:
		if strings.TrimSpace(v) == "" {
			break
		}
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid %s", spec.ParentParam)
		}
		req.ParentID = &id
	default:
		return req, fmt.Errorf("invalid %s", spec.ParentParam)
	}
	return req, nil
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

func requiredMessage(spec entity.Spec) string {
	switch {
	case spec.HasParent():
		return fmt.Sprintf("Both name and %s are required", spec.ParentParam)
	case spec.HasDiscriminator():
		return fmt.Sprintf("Both name and %s are required", spec.Discriminator)
	}
	return "name is required"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.V(1).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			logger.QueryKey, r.URL.Query().Get("q"),
			"status", rec.code,
			"elapsed", time.Since(start).String())
	})
}
