// Package mockapi is an in-memory implementation of the workout API.
//
// It backs the engine tests and the mock-server command. Created entities get
// ids of the form server-N, every write stamps updatedAt from the server clock
// and deletes leave tombstones so pulls can report them.
package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Body   map[string]interface{}
	Cookie string
}

// Server holds the fake remote state.
type Server struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int
	entities map[models.EntityKind]map[string]map[string]interface{}
	requests []Request

	failNext   int
	failStatus int
	failAll    bool

	gate    chan struct{}
	arrived chan struct{}

	verbose bool
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithRequestLog enables chi's request logger.
func WithRequestLog() Option {
	return func(s *Server) { s.verbose = true }
}

// New creates an empty Server.
func New(opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		entities: make(map[models.EntityKind]map[string]map[string]interface{}),
		arrived:  make(chan struct{}, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, k := range models.Kinds {
		s.entities[k] = make(map[string]map[string]interface{})
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	if s.verbose {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.intercept)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sync", s.handlePull)
		r.Post("/{collection}", s.handleCreate)
		r.Put("/{collection}", s.handleUpdate)
		r.Delete("/{collection}/{ref}", s.handleDelete)
	})

	return r
}

// intercept records the request, then applies holds and injected failures.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		req := Request{Method: r.Method, Path: r.URL.RequestURI(), Body: body}
		for _, c := range r.Cookies() {
			req.Cookie = c.Name + "=" + c.Value
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		gate := s.gate
		s.mu.Unlock()

		if gate != nil {
			select {
			case s.arrived <- struct{}{}:
			default:
			}
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}

		s.mu.Lock()
		fail := s.failAll || s.failNext > 0
		if s.failNext > 0 {
			s.failNext--
		}
		status := s.failStatus
		s.mu.Unlock()

		if fail {
			if status == 0 {
				status = http.StatusInternalServerError
			}
			http.Error(w, "injected failure", status)
			return
		}

		r = r.WithContext(withBody(r.Context(), body))
		next.ServeHTTP(w, r)
	})
}

// FailNext makes the next n requests answer status (500 when 0).
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

// SetOffline makes every request fail with 503 until called with false.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = offline
	s.failStatus = http.StatusServiceUnavailable
}

// Hold blocks every request until the returned release func is called.
func (s *Server) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Arrived signals each request that reached a Hold.
func (s *Server) Arrived() <-chan struct{} {
	return s.arrived
}

// Requests returns the recorded calls in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ResetRequests forgets recorded calls.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// Seed stores entity as-is under kind. It must carry an id; updatedAt
// defaults to the server clock.
func (s *Server) Seed(kind models.EntityKind, entity map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := copyMap(entity)
	id := fmt.Sprint(e["id"])
	if _, ok := e["updatedAt"]; !ok {
		e["updatedAt"] = s.stamp()
	}
	s.entities[kind][id] = e
}

// Entity returns a copy of the stored entity, or nil.
func (s *Server) Entity(kind models.EntityKind, id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[kind][id]
	if !ok {
		return nil
	}
	return copyMap(e)
}

// Entities returns copies of every stored entity of kind, ordered by id.
func (s *Server) Entities(kind models.EntityKind) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(kind, time.Time{})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindOf(w, r)
	if !ok {
		return
	}
	body := bodyFrom(r.Context())
	if body == nil {
		http.Error(w, "request body required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.seq++
	e := copyMap(body)
	e["id"] = "server-" + strconv.Itoa(s.seq)
	stamp := s.stamp()
	e["createdAt"] = stamp
	e["updatedAt"] = stamp
	s.entities[kind][e["id"].(string)] = e
	out := copyMap(e)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindOf(w, r)
	if !ok {
		return
	}
	body := bodyFrom(r.Context())
	id, _ := body["id"].(string)
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	e, found := s.entities[kind][id]
	if !found {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	for k, v := range body {
		e[k] = v
	}
	e["updatedAt"] = s.stamp()
	out := copyMap(e)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.kindOf(w, r)
	if !ok {
		return
	}
	ref := chi.URLParam(r, "ref")

	s.mu.Lock()
	e := s.entities[kind][ref]
	if e == nil {
		for _, candidate := range s.entities[kind] {
			if candidate["localId"] == ref {
				e = candidate
				break
			}
		}
	}
	if e == nil || e["isDeleted"] == true {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	e["isDeleted"] = true
	e["updatedAt"] = s.stamp()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "bad since", http.StatusBadRequest)
			return
		}
		since = t
	}

	s.mu.Lock()
	resp := make(map[string]interface{}, len(models.Kinds)+1)
	for _, kind := range models.Kinds {
		resp[kind.WireKey()] = s.sorted(kind, since)
	}
	resp["lastSync"] = s.now().UTC().Format(time.RFC3339Nano)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) kindOf(w http.ResponseWriter, r *http.Request) (models.EntityKind, bool) {
	collection := chi.URLParam(r, "collection")
	for _, k := range models.Kinds {
		if k.Collection() == collection {
			return k, true
		}
	}
	http.Error(w, "unknown collection", http.StatusNotFound)
	return "", false
}

// sorted returns entities of kind updated strictly after since. Caller holds mu.
func (s *Server) sorted(kind models.EntityKind, since time.Time) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(s.entities[kind]))
	for _, e := range s.entities[kind] {
		if !since.IsZero() {
			updated, err := time.Parse(time.RFC3339Nano, fmt.Sprint(e["updatedAt"]))
			if err == nil && !updated.After(since) {
				continue
			}
		}
		out = append(out, copyMap(e))
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["id"]) < fmt.Sprint(out[j]["id"])
	})
	return out
}

// stamp formats the server clock. Caller holds mu.
func (s *Server) stamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
