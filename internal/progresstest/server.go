// Package progresstest provides an in-memory progress backend for tests.
package progresstest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// Request is a request as the server received it.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type failure struct {
	status    int
	remaining int // <0 fails forever
}

// Server is a fake progress backend implementing GET/DELETE /api/progress
// and POST /api/progress/episode.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	watched       map[string]bool
	crossovers    map[string]bool
	totalEpisodes int
	lastUpdated   time.Time
	rawProgress   string
	requests      []Request
	failures      map[string]*failure
	blockCh       chan struct{}
}

// NewServer starts a fake backend that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		watched:     make(map[string]bool),
		crossovers:  make(map[string]bool),
		lastUpdated: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failures:    make(map[string]*failure),
	}

	r := mux.NewRouter()
	r.Use(s.recordMiddleware)
	r.HandleFunc("/api/progress", s.handleGetProgress).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", s.handleResetProgress).Methods(http.MethodDelete)
	r.HandleFunc("/api/progress/episode", s.handleUpdateEpisode).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetCatalog sets the episode total and which episode IDs are crossovers.
func (s *Server) SetCatalog(totalEpisodes int, crossoverIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalEpisodes = totalEpisodes
	s.crossovers = make(map[string]bool, len(crossoverIDs))
	for _, id := range crossoverIDs {
		s.crossovers[id] = true
	}
}

// SetWatched replaces the server-side watched map.
func (s *Server) SetWatched(watched map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched = make(map[string]bool, len(watched))
	for id, w := range watched {
		s.watched[id] = w
	}
}

// Watched returns a copy of the server-side watched map.
func (s *Server) Watched() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.watched))
	for id, w := range s.watched {
		out[id] = w
	}
	return out
}

// SetRawProgress makes GET /api/progress return body verbatim. Empty restores normal output.
func (s *Server) SetRawProgress(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawProgress = body
}

// Fail makes the next times requests to method+path answer with status.
// times < 0 fails until Recover is called.
func (s *Server) Fail(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = &failure{status: status, remaining: times}
}

// Recover clears all configured failures.
func (s *Server) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*failure)
}

// Block holds every request until the returned release func is called.
func (s *Server) Block() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blockCh = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.blockCh = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) recordMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		block := s.blockCh
		f := s.failures[r.Method+" "+r.URL.Path]
		status := 0
		if f != nil && f.remaining != 0 {
			status = f.status
			if f.remaining > 0 {
				f.remaining--
			}
		}
		s.mu.Unlock()

		if block != nil {
			<-block
		}

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.rawProgress != "" {
		raw := s.rawProgress
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, raw)
		return
	}

	watched := make(map[string]bool, len(s.watched))
	total, crossovers := 0, 0
	for id, v := range s.watched {
		watched[id] = v
		if v {
			total++
			if s.crossovers[id] {
				crossovers++
			}
		}
	}
	resp := map[string]any{
		"watchedEpisodes": watched,
		"summary": map[string]any{
			"totalWatched":      total,
			"totalEpisodes":     s.totalEpisodes,
			"crossoversWatched": crossovers,
			"currentStreak":     0,
			"lastUpdated":       s.lastUpdated.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleUpdateEpisode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID string `json:"episodeId"`
		Watched   bool   `json:"watched"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.watched[req.EpisodeID] = req.Watched
	s.lastUpdated = s.lastUpdated.Add(time.Minute)
	s.mu.Unlock()

	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.watched = make(map[string]bool)
	s.lastUpdated = s.lastUpdated.Add(time.Minute)
	s.mu.Unlock()

	writeJSON(w, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
