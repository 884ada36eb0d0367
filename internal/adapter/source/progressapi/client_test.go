package progressapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/mmcdole/marathon/internal/adapter"
	"github.com/mmcdole/marathon/internal/progresstest"
)

func newTestClient(t *testing.T) (*Client, *progresstest.Server) {
	t.Helper()

	srv := progresstest.NewServer(t)
	return NewClient(srv.URL+"/", 5*time.Second, adapter.NullLogger()), srv
}

func TestGetProgress(t *testing.T) {
	client, srv := newTestClient(t)
	srv.SetCatalog(10, "ep3")
	srv.SetWatched(map[string]bool{"ep1": true, "ep2": false, "ep3": true})

	progress, err := client.GetProgress(context.Background())
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}

	if !progress.IsWatched("ep1") || progress.IsWatched("ep2") || !progress.IsWatched("ep3") {
		t.Fatalf("unexpected watched map: %#v", progress.WatchedEpisodes)
	}
	s := progress.Summary
	if s.TotalWatched != 2 || s.TotalEpisodes != 10 || s.CrossoversWatched != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !s.LastUpdated.Equal(want) {
		t.Fatalf("unexpected lastUpdated: got %v want %v", s.LastUpdated, want)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Method != http.MethodGet || reqs[0].Path != "/api/progress" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	if reqs[0].Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestGetProgressNullWatchedEpisodes(t *testing.T) {
	client, srv := newTestClient(t)
	srv.SetRawProgress(`{"watchedEpisodes":null,"summary":{"totalWatched":0,"totalEpisodes":0,"crossoversWatched":0,"currentStreak":0,"lastUpdated":""}}`)

	progress, err := client.GetProgress(context.Background())
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if progress.WatchedEpisodes == nil {
		t.Fatalf("expected empty non-nil watched map")
	}
	if !progress.Summary.LastUpdated.IsZero() {
		t.Fatalf("expected zero lastUpdated, got %v", progress.Summary.LastUpdated)
	}
}

func TestGetProgressKeepsInconsistentSummary(t *testing.T) {
	client, srv := newTestClient(t)
	srv.SetRawProgress(`{"watchedEpisodes":{},"summary":{"totalWatched":7,"totalEpisodes":3,"crossoversWatched":0,"currentStreak":-2,"lastUpdated":"2024-02-03T04:05:06Z"}}`)

	progress, err := client.GetProgress(context.Background())
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if progress.Summary.TotalWatched != 7 || progress.Summary.CurrentStreak != -2 {
		t.Fatalf("expected upstream summary to be trusted, got %+v", progress.Summary)
	}
}

func TestGetProgressFailures(t *testing.T) {
	client, srv := newTestClient(t)

	srv.Fail(http.MethodGet, "/api/progress", http.StatusInternalServerError, 1)
	if _, err := client.GetProgress(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
	if got := srv.Count(http.MethodGet, "/api/progress"); got != 1 {
		t.Fatalf("client must not retry: got %d requests", got)
	}

	srv.SetRawProgress(`{not json`)
	if _, err := client.GetProgress(context.Background()); err == nil {
		t.Fatalf("expected error on malformed body")
	}
}

func TestSetEpisodeWatched(t *testing.T) {
	client, srv := newTestClient(t)

	if err := client.SetEpisodeWatched(context.Background(), "ep1", true); err != nil {
		t.Fatalf("SetEpisodeWatched() error = %v", err)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Method != http.MethodPost || req.Path != "/api/progress/episode" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type: %q", got)
	}
	if got := string(req.Body); got != `{"episodeId":"ep1","watched":true}` {
		t.Fatalf("unexpected body: %s", got)
	}
	if !srv.Watched()["ep1"] {
		t.Fatalf("expected server to record ep1 as watched")
	}
}

func TestSetEpisodeWatchedFailure(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Fail(http.MethodPost, "/api/progress/episode", http.StatusBadRequest, -1)

	if err := client.SetEpisodeWatched(context.Background(), "ep1", false); err == nil {
		t.Fatalf("expected error on 400")
	}
	if got := srv.Count(http.MethodPost, "/api/progress/episode"); got != 1 {
		t.Fatalf("expected one POST, got %d", got)
	}
}

func TestResetProgress(t *testing.T) {
	client, srv := newTestClient(t)
	srv.SetWatched(map[string]bool{"ep1": true})

	if err := client.ResetProgress(context.Background()); err != nil {
		t.Fatalf("ResetProgress() error = %v", err)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 || reqs[0].Method != http.MethodDelete || reqs[0].Path != "/api/progress" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
	if len(reqs[0].Body) != 0 {
		t.Fatalf("expected empty DELETE body, got %q", reqs[0].Body)
	}
	if len(srv.Watched()) != 0 {
		t.Fatalf("expected server progress to be cleared")
	}

	srv.Fail(http.MethodDelete, "/api/progress", http.StatusServiceUnavailable, 1)
	if err := client.ResetProgress(context.Background()); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestEpisodeUpdateRequestEncoding(t *testing.T) {
	data, err := json.Marshal(EpisodeUpdateRequest{EpisodeID: "s01e02", Watched: false})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(data); got != `{"episodeId":"s01e02","watched":false}` {
		t.Fatalf("unexpected encoding: %s", got)
	}
}
