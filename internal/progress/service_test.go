package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/marathon/internal/adapter"
	"github.com/mmcdole/marathon/internal/domain"
	"github.com/mmcdole/marathon/internal/store"
)

var fixedNow = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu         sync.Mutex
	progress   domain.UserProgressData
	getErrs    []error // Returned in order, one per GetProgress call
	setErr     error
	resetErr   error
	getCalls   int
	setCalls   int
	resetCalls int
	lastID     string
	lastWatch  bool

	getStarted chan struct{}
	getRelease chan struct{}
	setStarted chan struct{}
	setRelease chan struct{}
}

func (r *fakeRepo) GetProgress(ctx context.Context) (*domain.UserProgressData, error) {
	r.mu.Lock()
	r.getCalls++
	var err error
	if len(r.getErrs) > 0 {
		err, r.getErrs = r.getErrs[0], r.getErrs[1:]
	}
	watched := make(domain.WatchedEpisodes, len(r.progress.WatchedEpisodes))
	for id, w := range r.progress.WatchedEpisodes {
		watched[id] = w
	}
	p := domain.UserProgressData{WatchedEpisodes: watched, Summary: r.progress.Summary}
	started, release := r.getStarted, r.getRelease
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *fakeRepo) SetEpisodeWatched(ctx context.Context, episodeID string, watched bool) error {
	r.mu.Lock()
	r.setCalls++
	r.lastID, r.lastWatch = episodeID, watched
	err := r.setErr
	if err == nil {
		if r.progress.WatchedEpisodes == nil {
			r.progress.WatchedEpisodes = domain.WatchedEpisodes{}
		}
		r.progress.WatchedEpisodes[episodeID] = watched
	}
	started, release := r.setStarted, r.setRelease
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return err
}

func (r *fakeRepo) ResetProgress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetCalls++
	if r.resetErr != nil {
		return r.resetErr
	}
	r.progress.WatchedEpisodes = domain.WatchedEpisodes{}
	return nil
}

func (r *fakeRepo) calls() (get, set, reset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls, r.setCalls, r.resetCalls
}

func newTestService(t *testing.T, repo *fakeRepo) (*Service, *store.QueryStore) {
	t.Helper()

	st, err := store.NewQueryStore("", "", adapter.NullLogger())
	if err != nil {
		t.Fatalf("NewQueryStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	svc := NewService(repo, st, adapter.NullLogger(), Options{
		LoadRetries: 1,
		Now:         func() time.Time { return fixedNow },
	})
	return svc, st
}

func seededRepo() *fakeRepo {
	return &fakeRepo{
		progress: domain.UserProgressData{
			WatchedEpisodes: domain.WatchedEpisodes{"ep1": true},
			Summary:         domain.ProgressSummary{TotalWatched: 1, TotalEpisodes: 5},
		},
	}
}

func TestStateBeforeLoadIsDefault(t *testing.T) {
	svc, _ := newTestService(t, seededRepo())

	st := svc.State()
	want := domain.DefaultProgress(fixedNow)
	if st.HasData || st.IsLoading || st.IsFetching || st.IsUpdating || st.Err != nil {
		t.Fatalf("unexpected initial state: %+v", st)
	}
	if len(st.Data.WatchedEpisodes) != 0 || st.Data.WatchedEpisodes == nil {
		t.Fatalf("expected empty watched map, got %#v", st.Data.WatchedEpisodes)
	}
	if st.Data.Summary != want.Summary {
		t.Fatalf("unexpected default summary: got %+v want %+v", st.Data.Summary, want.Summary)
	}
}

func TestLoadCachesFreshData(t *testing.T) {
	repo := seededRepo()
	svc, _ := newTestService(t, repo)

	for i := 0; i < 3; i++ {
		p, err := svc.Load(context.Background())
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !p.IsWatched("ep1") {
			t.Fatalf("unexpected progress: %#v", p.WatchedEpisodes)
		}
	}

	if get, _, _ := repo.calls(); get != 1 {
		t.Fatalf("expected a single fetch, got %d", get)
	}
	if st := svc.State(); !st.HasData || st.IsStale {
		t.Fatalf("expected fresh cached data, got %+v", st)
	}
}

func TestLoadRetriesOnce(t *testing.T) {
	repo := seededRepo()
	repo.getErrs = []error{errors.New("boom")}
	svc, _ := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if get, _, _ := repo.calls(); get != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d calls", get)
	}
}

func TestLoadFailureReturnsDefault(t *testing.T) {
	repo := seededRepo()
	repo.getErrs = []error{errors.New("down"), errors.New("still down"), errors.New("third")}
	svc, _ := newTestService(t, repo)

	p, err := svc.Load(context.Background())
	if !errors.Is(err, domain.ErrLoadFailed) {
		t.Fatalf("Load() error = %v, want ErrLoadFailed", err)
	}
	if get, _, _ := repo.calls(); get != 2 {
		t.Fatalf("expected exactly two attempts, got %d", get)
	}
	if len(p.WatchedEpisodes) != 0 || !p.Summary.LastUpdated.Equal(fixedNow) {
		t.Fatalf("expected default progress on failure, got %+v", p)
	}
	if st := svc.State(); !errors.Is(st.Err, domain.ErrLoadFailed) || st.HasData {
		t.Fatalf("unexpected state after failure: %+v", st)
	}

	// The queued error is consumed by the next attempt; the one after succeeds
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() after recovery error = %v", err)
	}
	if st := svc.State(); st.Err != nil {
		t.Fatalf("expected load error to clear, got %v", st.Err)
	}
}

func TestLoadFailureKeepsStaleData(t *testing.T) {
	repo := seededRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := svc.SetEpisodeWatched(context.Background(), "ep2", true); err != nil {
		t.Fatalf("SetEpisodeWatched() error = %v", err)
	}

	repo.mu.Lock()
	repo.getErrs = []error{errors.New("a"), errors.New("b")}
	repo.mu.Unlock()

	p, err := svc.Load(context.Background())
	if !errors.Is(err, domain.ErrLoadFailed) {
		t.Fatalf("Load() error = %v, want ErrLoadFailed", err)
	}
	if !p.IsWatched("ep1") || p.IsWatched("ep2") {
		t.Fatalf("expected the stale pre-mutation data, got %#v", p.WatchedEpisodes)
	}
}

func TestSetEpisodeWatchedInvalidates(t *testing.T) {
	repo := seededRepo()
	svc, st := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := svc.SetEpisodeWatched(context.Background(), "ep2", true); err != nil {
		t.Fatalf("SetEpisodeWatched() error = %v", err)
	}

	if _, set, _ := repo.calls(); set != 1 {
		t.Fatalf("expected one update call, got %d", set)
	}
	if repo.lastID != "ep2" || !repo.lastWatch {
		t.Fatalf("unexpected update args: %q %v", repo.lastID, repo.lastWatch)
	}

	entry, ok := st.Get(domain.ProgressKey)
	if !ok || !entry.Stale {
		t.Fatalf("expected cached progress to be stale, got %+v ok=%v", entry, ok)
	}
	if entry.Progress.IsWatched("ep2") {
		t.Fatalf("cache must not be patched locally")
	}

	p, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !p.IsWatched("ep2") {
		t.Fatalf("expected refetched data to include ep2")
	}
	if get, _, _ := repo.calls(); get != 2 {
		t.Fatalf("expected a refetch after invalidation, got %d fetches", get)
	}
}

func TestSetEpisodeWatchedFailureKeepsCache(t *testing.T) {
	repo := seededRepo()
	repo.setErr = errors.New("status 500")
	svc, st := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err := svc.SetEpisodeWatched(context.Background(), "ep1", false)
	if !errors.Is(err, domain.ErrUpdateEpisode) {
		t.Fatalf("SetEpisodeWatched() error = %v, want ErrUpdateEpisode", err)
	}
	if entry, _ := st.Get(domain.ProgressKey); entry.Stale {
		t.Fatalf("failed mutation must not invalidate")
	}
	if state := svc.State(); !errors.Is(state.MutationErr, domain.ErrUpdateEpisode) {
		t.Fatalf("expected mutation error in state, got %v", state.MutationErr)
	}

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if get, set, _ := repo.calls(); get != 1 || set != 1 {
		t.Fatalf("expected no retry and no refetch, got get=%d set=%d", get, set)
	}
}

func TestResetProgress(t *testing.T) {
	repo := seededRepo()
	svc, st := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	repo.resetErr = errors.New("nope")
	if err := svc.ResetProgress(context.Background()); !errors.Is(err, domain.ErrResetProgress) {
		t.Fatalf("ResetProgress() error = %v, want ErrResetProgress", err)
	}
	if entry, _ := st.Get(domain.ProgressKey); entry.Stale {
		t.Fatalf("failed reset must not invalidate")
	}

	repo.resetErr = nil
	if err := svc.ResetProgress(context.Background()); err != nil {
		t.Fatalf("ResetProgress() error = %v", err)
	}
	if entry, _ := st.Get(domain.ProgressKey); !entry.Stale {
		t.Fatalf("successful reset must invalidate")
	}
	if state := svc.State(); state.MutationErr != nil {
		t.Fatalf("expected mutation error to clear, got %v", state.MutationErr)
	}

	p, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.WatchedEpisodes) != 0 {
		t.Fatalf("expected empty progress after reset, got %#v", p.WatchedEpisodes)
	}
	if _, _, reset := repo.calls(); reset != 2 {
		t.Fatalf("expected two reset calls, got %d", reset)
	}
}

func TestUpdateProgressSummaryIsNoop(t *testing.T) {
	repo := seededRepo()
	svc, st := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	total := 99
	svc.UpdateProgressSummary(domain.SummaryPatch{TotalWatched: &total})
	svc.UpdateProgressSummary(domain.SummaryPatch{})

	if get, set, reset := repo.calls(); get != 1 || set != 0 || reset != 0 {
		t.Fatalf("expected no network calls, got get=%d set=%d reset=%d", get, set, reset)
	}
	entry, _ := st.Get(domain.ProgressKey)
	if entry.Stale || entry.Progress.Summary.TotalWatched != 1 {
		t.Fatalf("expected cache untouched, got %+v", entry)
	}
	if svc.IsUpdating() {
		t.Fatalf("no-op must not leave a pending mutation")
	}
}

func TestIsUpdatingWhileMutationPending(t *testing.T) {
	repo := seededRepo()
	repo.setStarted = make(chan struct{})
	repo.setRelease = make(chan struct{})
	svc, _ := newTestService(t, repo)

	done := make(chan error, 1)
	go func() {
		done <- svc.SetEpisodeWatched(context.Background(), "ep3", true)
	}()

	<-repo.setStarted
	if !svc.IsUpdating() || !svc.State().IsUpdating {
		t.Fatalf("expected IsUpdating while mutation is pending")
	}

	close(repo.setRelease)
	if err := <-done; err != nil {
		t.Fatalf("SetEpisodeWatched() error = %v", err)
	}
	if svc.IsUpdating() {
		t.Fatalf("expected IsUpdating to clear once settled")
	}
}

func TestIsLoadingWhileFirstLoadInFlight(t *testing.T) {
	repo := seededRepo()
	repo.getStarted = make(chan struct{})
	repo.getRelease = make(chan struct{})
	svc, _ := newTestService(t, repo)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background())
		done <- err
	}()

	<-repo.getStarted
	st := svc.State()
	if !st.IsLoading || !st.IsFetching || st.HasData {
		t.Fatalf("expected loading state, got %+v", st)
	}
	if len(st.Data.WatchedEpisodes) != 0 {
		t.Fatalf("expected default data while loading")
	}

	close(repo.getRelease)
	if err := <-done; err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st := svc.State(); st.IsLoading || st.IsFetching || !st.HasData {
		t.Fatalf("expected settled state, got %+v", st)
	}
}

func TestInvalidationDuringLoadKeepsResultStale(t *testing.T) {
	repo := seededRepo()
	repo.getStarted = make(chan struct{}, 1)
	repo.getRelease = make(chan struct{})
	svc, st := newTestService(t, repo)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background())
		done <- err
	}()
	<-repo.getStarted

	if err := svc.SetEpisodeWatched(context.Background(), "ep4", true); err != nil {
		t.Fatalf("SetEpisodeWatched() error = %v", err)
	}

	close(repo.getRelease)
	if err := <-done; err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	entry, ok := st.Get(domain.ProgressKey)
	if !ok || !entry.Stale {
		t.Fatalf("expected result of overlapped load to stay stale, got %+v", entry)
	}

	p, err := svc.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !p.IsWatched("ep4") {
		t.Fatalf("expected refetch to include ep4")
	}
}

func TestRefreshRefetches(t *testing.T) {
	repo := seededRepo()
	svc, _ := newTestService(t, repo)

	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if get, _, _ := repo.calls(); get != 2 {
		t.Fatalf("expected Refresh to refetch, got %d fetches", get)
	}
}

func TestLoadRespectsCancelledContext(t *testing.T) {
	repo := seededRepo()
	svc, _ := newTestService(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Load(ctx)
	if !errors.Is(err, domain.ErrLoadFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Load() error = %v", err)
	}
	if get, _, _ := repo.calls(); get != 0 {
		t.Fatalf("expected no fetch for a cancelled caller, got %d calls", get)
	}
	if st := svc.State(); st.Err != nil {
		t.Fatalf("expected caller cancellation to stay out of State().Err, got %v", st.Err)
	}
}

// waitForJoiners gives goroutines that were just started time to reach the
// shared fetch before the test releases it.
func waitForJoiners() {
	time.Sleep(50 * time.Millisecond)
}

func TestConcurrentLoadsShareOneRequest(t *testing.T) {
	repo := seededRepo()
	repo.getStarted = make(chan struct{}, 3)
	repo.getRelease = make(chan struct{})
	svc, _ := newTestService(t, repo)

	const callers = 3
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			p, err := svc.Load(context.Background())
			if err == nil && !p.IsWatched("ep1") {
				err = errors.New("missing ep1")
			}
			errs <- err
		}()
	}

	<-repo.getStarted
	waitForJoiners()
	close(repo.getRelease)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	}
	if get, _, _ := repo.calls(); get != 1 {
		t.Fatalf("expected overlapping loads to share one request, got %d", get)
	}
}

func TestCancelledCallerDoesNotFailJoinedLoad(t *testing.T) {
	repo := seededRepo()
	repo.getStarted = make(chan struct{}, 2)
	repo.getRelease = make(chan struct{})
	svc, _ := newTestService(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Load(ctx)
		first <- err
	}()
	<-repo.getStarted

	second := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background())
		second <- err
	}()
	waitForJoiners()

	cancel()
	if err := <-first; !errors.Is(err, domain.ErrLoadFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Load() error = %v", err)
	}
	if st := svc.State(); st.Err != nil || !st.IsFetching {
		t.Fatalf("expected shared fetch to continue without error, got %+v", st)
	}

	close(repo.getRelease)
	if err := <-second; err != nil {
		t.Fatalf("joined Load() error = %v", err)
	}
	if get, _, _ := repo.calls(); get != 1 {
		t.Fatalf("expected one request, got %d", get)
	}
	if st := svc.State(); st.Err != nil || !st.HasData || st.IsStale {
		t.Fatalf("expected fresh data after shared load, got %+v", st)
	}
}

func TestLoadGivesUpAfterFetchTimeout(t *testing.T) {
	repo := seededRepo()
	repo.getStarted = make(chan struct{}, 2)
	repo.getRelease = make(chan struct{})
	t.Cleanup(func() { close(repo.getRelease) })
	svc, _ := newTestService(t, repo)
	svc.opts.FetchTimeout = 20 * time.Millisecond

	_, err := svc.Load(context.Background())
	if !errors.Is(err, domain.ErrLoadFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Load() error = %v", err)
	}
	if get, _, _ := repo.calls(); get != 1 {
		t.Fatalf("expected no retry past the fetch timeout, got %d calls", get)
	}
	if st := svc.State(); !errors.Is(st.Err, domain.ErrLoadFailed) {
		t.Fatalf("expected timed out load in State().Err, got %v", st.Err)
	}
}
