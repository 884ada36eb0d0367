// Package progress is the progress façade: it loads the user's watched-episode
// state through a read-through cache and runs the mutations that invalidate it.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/marathon/internal/domain"
)

// DefaultFetchTimeout bounds a shared load when Options leaves it unset.
const DefaultFetchTimeout = 2 * time.Minute

// Options tunes the read path.
type Options struct {
	LoadRetries  int           // Extra attempts after a failed load (1 = retry once)
	RetryDelay   time.Duration // Wait before each retry
	FetchTimeout time.Duration // Upper bound on a shared load, retries included
	Now          func() time.Time
}

// DefaultOptions retries a failed load once after a second.
func DefaultOptions() Options {
	return Options{LoadRetries: 1, RetryDelay: time.Second, FetchTimeout: DefaultFetchTimeout, Now: time.Now}
}

// Service loads, caches and mutates the current user's progress.
// All methods are safe for concurrent use; the store does its own locking.
type Service struct {
	repo   domain.ProgressRepository
	store  domain.Store
	logger *slog.Logger
	opts   Options

	group      singleflight.Group
	generation atomic.Uint64 // Bumped on every invalidation
	pending    atomic.Int32  // Mutations in flight

	errMu       sync.RWMutex
	loadErr     error
	mutationErr error
}

// NewService creates a new progress service.
func NewService(repo domain.ProgressRepository, store domain.Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadRetries < 0 {
		opts.LoadRetries = 0
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Service{repo: repo, store: store, logger: logger, opts: opts}
}

// Load returns cached progress when it is fresh and fetches it otherwise.
// On failure it returns the last known progress (or the default) with an
// error wrapping domain.ErrLoadFailed.
//
// Concurrent callers share one fetch. The fetch runs detached from any single
// caller's context, so a caller that gives up only stops its own wait.
func (s *Service) Load(ctx context.Context) (domain.UserProgressData, error) {
	if entry, ok := s.store.Get(domain.ProgressKey); ok && !entry.Stale {
		s.logger.Debug("cache hit", "key", domain.ProgressKey)
		return entry.Progress, nil
	}
	if err := ctx.Err(); err != nil {
		return s.Data(), fmt.Errorf("%w: %w", domain.ErrLoadFailed, err)
	}

	// Loads that start after an invalidation must not join an older fetch
	gen := s.generation.Load()
	flightKey := domain.ProgressKey + "#" + strconv.FormatUint(gen, 10)

	ch := s.group.DoChan(flightKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, gen)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight load", "key", domain.ProgressKey)
		}
		if res.Err != nil {
			return s.Data(), res.Err
		}
		return res.Val.(domain.UserProgressData), nil
	case <-ctx.Done():
		// The shared fetch keeps going for the other callers
		s.logger.Debug("stopped waiting for progress load", "error", ctx.Err())
		return s.Data(), fmt.Errorf("%w: %w", domain.ErrLoadFailed, ctx.Err())
	}
}

// Refresh marks the cached progress stale and loads it again.
func (s *Service) Refresh(ctx context.Context) (domain.UserProgressData, error) {
	s.invalidate()
	return s.Load(ctx)
}

func (s *Service) fetch(ctx context.Context, gen uint64) (domain.UserProgressData, error) {
	s.store.SetFetching(domain.ProgressKey, true)
	defer s.store.SetFetching(domain.ProgressKey, false)

	var lastErr error
	for attempt := 0; attempt <= s.opts.LoadRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying progress load", "attempt", attempt, "delay", s.opts.RetryDelay)
			if err := sleepCtx(ctx, s.opts.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		progress, err := s.repo.GetProgress(ctx)
		if err == nil {
			return s.commit(*progress, gen), nil
		}

		lastErr = err
		s.logger.Warn("progress load failed", "error", err, "attempt", attempt)
		if ctx.Err() != nil {
			break
		}
	}

	err := fmt.Errorf("%w: %w", domain.ErrLoadFailed, lastErr)
	s.setLoadErr(err)
	s.logger.Error("giving up on progress load", "error", lastErr, "attempts", s.opts.LoadRetries+1)
	return domain.UserProgressData{}, err
}

// commit caches a fetched value. If an invalidation landed while the request
// was in flight the value is kept for display but stays stale.
func (s *Service) commit(progress domain.UserProgressData, gen uint64) domain.UserProgressData {
	if progress.WatchedEpisodes == nil {
		progress.WatchedEpisodes = domain.WatchedEpisodes{}
	}

	if err := s.store.Save(domain.ProgressKey, progress); err != nil {
		s.logger.Error("failed to save progress", "error", err)
	}
	if s.generation.Load() != gen {
		s.store.Invalidate(domain.ProgressKey)
		s.logger.Debug("progress invalidated during load, kept stale")
	}

	s.setLoadErr(nil)
	s.logger.Info("loaded progress",
		"watched", progress.Summary.TotalWatched,
		"episodes", progress.Summary.TotalEpisodes,
	)
	return progress
}

func (s *Service) invalidate() {
	s.generation.Add(1)
	s.store.Invalidate(domain.ProgressKey)
	s.logger.Debug("invalidated progress cache", "key", domain.ProgressKey)
}

func (s *Service) setLoadErr(err error) {
	s.errMu.Lock()
	s.loadErr = err
	s.errMu.Unlock()
}

func (s *Service) setMutationErr(err error) {
	s.errMu.Lock()
	s.mutationErr = err
	s.errMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
