package progress

import (
	"context"
	"fmt"

	"github.com/mmcdole/marathon/internal/domain"
)

// SetEpisodeWatched marks one episode watched or unwatched on the server.
// Success invalidates the cached progress; failure leaves it untouched.
// The cache is never patched locally, so readers see the change after the next load.
func (s *Service) SetEpisodeWatched(ctx context.Context, episodeID string, watched bool) error {
	return s.mutate(ctx, domain.ErrUpdateEpisode,
		func(ctx context.Context) error {
			return s.repo.SetEpisodeWatched(ctx, episodeID, watched)
		},
		"episodeID", episodeID, "watched", watched,
	)
}

// ResetProgress clears all progress on the server.
func (s *Service) ResetProgress(ctx context.Context) error {
	return s.mutate(ctx, domain.ErrResetProgress, s.repo.ResetProgress)
}

// UpdateProgressSummary is intentionally unimplemented. Summaries are computed
// locally from the catalog (see ComputeSummary), so this neither calls the
// server nor touches the cache.
func (s *Service) UpdateProgressSummary(patch domain.SummaryPatch) {
	s.logger.Debug("ignoring summary update; summaries are computed locally")
}

func (s *Service) mutate(ctx context.Context, kind error, fn func(context.Context) error, attrs ...any) error {
	s.pending.Add(1)
	defer s.pending.Add(-1)

	if err := fn(ctx); err != nil {
		wrapped := fmt.Errorf("%w: %w", kind, err)
		s.setMutationErr(wrapped)
		s.logger.Error(kind.Error(), append([]any{"error", err}, attrs...)...)
		return wrapped
	}

	s.setMutationErr(nil)
	s.invalidate()
	s.logger.Info("progress updated", attrs...)
	return nil
}
