package progress

import (
	"time"

	"github.com/mmcdole/marathon/internal/domain"
)

// ComputeSummary derives the summary from watched state and the ordered
// episode catalog.
//
// CurrentStreak is the run of consecutive watched episodes, in catalog order,
// ending at the last watched episode. Watched IDs missing from the catalog are
// ignored. With no catalog, every watched entry counts and the streak is 0.
func ComputeSummary(watched domain.WatchedEpisodes, episodes []domain.Episode, now time.Time) domain.ProgressSummary {
	summary := domain.ProgressSummary{
		TotalEpisodes: len(episodes),
		LastUpdated:   now,
	}

	if len(episodes) == 0 {
		for _, w := range watched {
			if w {
				summary.TotalWatched++
			}
		}
		return summary
	}

	streak, lastRun := 0, 0
	for _, ep := range episodes {
		if !watched[ep.ID] {
			streak = 0
			continue
		}
		summary.TotalWatched++
		if ep.Crossover {
			summary.CrossoversWatched++
		}
		streak++
		lastRun = streak
	}
	summary.CurrentStreak = lastRun

	return summary
}
