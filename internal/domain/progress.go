package domain

import (
	"fmt"
	"time"
)

// ProgressKey is the cache key for the current user's progress.
const ProgressKey = "/api/progress"

// WatchedEpisodes maps episode ID to its watched flag.
type WatchedEpisodes map[string]bool

// ProgressSummary holds aggregate counters derived from watched episodes.
type ProgressSummary struct {
	TotalWatched      int       `json:"totalWatched"`
	TotalEpisodes     int       `json:"totalEpisodes"`
	CrossoversWatched int       `json:"crossoversWatched"`
	CurrentStreak     int       `json:"currentStreak"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// UserProgressData is the unit fetched from the server and cached.
type UserProgressData struct {
	WatchedEpisodes WatchedEpisodes `json:"watchedEpisodes"`
	Summary         ProgressSummary `json:"summary"`
}

// SummaryPatch is a partial ProgressSummary. Nil fields are left unchanged.
type SummaryPatch struct {
	TotalWatched      *int
	TotalEpisodes     *int
	CrossoversWatched *int
	CurrentStreak     *int
	LastUpdated       *time.Time
}

// DefaultProgress returns the empty progress shown while nothing has loaded.
func DefaultProgress(now time.Time) UserProgressData {
	return UserProgressData{
		WatchedEpisodes: WatchedEpisodes{},
		Summary:         ProgressSummary{LastUpdated: now},
	}
}

// IsWatched reports whether the episode is marked watched.
func (p UserProgressData) IsWatched(episodeID string) bool {
	return p.WatchedEpisodes[episodeID]
}

// Validate checks the summary's counters for internal consistency.
func (s ProgressSummary) Validate() error {
	switch {
	case s.TotalWatched < 0 || s.TotalEpisodes < 0 || s.CrossoversWatched < 0 || s.CurrentStreak < 0:
		return fmt.Errorf("%w: negative counter", ErrInconsistentSummary)
	case s.TotalWatched > s.TotalEpisodes:
		return fmt.Errorf("%w: %d watched of %d episodes", ErrInconsistentSummary, s.TotalWatched, s.TotalEpisodes)
	case s.CrossoversWatched > s.TotalWatched:
		return fmt.Errorf("%w: %d crossovers of %d watched", ErrInconsistentSummary, s.CrossoversWatched, s.TotalWatched)
	}
	return nil
}

// Percent returns the watched share of all episodes, 0 when there are none.
func (s ProgressSummary) Percent() float64 {
	if s.TotalEpisodes <= 0 {
		return 0
	}
	return float64(s.TotalWatched) / float64(s.TotalEpisodes) * 100
}
