package progressapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/marathon/internal/domain"
)

// TimestampLayout is the ISO-8601 form the server emits (millisecond precision, UTC).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MapProgress converts the wire response to domain progress.
// A malformed timestamp maps to the zero time and is reported via the returned error,
// which callers treat as a warning.
func MapProgress(resp ProgressResponse) (*domain.UserProgressData, error) {
	watched := make(domain.WatchedEpisodes, len(resp.WatchedEpisodes))
	for id, w := range resp.WatchedEpisodes {
		watched[id] = w
	}

	lastUpdated, err := ParseTimestamp(resp.Summary.LastUpdated)

	return &domain.UserProgressData{
		WatchedEpisodes: watched,
		Summary: domain.ProgressSummary{
			TotalWatched:      resp.Summary.TotalWatched,
			TotalEpisodes:     resp.Summary.TotalEpisodes,
			CrossoversWatched: resp.Summary.CrossoversWatched,
			CurrentStreak:     resp.Summary.CurrentStreak,
			LastUpdated:       lastUpdated,
		},
	}, err
}

// MapSummary converts domain progress back to the wire shape.
func MapSummary(s domain.ProgressSummary) SummaryDTO {
	return SummaryDTO{
		TotalWatched:      s.TotalWatched,
		TotalEpisodes:     s.TotalEpisodes,
		CrossoversWatched: s.CrossoversWatched,
		CurrentStreak:     s.CurrentStreak,
		LastUpdated:       FormatTimestamp(s.LastUpdated),
	}
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty lastUpdated")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid lastUpdated %q: %w", value, err)
	}
	return t, nil
}

// FormatTimestamp renders t in UTC the way the server does.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
