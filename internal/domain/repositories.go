package domain

import (
	"context"
)

// ProgressRepository provides access to the remote progress endpoints
type ProgressRepository interface {
	// GetProgress fetches the current user's watched episodes and summary
	GetProgress(ctx context.Context) (*UserProgressData, error)

	// SetEpisodeWatched marks a single episode watched or unwatched
	SetEpisodeWatched(ctx context.Context, episodeID string, watched bool) error

	// ResetProgress clears all of the user's progress
	ResetProgress(ctx context.Context) error
}
