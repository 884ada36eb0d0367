package tui

import (
	"github.com/mmcdole/marathon/internal/domain"
)

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

// Error implements the error interface
func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// ProgressLoadedMsg carries the result of a load or refresh.
// Progress is always usable; on failure it is the stale or default value.
// Seq orders results; one older than the last applied result is dropped.
type ProgressLoadedMsg struct {
	Seq      int
	Progress domain.UserProgressData
	Err      error
}

// EpisodeUpdatedMsg signals that a watched toggle was accepted by the server
type EpisodeUpdatedMsg struct {
	EpisodeID string
	Watched   bool
}

// ProgressResetMsg signals that all progress was cleared
type ProgressResetMsg struct{}

// ClearStatusMsg clears the status line if it still shows the given sequence
type ClearStatusMsg struct {
	Seq int
}
