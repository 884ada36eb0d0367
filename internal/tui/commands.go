package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/marathon/internal/progress"
)

// Command factories for async operations

const (
	loadTimeout     = 60 * time.Second // Covers the retried load
	mutationTimeout = 30 * time.Second
	statusLifetime  = 4 * time.Second
)

// LoadProgressCmd loads progress, serving the cache when it is fresh
func LoadProgressCmd(svc *progress.Service, seq int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		data, err := svc.Load(ctx)
		return ProgressLoadedMsg{Seq: seq, Progress: data, Err: err}
	}
}

// RefreshProgressCmd invalidates the cache and loads again
func RefreshProgressCmd(svc *progress.Service, seq int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		data, err := svc.Refresh(ctx)
		return ProgressLoadedMsg{Seq: seq, Progress: data, Err: err}
	}
}

// SetEpisodeWatchedCmd marks an episode watched or unwatched
func SetEpisodeWatchedCmd(svc *progress.Service, episodeID string, watched bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()

		if err := svc.SetEpisodeWatched(ctx, episodeID, watched); err != nil {
			return ErrMsg{Err: err, Context: "updating " + episodeID}
		}
		return EpisodeUpdatedMsg{EpisodeID: episodeID, Watched: watched}
	}
}

// ResetProgressCmd clears all progress
func ResetProgressCmd(svc *progress.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()

		if err := svc.ResetProgress(ctx); err != nil {
			return ErrMsg{Err: err, Context: "resetting progress"}
		}
		return ProgressResetMsg{}
	}
}

// clearStatusCmd expires a status message after a delay
func clearStatusCmd(seq int) tea.Cmd {
	return tea.Tick(statusLifetime, func(time.Time) tea.Msg {
		return ClearStatusMsg{Seq: seq}
	})
}
