package domain

import "errors"

// Sentinel errors for progress operations.
// Callers learn which operation failed, not why.
var (
	// ErrLoadFailed indicates the progress could not be fetched
	ErrLoadFailed = errors.New("failed to load progress")

	// ErrUpdateEpisode indicates marking an episode watched/unwatched failed
	ErrUpdateEpisode = errors.New("failed to update episode progress")

	// ErrResetProgress indicates resetting progress failed
	ErrResetProgress = errors.New("failed to reset progress")

	// ErrInconsistentSummary indicates the server summary breaks its own counters
	ErrInconsistentSummary = errors.New("inconsistent progress summary")

	// ErrEpisodeNotFound indicates no catalog episode matched
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrAmbiguousEpisode indicates more than one catalog episode matched equally well
	ErrAmbiguousEpisode = errors.New("episode query is ambiguous")
)
