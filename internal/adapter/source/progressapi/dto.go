package progressapi

// Wire types for the progress API. Field names follow the server's camelCase JSON.

// ProgressResponse is the body of GET /api/progress
type ProgressResponse struct {
	WatchedEpisodes map[string]bool `json:"watchedEpisodes"`
	Summary         SummaryDTO      `json:"summary"`
}

// SummaryDTO carries the summary counters; LastUpdated is an ISO-8601 string
type SummaryDTO struct {
	TotalWatched      int    `json:"totalWatched"`
	TotalEpisodes     int    `json:"totalEpisodes"`
	CrossoversWatched int    `json:"crossoversWatched"`
	CurrentStreak     int    `json:"currentStreak"`
	LastUpdated       string `json:"lastUpdated"`
}

// EpisodeUpdateRequest is the body of POST /api/progress/episode
type EpisodeUpdateRequest struct {
	EpisodeID string `json:"episodeId"`
	Watched   bool   `json:"watched"`
}
