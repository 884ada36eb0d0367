// Package catalog loads the ordered episode list used to compute local summaries
// and to resolve episode queries typed by the user.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	fuzzyrank "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/viper"

	"github.com/mmcdole/marathon/internal/domain"
)

// Catalog is an ordered, immutable set of episodes.
type Catalog struct {
	episodes []domain.Episode
	index    map[string]int
}

// New builds a catalog, rejecting empty and duplicate IDs.
func New(episodes []domain.Episode) (*Catalog, error) {
	c := &Catalog{
		episodes: make([]domain.Episode, 0, len(episodes)),
		index:    make(map[string]int, len(episodes)),
	}
	for i, ep := range episodes {
		ep.ID = strings.TrimSpace(ep.ID)
		if ep.ID == "" {
			return nil, fmt.Errorf("episode %d has no id", i)
		}
		if _, dup := c.index[ep.ID]; dup {
			return nil, fmt.Errorf("duplicate episode id %q", ep.ID)
		}
		c.index[ep.ID] = len(c.episodes)
		c.episodes = append(c.episodes, ep)
	}
	return c, nil
}

// Load reads a catalog file (YAML, JSON or TOML by extension) with an
// "episodes" list.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var episodes []domain.Episode
	if err := v.UnmarshalKey("episodes", &episodes); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(episodes)
}

// Episodes returns the episodes in catalog order.
func (c *Catalog) Episodes() []domain.Episode {
	if c == nil {
		return nil
	}
	out := make([]domain.Episode, len(c.episodes))
	copy(out, c.episodes)
	return out
}

// Len returns the number of episodes.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.episodes)
}

// Lookup returns the episode with the given ID.
func (c *Catalog) Lookup(id string) (domain.Episode, bool) {
	if c == nil {
		return domain.Episode{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return domain.Episode{}, false
	}
	return c.episodes[i], true
}

// Resolve finds the episode a user meant: an exact ID first, then the
// closest title by edit distance.
func (c *Catalog) Resolve(query string) (domain.Episode, error) {
	query = strings.TrimSpace(query)
	if ep, ok := c.Lookup(query); ok {
		return ep, nil
	}
	if c.Len() == 0 || query == "" {
		return domain.Episode{}, fmt.Errorf("%w: %q", domain.ErrEpisodeNotFound, query)
	}

	titles := make([]string, len(c.episodes))
	for i, ep := range c.episodes {
		titles[i] = ep.DisplayTitle()
	}

	ranks := fuzzyrank.RankFindFold(query, titles)
	if len(ranks) == 0 {
		return domain.Episode{}, fmt.Errorf("%w: %q", domain.ErrEpisodeNotFound, query)
	}
	sort.Sort(ranks)

	if len(ranks) > 1 && ranks[0].Distance == ranks[1].Distance {
		return domain.Episode{}, fmt.Errorf("%w: %q matches %q and %q",
			domain.ErrAmbiguousEpisode, query, ranks[0].Target, ranks[1].Target)
	}
	return c.episodes[ranks[0].OriginalIndex], nil
}

// episodeSource implements sahilm/fuzzy.Source over display titles
type episodeSource []domain.Episode

func (s episodeSource) String(i int) string { return s[i].DisplayTitle() + " " + s[i].ID }
func (s episodeSource) Len() int            { return len(s) }

// Match is a filtered episode with the matched character positions of its display title.
type Match struct {
	Episode        domain.Episode
	MatchedIndexes []int
}

// Filter returns episodes matching query, best first. An empty query returns
// every episode in catalog order.
func Filter(episodes []domain.Episode, query string) []Match {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]Match, len(episodes))
		for i, ep := range episodes {
			out[i] = Match{Episode: ep}
		}
		return out
	}

	matches := fuzzy.FindFrom(query, episodeSource(episodes))
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		out = append(out, Match{Episode: episodes[m.Index], MatchedIndexes: m.MatchedIndexes})
	}
	return out
}
