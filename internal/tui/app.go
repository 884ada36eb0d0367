package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/marathon/internal/catalog"
	"github.com/mmcdole/marathon/internal/domain"
	"github.com/mmcdole/marathon/internal/progress"
	"github.com/mmcdole/marathon/internal/tui/styles"
)

// ApplicationState represents the current state of the application
type ApplicationState int

const (
	StateBrowsing ApplicationState = iota
	StateFiltering
	StateHelp
	StateConfirmReset
)

// Vertical chrome: padding, header block, filter line and footer
const ChromeHeight = 9

// Model is the main Bubble Tea model for the application
type Model struct {
	// Application state
	State ApplicationState
	Ready bool

	// Services
	ProgressSvc *progress.Service
	Catalog     *catalog.Catalog

	// UI components
	Keys    KeyMap
	Spinner spinner.Model
	Filter  textinput.Model
	Help    help.Model

	// Data
	Progress domain.UserProgressData
	rows     []catalog.Match
	loaded   bool

	// Load ordering
	loadSeq    int // Last sequence handed to a load command
	appliedSeq int // Sequence of the result on screen

	// Selection
	cursor int
	offset int

	// Dimensions
	Width  int
	Height int

	// UI state
	StatusMsg      string
	StatusIsErr    bool
	statusSeq      int
	ShowFilterHint bool

	now func() time.Time
}

// NewModel creates a new application model. cat may be nil.
func NewModel(svc *progress.Service, cat *catalog.Catalog) Model {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(styles.SpinnerStyle),
	)

	filter := textinput.New()
	filter.Prompt = styles.FilterPromptStyle.Render("/ ")
	filter.Placeholder = "filter episodes"
	filter.CharLimit = 64

	m := Model{
		State:          StateBrowsing,
		ProgressSvc:    svc,
		Catalog:        cat,
		Keys:           DefaultKeyMap(),
		Spinner:        sp,
		Filter:         filter,
		Help:           help.New(),
		Progress:       svc.Data(),
		ShowFilterHint: true,
		now:            time.Now,
	}
	m.rebuildRows()
	return m
}

// Init initializes the application
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		LoadProgressCmd(m.ProgressSvc, m.loadSeq),
		m.Spinner.Tick,
	)
}

// nextLoad tags a new load so results that land out of order are dropped
func (m *Model) nextLoad() tea.Cmd {
	m.loadSeq++
	return LoadProgressCmd(m.ProgressSvc, m.loadSeq)
}

func (m *Model) nextRefresh() tea.Cmd {
	m.loadSeq++
	return RefreshProgressCmd(m.ProgressSvc, m.loadSeq)
}

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Help.Width = msg.Width
		m.Ready = true
		m.clampScroll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case ProgressLoadedMsg:
		if msg.Seq < m.appliedSeq {
			return m, nil
		}
		m.appliedSeq = msg.Seq
		m.loaded = true
		m.Progress = msg.Progress
		m.rebuildRows()
		if msg.Err != nil {
			return m, m.setStatus(ErrMsg{Err: msg.Err, Context: "loading progress"}.Error(), true)
		}
		return m, nil

	case EpisodeUpdatedMsg:
		verb := "unwatched"
		if msg.Watched {
			verb = "watched"
		}
		status := m.setStatus(fmt.Sprintf("Marked %s %s", m.episodeTitle(msg.EpisodeID), verb), false)
		// The cache was invalidated; the current data stays on screen until this returns
		load := m.nextLoad()
		return m, tea.Batch(status, load)

	case ProgressResetMsg:
		status := m.setStatus("Progress reset", false)
		load := m.nextLoad()
		return m, tea.Batch(status, load)

	case ErrMsg:
		return m, m.setStatus(msg.Error(), true)

	case ClearStatusMsg:
		if msg.Seq == m.statusSeq {
			m.StatusMsg = ""
			m.StatusIsErr = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// ctrl+c always quits, even while typing a filter
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.State {
	case StateHelp:
		if key.Matches(msg, m.Keys.Help, m.Keys.Escape, m.Keys.Quit) {
			m.State = StateBrowsing
		}
		return m, nil

	case StateConfirmReset:
		switch {
		case key.Matches(msg, m.Keys.Confirm):
			m.State = StateBrowsing
			return m, ResetProgressCmd(m.ProgressSvc)
		case key.Matches(msg, m.Keys.Deny):
			m.State = StateBrowsing
		}
		return m, nil

	case StateFiltering:
		return m.handleFilterKey(msg)
	}

	switch {
	case key.Matches(msg, m.Keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.Keys.Help):
		m.State = StateHelp

	case key.Matches(msg, m.Keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.Keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.Keys.PageUp):
		m.moveCursor(-m.visibleRows())

	case key.Matches(msg, m.Keys.PageDown):
		m.moveCursor(m.visibleRows())

	case key.Matches(msg, m.Keys.Home):
		m.moveCursor(-len(m.rows))

	case key.Matches(msg, m.Keys.End):
		m.moveCursor(len(m.rows))

	case key.Matches(msg, m.Keys.Toggle):
		ep, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, SetEpisodeWatchedCmd(m.ProgressSvc, ep.ID, !m.Progress.IsWatched(ep.ID))

	case key.Matches(msg, m.Keys.Refresh):
		refresh := m.nextRefresh()
		return m, refresh

	case key.Matches(msg, m.Keys.Reset):
		m.State = StateConfirmReset

	case key.Matches(msg, m.Keys.Filter):
		m.State = StateFiltering
		return m, m.Filter.Focus()

	case key.Matches(msg, m.Keys.Escape):
		if m.Filter.Value() != "" {
			m.Filter.Reset()
			m.rebuildRows()
		}
	}

	return m, nil
}

// handleFilterKey edits the filter query. enter keeps the filter, esc clears it.
func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.State = StateBrowsing
		m.Filter.Blur()
		return m, nil
	case tea.KeyEsc:
		m.State = StateBrowsing
		m.Filter.Blur()
		m.Filter.Reset()
		m.rebuildRows()
		return m, nil
	case tea.KeyUp:
		m.moveCursor(-1)
		return m, nil
	case tea.KeyDown:
		m.moveCursor(1)
		return m, nil
	}

	before := m.Filter.Value()
	var cmd tea.Cmd
	m.Filter, cmd = m.Filter.Update(msg)
	if m.Filter.Value() != before {
		m.cursor = 0
		m.offset = 0
		m.rebuildRows()
	}
	return m, cmd
}

// Selected returns the episode under the cursor
func (m Model) Selected() (domain.Episode, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return domain.Episode{}, false
	}
	return m.rows[m.cursor].Episode, true
}

// episodes returns the catalog, or the known episode IDs when there is none
func (m Model) episodes() []domain.Episode {
	if m.Catalog.Len() > 0 {
		return m.Catalog.Episodes()
	}

	ids := make([]string, 0, len(m.Progress.WatchedEpisodes))
	for id := range m.Progress.WatchedEpisodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	eps := make([]domain.Episode, len(ids))
	for i, id := range ids {
		eps[i] = domain.Episode{ID: id}
	}
	return eps
}

// rebuildRows reapplies the filter, keeping the cursor on the same episode when possible
func (m *Model) rebuildRows() {
	prev, hadPrev := m.Selected()

	m.rows = catalog.Filter(m.episodes(), m.Filter.Value())

	if hadPrev {
		for i, r := range m.rows {
			if r.Episode.ID == prev.ID {
				m.cursor = i
				break
			}
		}
	}
	m.clampScroll()
}

func (m Model) episodeTitle(id string) string {
	if ep, ok := m.Catalog.Lookup(id); ok {
		return ep.DisplayTitle()
	}
	return id
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	m.clampScroll()
}

// clampScroll keeps the cursor in range and visible
func (m *Model) clampScroll() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}

	visible := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) visibleRows() int {
	if !m.Ready {
		return 20
	}
	if n := m.Height - ChromeHeight; n > 1 {
		return n
	}
	return 1
}

// summary prefers a locally computed summary when a catalog is configured
func (m Model) summary() domain.ProgressSummary {
	if m.Catalog.Len() > 0 {
		return progress.ComputeSummary(m.Progress.WatchedEpisodes, m.Catalog.Episodes(), m.now())
	}
	return m.Progress.Summary
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusSeq++
	m.StatusMsg = text
	m.StatusIsErr = isErr
	return clearStatusCmd(m.statusSeq)
}
