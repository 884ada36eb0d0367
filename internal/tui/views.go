package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mmcdole/marathon/internal/domain"
	"github.com/mmcdole/marathon/internal/tui/styles"
)

const progressBarWidth = 30

// View renders the application
func (m Model) View() string {
	if !m.Ready {
		return m.Spinner.View() + " Loading..."
	}

	if m.State == StateHelp {
		return styles.AppStyle.Render(m.renderHelp())
	}

	sections := []string{
		m.renderHeader(),
		m.renderList(),
		m.renderFilterLine(),
		m.renderFooter(),
	}
	return styles.AppStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// renderHeader shows the title, the summary counters and a progress bar
func (m Model) renderHeader() string {
	st := m.ProgressSvc.State()
	summary := m.summary()

	title := styles.TitleStyle.Render("marathon")
	switch {
	case st.IsLoading || st.IsUpdating:
		title += " " + m.Spinner.View()
	case st.IsFetching:
		title += " " + m.Spinner.View() + styles.DimStyle.Render(" refreshing")
	case st.IsStale:
		title += " " + styles.StaleStyle.Render("(stale)")
	}

	counts := fmt.Sprintf("%d/%d watched", summary.TotalWatched, summary.TotalEpisodes)
	details := styles.DimStyle.Render(fmt.Sprintf(
		"crossovers %d  streak %d",
		summary.CrossoversWatched, summary.CurrentStreak,
	))
	bar := styles.RenderProgressBar(summary.Percent(), progressBarWidth)
	pct := styles.AccentStyle.Render(fmt.Sprintf("%3.0f%%", summary.Percent()))

	lines := []string{
		title,
		styles.SubtitleStyle.Render(counts) + "  " + details,
		bar + " " + pct,
	}
	return styles.HeaderStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderList() string {
	visible := m.visibleRows()
	width := m.Width - 4

	if len(m.rows) == 0 {
		msg := "No episodes"
		switch {
		case !m.loaded:
			msg = "Loading progress..."
		case m.Filter.Value() != "":
			msg = "No episodes match " + m.Filter.Value()
		case m.Catalog.Len() == 0:
			msg = "No episodes watched yet. Configure catalog.file to list every episode."
		}
		return padLines(styles.DimStyle.Render(msg), visible)
	}

	end := m.offset + visible
	if end > len(m.rows) {
		end = len(m.rows)
	}

	lines := make([]string, 0, visible)
	for i := m.offset; i < end; i++ {
		lines = append(lines, m.renderRow(i, width))
	}
	return padLines(strings.Join(lines, "\n"), visible)
}

func (m Model) renderRow(i, width int) string {
	row := m.rows[i]
	ep := row.Episode
	watched := m.Progress.IsWatched(ep.ID)

	statusColor := styles.Accent
	statusChar := styles.UnwatchedChar
	if watched {
		statusColor = styles.Green
		statusChar = styles.WatchedChar
	}

	title := styles.Truncate(ep.DisplayTitle(), width-len(ep.ID)-8)
	// Filter indexes run over "title id"; keep the ones inside the title
	var titleIdx []int
	for _, idx := range row.MatchedIndexes {
		if idx < len(title) {
			titleIdx = append(titleIdx, idx)
		}
	}

	parts := []styles.RowPart{{Text: statusChar + " ", Foreground: &statusColor}}
	parts = append(parts, styles.HighlightParts(title, titleIdx)...)
	if ep.Crossover {
		parts = append(parts, styles.RowPart{Text: " " + styles.CrossoverChar, Foreground: &styles.Blue})
	}
	if ep.Title != "" {
		parts = append(parts, styles.RowPart{Text: "  " + ep.ID, Foreground: &styles.DimGray})
	}

	return styles.RenderListRow(parts, i == m.cursor, width)
}

func (m Model) renderFilterLine() string {
	switch {
	case m.State == StateFiltering:
		return m.Filter.View()
	case m.Filter.Value() != "":
		return styles.FilterPromptStyle.Render("/ ") + m.Filter.Value() +
			styles.DimStyle.Render(fmt.Sprintf("  (%d matches, esc to clear)", len(m.rows)))
	case m.ShowFilterHint:
		return styles.DimStyle.Render("press / to filter")
	}
	return ""
}

// renderFooter shows the reset confirmation, the status line or the key help
func (m Model) renderFooter() string {
	if m.State == StateConfirmReset {
		return styles.ConfirmStyle.Render(
			styles.ErrorStyle.Render("Reset all progress?") + " " +
				styles.HelpKeyStyle.Render("y") + styles.HelpDescStyle.Render(" yes  ") +
				styles.HelpKeyStyle.Render("n") + styles.HelpDescStyle.Render(" no"),
		)
	}

	if m.StatusMsg != "" {
		if m.StatusIsErr {
			return styles.ErrorStyle.Render("✗ " + m.StatusMsg)
		}
		return styles.SuccessStyle.Render("✓ " + m.StatusMsg)
	}

	if st := m.ProgressSvc.State(); st.MutationErr != nil {
		return styles.ErrorStyle.Render(st.MutationErr.Error())
	}

	return m.Help.ShortHelpView(m.Keys.ShortHelp())
}

func (m Model) renderHelp() string {
	title := styles.TitleStyle.Render("Keys")
	m.Help.ShowAll = true
	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		m.Help.View(m.Keys),
		"",
		styles.DimStyle.Render("press ? or esc to close"),
	)
}

// padLines pads s with blank lines up to n lines so the footer stays put
func padLines(s string, n int) string {
	have := strings.Count(s, "\n") + 1
	if have >= n {
		return s
	}
	return s + strings.Repeat("\n", n-have)
}

// plainStatus is the unstyled glyph used in non-TUI output
func plainStatus(watched bool) string {
	if watched {
		return styles.WatchedChar
	}
	return styles.UnwatchedChar
}

// RenderPlainList renders episodes for line-oriented output such as the status command
func RenderPlainList(progress domain.UserProgressData, episodes []domain.Episode) string {
	var b strings.Builder
	for _, ep := range episodes {
		fmt.Fprintf(&b, "%s %s", plainStatus(progress.IsWatched(ep.ID)), ep.DisplayTitle())
		if ep.Title != "" {
			fmt.Fprintf(&b, " (%s)", ep.ID)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
