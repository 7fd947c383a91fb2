package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spirit-labs/preagg/driver"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	statsStyle  = lipgloss.NewStyle().Faint(true)
)

// maxRenderedGroups caps the groups printed, the stats always cover every group.
const maxRenderedGroups = 50

func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case float32:
		return fmt.Sprintf("%.2f", n)
	case float64:
		return fmt.Sprintf("%.2f", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func render(query string, res *driver.Result, elapsed time.Duration) string {
	groups := res.SortedGroups()
	shown := groups
	if len(shown) > maxRenderedGroups {
		shown = shown[:maxRenderedGroups]
	}
	columns := make([]string, len(res.Columns))
	for c, name := range res.Columns {
		width := len(name)
		for _, g := range shown {
			width = max(width, len(formatValue(g[c])))
		}
		cells := []string{headerStyle.Render(name)}
		for _, g := range shown {
			cells = append(cells, formatValue(g[c]))
		}
		align := lipgloss.Right
		if c < res.NumKeys {
			align = lipgloss.Left
		}
		columns[c] = cellStyle.Copy().Width(width + 2).Align(align).Render(strings.Join(cells, "\n"))
	}
	s := res.Stats
	stats := fmt.Sprintf("%d groups from %d rows (%d filtered) in %s; launches setup=%d reduction=%d; "+
		"suspends setup=%d reduction=%d; arena expansions=%d", len(groups), s.NItemsReal, s.NItemsFiltered,
		elapsed.Round(time.Microsecond), s.SetupLaunches, s.ReductionLaunches, s.SetupSuspends, s.ReductionSuspends,
		s.Expansions)
	parts := []string{titleStyle.Render(query), lipgloss.JoinHorizontal(lipgloss.Top, columns...)}
	if len(groups) > len(shown) {
		parts = append(parts, statsStyle.Render(fmt.Sprintf("... %d more groups", len(groups)-len(shown))))
	}
	parts = append(parts, statsStyle.Render(stats))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
