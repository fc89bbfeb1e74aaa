package tui

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
)

var statsHeaders = []string{"Guild", "Members", "Age", "State", "Last update"}

// Table renders rows with a normal border, shrunk to the terminal width
// when stdout is a terminal.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...)
	out := t.String()
	if w := TerminalWidth(); w > 0 && lipgloss.Width(out) > w {
		out = t.Width(w).String()
	}
	return out
}

// StatsRows flattens cache stats into table rows, one per guild.
func StatsRows(stats member.CacheStats) [][]string {
	rows := make([][]string, 0, len(stats.Guilds))
	for _, g := range stats.Guilds {
		last := "never"
		age := "-"
		if !g.LastUpdate.IsZero() {
			last = g.LastUpdate.UTC().Format(time.RFC3339)
			age = g.Age.Truncate(time.Second).String()
		}
		rows = append(rows, []string{g.GuildID, strconv.Itoa(g.Members), age, guildState(g), last})
	}
	return rows
}

func guildState(g member.GuildStats) string {
	var state string
	switch {
	case g.LastUpdate.IsZero():
		state = "empty"
	case g.Valid:
		state = "fresh"
	default:
		state = "stale"
	}
	if g.Fetching {
		state += fmt.Sprintf(", fetching %s", g.FetchingFor.Truncate(time.Second))
	}
	return state
}

// WriteStats prints the stats table with a summary line. Styling is
// applied only when colored is set.
func WriteStats(w io.Writer, stats member.CacheStats, colored bool) error {
	summary := fmt.Sprintf("%d guilds, %d members, ttl %s", len(stats.Guilds), stats.TotalMembers, stats.TTL)
	if len(stats.Guilds) == 0 {
		if colored {
			summary = Warning("cache is empty") + " " + Muted("ttl "+stats.TTL.String())
		} else {
			summary = "cache is empty, ttl " + stats.TTL.String()
		}
		_, err := fmt.Fprintln(w, summary)
		return err
	}
	if colored {
		summary = Title(summary)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", summary, Table(statsHeaders, StatsRows(stats)))
	return err
}
