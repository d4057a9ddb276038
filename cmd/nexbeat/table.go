package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aatumaykin/nexbeat/internal/store"
)

// theme colours the schedule table.
var theme = struct {
	Header  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Muted   lipgloss.Color
}{
	Header:  lipgloss.Color("12"),  // Blue
	Success: lipgloss.Color("10"),  // Green
	Warning: lipgloss.Color("11"),  // Yellow
	Muted:   lipgloss.Color("240"), // Gray
}

const (
	colEnabled = 5
	colRunning = 6
)

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// renderSchedules writes schedules as a table, or as tab-separated lines
// when simple is set.
func renderSchedules(w io.Writer, schedules []*store.Schedule, loc *time.Location, simple bool) {
	if simple {
		for _, s := range schedules {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Name, s.CronSchedule, s.TaskType, yesNo(s.Enabled), formatTime(s.NextRun, loc))
		}
		return
	}

	if len(schedules) == 0 {
		fmt.Fprintln(w, "No schedules found")
		return
	}

	rows := make([][]string, 0, len(schedules))
	for _, s := range schedules {
		name := s.Name
		if s.IsDeleted {
			name += " (deleted)"
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			name,
			s.CronSchedule,
			s.TaskType,
			formatTime(s.NextRun, loc),
			yesNo(s.Enabled),
			yesNo(s.IsRunning),
			formatTime(s.LastRun, loc),
		})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Muted)).
		Headers("ID", "NAME", "CRON", "TYPE", "NEXT RUN", "ENABLED", "RUNNING", "LAST RUN").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cell.Bold(true).Foreground(theme.Header)
			}
			if row < 0 || row >= len(rows) {
				return cell
			}
			switch v := rows[row][col]; {
			case col == colEnabled && v == "no":
				return cell.Foreground(theme.Muted)
			case col == colEnabled:
				return cell.Foreground(theme.Success)
			case col == colRunning && v == "yes":
				return cell.Foreground(theme.Warning)
			}
			return cell
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Total: %d\n", len(schedules))
}
