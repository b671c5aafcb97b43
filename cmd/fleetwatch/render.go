package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hako/durafmt"

	"fleetwatch/internal/controller"
	"fleetwatch/internal/liveness"
	"fleetwatch/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// column pads to width; longer cells are cut to one line.
func column(width int) lipgloss.Style {
	return lipgloss.NewStyle().Width(width).MaxHeight(1)
}

func healthStyle(health liveness.Health) lipgloss.Style {
	switch {
	case health.Offline:
		return offlineStyle
	case health.State == model.StateError || health.Malformed:
		return errorStyle
	case health.State.Active():
		return okStyle
	default:
		return mutedStyle
	}
}

// formatAge renders how long ago something happened, two units at most.
func formatAge(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return durafmt.Parse(d.Truncate(time.Second)).LimitFirstN(2).String() + " ago"
}

func renderProjects(w io.Writer, summaries []controller.ProjectSummary, mode string, now time.Time) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Projects (sorted by %s)", mode)))
	if len(summaries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no projects reporting"))
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(
		column(20).Render("PROJECT")+column(9).Render("WORKERS")+column(8).Render("ACTIVE")+
			column(10).Render("SLEEPING")+column(8).Render("ERROR")+column(9).Render("OFFLINE")+
			column(8).Render("SCALE")+"UPDATED"))
	for _, summary := range summaries {
		updated := "never"
		if !summary.LastUpdated.IsZero() {
			updated = formatAge(now.Sub(summary.LastUpdated))
		}
		errors := fmt.Sprint(summary.Errors)
		if summary.Errors > 0 {
			errors = errorStyle.Render(errors)
		}
		offline := fmt.Sprint(summary.Offline)
		if summary.Offline > 0 {
			offline = offlineStyle.Render(offline)
		}
		fmt.Fprintln(w,
			column(20).Render(summary.Name)+
				column(9).Render(fmt.Sprint(summary.Workers))+
				column(8).Render(fmt.Sprint(summary.Active))+
				column(10).Render(fmt.Sprint(summary.Sleeping))+
				column(8).Render(errors)+
				column(9).Render(offline)+
				column(8).Render(fmt.Sprint(summary.Scale))+
				updated)
	}
}

func renderWorkers(w io.Writer, project string, views []controller.WorkerView) {
	fmt.Fprintln(w, titleStyle.Render("Project "+project))
	if len(views) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no workers reporting"))
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(
		column(20).Render("WORKER")+column(12).Render("HEALTH")+column(30).Render("PROGRESS")+
			column(10).Render("FAILURES")+"LAST SEEN"))
	for _, view := range views {
		health := healthStyle(view.Health).Render(view.Health.Glyph() + " " + view.Health.Label())
		progress := "-"
		if view.Progress.Total > 0 {
			progress = model.ProgressBar(view.Progress.Done, view.Progress.Total, 10) + " " + view.Record.Progress
			if view.Record.Progress == "" {
				progress = model.ProgressBar(view.Progress.Done, view.Progress.Total, 10) +
					fmt.Sprintf(" %d/%d", view.Progress.Done, view.Progress.Total)
			}
		}
		lastSeen := "never"
		if view.Record.LastUpdated > 0 {
			lastSeen = formatAge(view.Health.Age)
		}
		fmt.Fprintln(w,
			column(20).Render(view.Worker)+
				column(12).Render(health)+
				column(30).Render(progress)+
				column(10).Render(fmt.Sprint(view.Failures))+
				lastSeen)
		if account := strings.TrimSpace(view.Record.CurrentAccount); account != "" {
			fmt.Fprintln(w, mutedStyle.Render("  current: "+account))
		}
	}
}

func renderFailures(w io.Writer, project string, worker string, entries []model.FailureEntry) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Failures %s | %s", project, worker)))
	if len(entries) == 0 {
		fmt.Fprintln(w, okStyle.Render("no failures recorded"))
		return
	}
	for _, entry := range entries {
		summary := ""
		if len(entry.Lines) > 0 {
			summary = model.ParseLogLine(entry.Lines[len(entry.Lines)-1]).Summary()
		}
		fmt.Fprintln(w, errorStyle.Render("• "+entry.Item)+mutedStyle.Render(fmt.Sprintf(" (%d lines) ", len(entry.Lines)))+summary)
	}
}

func renderFailureLog(w io.Writer, entry model.FailureEntry) {
	fmt.Fprintln(w, titleStyle.Render("Log for "+entry.Item))
	for _, line := range entry.Lines {
		fmt.Fprintln(w, line)
	}
}

func renderSettings(w io.Writer, settings controller.ScopeSettings) {
	fmt.Fprintln(w, titleStyle.Render("Notifications for "+settings.Scope))
	fmt.Fprintln(w, column(14).Render("kill switch")+onOff(settings.MuteAll, "muted", "off"))
	if settings.Scope != model.GlobalScope {
		fmt.Fprintln(w, column(14).Render("project mute")+onOff(settings.Muted, "muted", "off"))
	}
	for _, kind := range settings.Kinds {
		source := "inherited"
		if kind.Explicit {
			source = "explicit"
		}
		fmt.Fprintln(w, column(14).Render(string(kind.Kind))+onOff(!kind.Effective, "off", "on")+mutedStyle.Render(" ("+source+")"))
	}
}

// onOff renders flagged values in the error style.
func onOff(flagged bool, flaggedText string, clearText string) string {
	if flagged {
		return errorStyle.Render(flaggedText)
	}
	return okStyle.Render(clearText)
}
