package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 2)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)
)

// summaryLines renders the run report as the lines shared by the log and
// the styled console box
func summaryLines(report *RunReport) []string {
	lines := []string{
		"📈 Summary",
		fmt.Sprintf("📅 Period: %s", report.Period),
		fmt.Sprintf("✅ Produced: %d", report.Produced),
		fmt.Sprintf("⏭️  Empty: %d", report.Empty),
	}
	if report.Failed > 0 {
		lines = append(lines, fmt.Sprintf("❌ Failed: %d", report.Failed))
	}
	if report.DryRun {
		lines = append(lines, "🧪 Dry run: nothing was uploaded or mailed")
	} else {
		lines = append(lines, fmt.Sprintf("☁️  Uploaded: %d/%d", len(report.Uploaded), len(report.Artifacts)))
		if report.MailSent {
			lines = append(lines, "📧 Email: sent")
		} else {
			lines = append(lines, "📧 Email: not sent")
		}
	}
	if report.ArchivePath != "" {
		lines = append(lines, fmt.Sprintf("🗜️  Archive: %s", filepath.Base(report.ArchivePath)))
	}
	lines = append(lines,
		fmt.Sprintf("🏁 Final state: %s", report.FinalState),
		fmt.Sprintf("⏱️  Duration: %s", report.Duration.Round(time.Millisecond)),
	)
	return lines
}

// printSummary logs the outcome of a run
func printSummary(log *slog.Logger, report *RunReport) {
	log.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, line := range summaryLines(report) {
		log.Info(line)
	}

	for _, f := range report.Failures {
		log.Error(fmt.Sprintf("❌ %s (%s): %v", f.Report, f.Stage, f.Err))
	}
	for _, s := range report.Stages {
		if s.Err != nil && !s.Skipped {
			log.Warn(fmt.Sprintf("⚠️  %s: %v", s.State, s.Err))
		}
	}
}

// renderSummary returns the styled summary box for the console
func renderSummary(report *RunReport, runErr error) string {
	lines := summaryLines(report)
	if runErr != nil {
		lines = append(lines, "", failStyle.Render("❌ "+runErr.Error()))
	} else {
		lines = append(lines, "", okStyle.Render("✅ Run completed"))
	}
	return summaryBoxStyle.Render(strings.Join(lines, "\n"))
}
