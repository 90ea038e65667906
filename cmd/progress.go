package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/efektum/mystery-hours/cmd/reports"
)

const recentResults = 5

type progressModel struct {
	spinner   spinner.Model
	bar       progress.Model
	stage     RunState
	current   int
	total     int
	report    string
	results   []string
	done      bool
	err       error
	width     int
	startTime time.Time
	cancel    context.CancelFunc
}

type stageMsg struct {
	state RunState
}

type reportStartedMsg struct {
	index int
	total int
	name  string
}

type reportFinishedMsg struct {
	index  int
	total  int
	result reports.Result
}

type runDoneMsg struct {
	err error
}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

var stageLabels = map[RunState]string{
	StateInit:               "Starting...",
	StateConnected:          "Connecting to database...",
	StateDefinitionsFetched: "Fetching report definitions...",
	StateReportsRun:         "Running reports...",
	StateFolderResolved:     "Resolving delivery folder...",
	StateUploaded:           "Uploading reports...",
	StateArchived:           "Creating archive...",
	StateNotified:           "Sending email...",
	StateCleanedUp:          "Cleaning up...",
	StateDone:               "Done",
}

func newProgressModel(cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		spinner: s,
		bar: progress.New(
			progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
			progress.WithWidth(60),
		),
		stage:     StateInit,
		startTime: time.Now(),
		cancel:    cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.cancel != nil {
				m.cancel()
			}
			m.done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-10, 10)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stageMsg:
		m.stage = msg.state
	case reportStartedMsg:
		m.current = msg.index - 1
		m.total = msg.total
		m.report = msg.name
	case reportFinishedMsg:
		m.current = msg.index
		m.total = msg.total
		m.results = append(m.results, resultLine(msg.result))
		if len(m.results) > recentResults {
			m.results = m.results[len(m.results)-recentResults:]
		}
	case runDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func resultLine(res reports.Result) string {
	switch res.Status {
	case reports.Produced:
		return fmt.Sprintf("   ✅ %s - %d rows", res.Name, res.Table.Len())
	case reports.Empty:
		return fmt.Sprintf("   ⏭  %s - no rows", res.Name)
	default:
		return fmt.Sprintf("   ❌ %s - Error: %v", res.Name, res.Err)
	}
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, "", tableHeaderStyle.Render("   MS_Godziny reports"), "")

	label := stageLabels[m.stage]
	sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %s", m.spinner.View(), label)))

	if m.total > 0 {
		sections = append(sections, "")
		info := fmt.Sprintf("   Reports: %d/%d", m.current, m.total)
		if m.report != "" && m.current < m.total {
			info += " - " + m.report
		}
		sections = append(sections, progressInfoStyle.Render(info))
		sections = append(sections, "   "+m.bar.ViewAs(float64(m.current)/float64(m.total)))
	}

	if len(m.results) > 0 {
		sections = append(sections, "", tableHeaderStyle.Render("   Recent Results"), "")
		sections = append(sections, m.results...)
	}

	elapsed := time.Since(m.startTime).Round(time.Second)
	sections = append(sections, "", helpStyle.Render(fmt.Sprintf("   Elapsed %s · Press Ctrl+C or 'q' to quit", elapsed)))

	return strings.Join(sections, "\n")
}

// teaObserver forwards pipeline progress to a running bubbletea program
type teaObserver struct {
	program *tea.Program
}

func (o teaObserver) StageStarted(state RunState) {
	o.program.Send(stageMsg{state: state})
}

func (o teaObserver) ReportStarted(index, total int, name string) {
	o.program.Send(reportStartedMsg{index: index, total: total, name: name})
}

func (o teaObserver) ReportFinished(index, total int, result reports.Result) {
	o.program.Send(reportFinishedMsg{index: index, total: total, result: result})
}

// isInteractive reports whether stdout is a terminal
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// runWithProgress runs build's pipeline while showing the progress view.
// build receives the observer to attach.
func runWithProgress(ctx context.Context, build func(Observer) *Pipeline) (*RunReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newProgressModel(cancel))
	pipeline := build(teaObserver{program: program})

	type outcome struct {
		report *RunReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := pipeline.Run(ctx)
		program.Send(runDoneMsg{err: err})
		done <- outcome{report: report, err: err}
	}()

	if _, err := program.Run(); err != nil {
		logger.Warn(fmt.Sprintf("⚠️  Progress view stopped: %v", err))
	}

	result := <-done
	return result.report, result.err
}
