package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"steadyvu/internal/report"
	"steadyvu/internal/runner"
	"steadyvu/internal/tui/live"
	"steadyvu/internal/tui/result"
	"steadyvu/internal/tui/styles"
)

type progressMsg runner.Progress

type doneMsg struct {
	report *report.RunReport
}

// Model is the root program: the live view while the run executes, then the
// result view once the report arrives.
type Model struct {
	Title   string
	Updates runner.ProgressChan

	Live   live.Model
	Result result.Model

	// Stop cancels the run. The model keeps waiting for the report.
	Stop     context.CancelFunc
	Stopping bool
	Done     bool
}

func NewModel(title string, updates runner.ProgressChan, stop context.CancelFunc) Model {
	return Model{
		Title:   title,
		Updates: updates,
		Live:    live.NewModel(),
		Stop:    stop,
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.Updates)
}

func waitForUpdate(sub runner.ProgressChan) tea.Cmd {
	return func() tea.Msg {
		return progressMsg(<-sub)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.Done {
				return m, tea.Quit
			}
			if !m.Stopping && m.Stop != nil {
				m.Stopping = true
				m.Stop()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		m.Result, _ = m.Result.Update(msg)
		return m, cmd

	case progressMsg:
		if m.Done {
			return m, nil
		}
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(runner.Progress(msg))
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))

	case doneMsg:
		m.Done = true
		m.Result = result.NewModel(msg.report)
		m.Result.Width, m.Result.Height = m.Live.Width, m.Live.Height
		return m, nil

	default:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.Done {
		return m.Result.View()
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render(m.Title))
	s.WriteString("\n\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n\n")
	if m.Stopping {
		s.WriteString(styles.Warn.Render("Stopping: waiting for in-flight iterations..."))
	} else {
		s.WriteString(styles.RenderKey("q", "stop run"))
	}
	return s.String()
}

// Run executes run under a live view and returns its report. Quitting the
// view early cancels the run; the report is still returned.
func Run(ctx context.Context, title string, updates runner.ProgressChan, run func(context.Context) *report.RunReport) (*report.RunReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, updates, cancel), tea.WithAltScreen())

	reports := make(chan *report.RunReport, 1)
	go func() {
		rep := run(ctx)
		reports <- rep
		p.Send(doneMsg{report: rep})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-reports
		return nil, fmt.Errorf("live view: %w", err)
	}

	// The view may exit before the run does, e.g. on a signal.
	cancel()
	return <-reports, nil
}
