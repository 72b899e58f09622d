package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steadyvu/internal/runner"
	"steadyvu/internal/tui/components"
	"steadyvu/internal/tui/styles"
)

// Model shows a run in progress.
type Model struct {
	Stats    runner.Progress
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline
	VUsLine     components.Sparkline

	LastUpdate time.Time
	LastReqs   float64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "Requests/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P95 (ms)", styles.Warn),
		VUsLine:     components.NewSparkline(40, "Active VUs", styles.Value),
		LastUpdate:  time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.Progress:
		now := time.Now()
		dt := now.Sub(m.LastUpdate).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}

		m.RpsLine.Add((msg.Requests - m.LastReqs) / dt)
		m.LatencyLine.Add(msg.P95Ms)
		m.VUsLine.Add(float64(msg.VUs))

		m.Stats = msg
		m.LastReqs = msg.Requests
		m.LastUpdate = now

		return m, m.Progress.SetPercent(msg.Fraction())

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		third := (msg.Width / 3) - 6
		if third < 10 {
			third = 10
		}
		m.RpsLine.Width = third
		m.LatencyLine.Width = third
		m.VUsLine.Width = third
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	p := m.Stats

	errRate := 0.0
	if p.Requests > 0 {
		errRate = p.Failed / p.Requests * 100
	}

	col1 := fmt.Sprintf("VUS: %d / %d\nITER: %.0f", p.VUs, p.MaxVUs, p.Iterations)
	col2 := fmt.Sprintf("REQ: %.0f\nFAIL: %.0f", p.Requests, p.Failed)
	col3 := fmt.Sprintf("ERR: %.2f%%\nOK ITER: %.1f%%", errRate, p.SuccessRate*100)

	grid := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(col2),
		styles.Box.Render(styles.ErrorRate(errRate).Render(col3)),
	)
	s.WriteString(grid)
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
		styles.Box.Render(m.VUsLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf(
		"P50: %.2f ms  |  P95: %.2f ms  |  P99: %.2f ms",
		p.P50Ms, p.P95Ms, p.P99Ms,
	)
	width := m.Width - 4
	if width < 20 {
		width = 60
	}
	s.WriteString(styles.Box.Width(width).Render(latencies))
	s.WriteString("\n\n")

	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s / %s",
		p.Elapsed.Round(time.Second), p.Total.Round(time.Second))))
	s.WriteString("\n")
	s.WriteString(m.Progress.View())

	return s.String()
}
