package result

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"steadyvu/internal/report"
	"steadyvu/internal/tui/styles"
)

// Model shows the final report of a run.
type Model struct {
	Report *report.RunReport

	Width  int
	Height int
}

func NewModel(r *report.RunReport) Model {
	return Model{Report: r}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	if m.Report == nil {
		return styles.Subtle.Render("No report.")
	}
	doc, text := report.Render(m.Report)

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("Test Complete"))
	s.WriteString("  ")
	s.WriteString(styles.Verdict(m.Report.Passed))
	s.WriteString("\n\n")

	overview := fmt.Sprintf(
		"Iterations: %.0f\nRequests:   %.0f\nMax VUs:    %d\nDuration:   %.1fs",
		doc.Summary.Iterations, doc.Summary.Requests, doc.Summary.MaxVUs, doc.Summary.DurationSec,
	)
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	if failed := m.Report.FailedThresholds(); len(failed) > 0 {
		for _, t := range failed {
			s.WriteString(styles.Error.Render("✗ " + t.Name))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	s.WriteString(text)
	s.WriteString("\n")
	s.WriteString(styles.RenderKey("q", "quit"))

	return s.String()
}
