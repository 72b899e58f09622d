package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadyvu/internal/report"
	"steadyvu/internal/runner"
	"steadyvu/internal/stats"
)

func keyQ() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
}

func TestModelLifecycle(t *testing.T) {
	stopped := 0
	m := NewModel("run", make(runner.ProgressChan, 1), func() { stopped++ })

	next, cmd := m.Update(progressMsg(runner.Progress{
		Elapsed:  time.Second,
		Total:    4 * time.Second,
		VUs:      3,
		MaxVUs:   3,
		Requests: 10,
		Failed:   1,
		P95Ms:    42,
	}))
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Equal(t, 3, m.Live.Stats.VUs)
	assert.Contains(t, m.View(), "VUS: 3 / 3")

	// First q stops the run but keeps the view until the report arrives.
	next, cmd = m.Update(keyQ())
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.True(t, m.Stopping)
	assert.Equal(t, 1, stopped)
	assert.Contains(t, m.View(), "Stopping")

	next, _ = m.Update(keyQ())
	m = next.(Model)
	assert.Equal(t, 1, stopped)

	now := time.Now()
	rep := report.New("id", now, now.Add(time.Second), stats.NewRegistry().Snapshot(), nil, 3)
	next, _ = m.Update(doneMsg{report: rep})
	m = next.(Model)
	require.True(t, m.Done)
	assert.Contains(t, m.View(), "Test Complete")

	_, cmd = m.Update(keyQ())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestProgressAfterDoneIsIgnored(t *testing.T) {
	m := NewModel("run", make(runner.ProgressChan, 1), nil)
	next, _ := m.Update(doneMsg{report: nil})
	m = next.(Model)

	_, cmd := m.Update(progressMsg(runner.Progress{VUs: 9}))
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "No report.")
}
