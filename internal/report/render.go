package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"steadyvu/internal/stats"
	"steadyvu/internal/threshold"
)

// Document is the machine-readable form of a RunReport.
type Document struct {
	Summary    Summary            `json:"summary"`
	Metrics    []MetricRow        `json:"metrics"`
	Groups     []GroupRow         `json:"groups"`
	Thresholds []threshold.Result `json:"thresholds"`
}

type Summary struct {
	RunID       string  `json:"run_id"`
	StartedAt   string  `json:"started_at"`
	EndedAt     string  `json:"ended_at"`
	DurationSec float64 `json:"duration_sec"`
	MaxVUs      int     `json:"max_vus"`
	Iterations  float64 `json:"iterations"`
	Requests    float64 `json:"requests"`
	Interrupted bool    `json:"interrupted,omitempty"`
	Passed      bool    `json:"passed"`
}

type MetricRow struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Count  int64   `json:"count"`
	Value  float64 `json:"value"`
	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Med    float64 `json:"med"`
	Max    float64 `json:"max"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

type GroupRow struct {
	Group       string  `json:"group"`
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failure     int64   `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
}

// Render builds the document and the human-readable summary of r.
// It has no side effects.
func Render(r *RunReport) (Document, string) {
	doc := buildDocument(r)

	var b strings.Builder
	fmt.Fprintf(&b, "run %s  %s -> %s  (%s)\n",
		doc.Summary.RunID,
		r.StartedAt.Format(time.RFC3339),
		r.EndedAt.Format(time.RFC3339),
		r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "max vus: %d  iterations: %.0f  requests: %.0f\n",
		doc.Summary.MaxVUs, doc.Summary.Iterations, doc.Summary.Requests)
	if r.Interrupted {
		b.WriteString("run was interrupted before the last stage finished\n")
	}

	b.WriteString("\nMETRICS\n")
	metricTable(&b, doc.Metrics)

	if len(doc.Groups) > 0 {
		b.WriteString("\nAPI CALLS BY GROUP\n")
		groupTable(&b, doc.Groups)
	}

	if len(doc.Thresholds) > 0 {
		b.WriteString("\nTHRESHOLDS\n")
		for _, t := range doc.Thresholds {
			mark := "✓"
			if !t.Passed {
				mark = "✗"
			}
			line := fmt.Sprintf("  %s %s", mark, t.Name)
			if t.Reason != "" {
				line += " (" + t.Reason + ")"
			} else {
				line += fmt.Sprintf(" (actual %s)", formatFloat(t.Actual))
			}
			b.WriteString(line + "\n")
		}
	}

	verdict := "PASSED"
	if !r.Passed {
		verdict = "FAILED"
	}
	fmt.Fprintf(&b, "\nresult: %s\n", verdict)

	return doc, b.String()
}

func buildDocument(r *RunReport) Document {
	doc := Document{
		Summary: Summary{
			RunID:       r.RunID,
			StartedAt:   r.StartedAt.Format(time.RFC3339Nano),
			EndedAt:     r.EndedAt.Format(time.RFC3339Nano),
			DurationSec: r.Duration.Seconds(),
			MaxVUs:      r.MaxVUs,
			Iterations:  r.Counter(stats.MetricIterations),
			Requests:    r.Counter(stats.MetricHTTPReqs),
			Interrupted: r.Interrupted,
			Passed:      r.Passed,
		},
		Metrics:    make([]MetricRow, 0, len(r.Metrics)),
		Groups:     make([]GroupRow, 0, len(r.Groups)),
		Thresholds: append([]threshold.Result(nil), r.Thresholds...),
	}

	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := r.Metrics[name]
		doc.Metrics = append(doc.Metrics, MetricRow{
			Name:   name,
			Kind:   m.Kind.String(),
			Count:  m.Count,
			Value:  m.Value,
			Passes: m.Passes,
			Fails:  m.Fails,
			Avg:    m.Avg,
			Min:    m.Min,
			Med:    m.Med,
			Max:    m.Max,
			P90:    m.P90,
			P95:    m.P95,
			P99:    m.P99,
		})
	}

	groups := make([]string, 0, len(r.Groups))
	for name := range r.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		g := r.Groups[name]
		doc.Groups = append(doc.Groups, GroupRow{
			Group:       name,
			Total:       g.Total,
			Success:     g.Success,
			Failure:     g.Failure,
			SuccessRate: g.SuccessRate,
		})
	}
	return doc
}

func newTable(b *strings.Builder, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(b)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetCenterSeparator(" ")
	return table
}

func metricTable(b *strings.Builder, rows []MetricRow) {
	table := newTable(b, []string{"metric", "kind", "count", "value", "avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"})
	for _, m := range rows {
		row := []string{m.Name, m.Kind, fmt.Sprint(m.Count)}
		switch m.Kind {
		case stats.Trend.String():
			row = append(row, "",
				formatFloat(m.Avg), formatFloat(m.Min), formatFloat(m.Med),
				formatFloat(m.Max), formatFloat(m.P90), formatFloat(m.P95), formatFloat(m.P99))
		case stats.Rate.String():
			row = append(row, fmt.Sprintf("%.2f%% (%d/%d)", m.Value*100, m.Passes, m.Count),
				"", "", "", "", "", "", "")
		default:
			row = append(row, formatFloat(m.Value), "", "", "", "", "", "", "")
		}
		table.Append(row)
	}
	table.Render()
}

func groupTable(b *strings.Builder, rows []GroupRow) {
	table := newTable(b, []string{"group", "total", "success", "failure", "success rate"})
	for _, g := range rows {
		table.Append([]string{
			g.Group,
			fmt.Sprint(g.Total),
			fmt.Sprint(g.Success),
			fmt.Sprint(g.Failure),
			fmt.Sprintf("%.2f%%", g.SuccessRate*100),
		})
	}
	table.Render()
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
