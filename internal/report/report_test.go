package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadyvu/internal/stats"
	"steadyvu/internal/threshold"
)

func fixture(t *testing.T) *RunReport {
	t.Helper()

	reg := stats.NewRegistry()
	reg.Add(stats.MetricIterations, 1)
	reg.Add(stats.MetricIterations, 1)
	reg.Mark(stats.MetricSuccessRate, true)
	reg.Mark(stats.MetricSuccessRate, false)
	reg.RecordCall(stats.CallOutcome{Group: "login", Success: true, StatusCode: 200, Latency: 120 * time.Millisecond})
	reg.RecordCall(stats.CallOutcome{Group: "search", Success: false, StatusCode: 500, Latency: 80 * time.Millisecond})

	snap := reg.Snapshot()
	results := threshold.Evaluate(snap, map[string][]string{
		stats.MetricSuccessRate:     {"rate > 0.9"},
		stats.MetricHTTPReqDuration: {"p(95) < 1500"},
	})

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return New("run-1", start, start.Add(65*time.Second), snap, results, 20)
}

func TestNew(t *testing.T) {
	r := fixture(t)
	assert.Equal(t, 65*time.Second, r.Duration)
	assert.False(t, r.Passed)
	require.Len(t, r.FailedThresholds(), 1)
	assert.Equal(t, "success_rate: rate > 0.9", r.FailedThresholds()[0].Name)
	assert.Equal(t, 2.0, r.Counter(stats.MetricIterations))
	assert.Equal(t, 0.0, r.Counter("missing"))

	m, ok := r.Snapshot().Metric(stats.MetricHTTPReqs)
	require.True(t, ok)
	assert.Equal(t, 2.0, m.Value)
}

func TestRenderIsPure(t *testing.T) {
	r := fixture(t)
	doc1, text1 := Render(r)
	doc2, text2 := Render(r)
	assert.Equal(t, doc1, doc2)
	assert.Equal(t, text1, text2)
}

func TestRenderDocument(t *testing.T) {
	doc, text := Render(fixture(t))

	assert.Equal(t, "run-1", doc.Summary.RunID)
	assert.Equal(t, 20, doc.Summary.MaxVUs)
	assert.Equal(t, 2.0, doc.Summary.Iterations)
	assert.Equal(t, 2.0, doc.Summary.Requests)
	assert.False(t, doc.Summary.Passed)

	require.Len(t, doc.Groups, 2)
	assert.Equal(t, GroupRow{Group: "login", Total: 1, Success: 1, SuccessRate: 1}, doc.Groups[0])
	assert.Equal(t, "search", doc.Groups[1].Group)
	assert.Equal(t, int64(1), doc.Groups[1].Failure)

	for i := 1; i < len(doc.Metrics); i++ {
		assert.Less(t, doc.Metrics[i-1].Name, doc.Metrics[i].Name)
	}

	assert.Contains(t, text, "API CALLS BY GROUP")
	assert.Contains(t, text, "login")
	assert.Contains(t, text, "http_req_duration")
	assert.Contains(t, text, "✗ success_rate: rate > 0.9")
	assert.Contains(t, text, "✓ http_req_duration: p(95) < 1500")
	assert.Contains(t, text, "result: FAILED")

	_, err := json.Marshal(doc)
	assert.NoError(t, err)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, fixture(t)))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc.Summary.RunID)
	assert.Len(t, doc.Thresholds, 2)
}

func TestWriteJSONKeepsZeroTrendValues(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Record("think_ms", 0)
	reg.Record("think_ms", 4)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New("run-2", start, start.Add(time.Second), reg.Snapshot(), nil, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r))

	var doc struct {
		Metrics []map[string]any `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Metrics, 1)
	assert.Contains(t, doc.Metrics[0], "min")
	assert.Equal(t, 0.0, doc.Metrics[0]["min"])
	assert.Equal(t, 4.0, doc.Metrics[0]["max"])

	raw, err := json.Marshal(r.Metrics["think_ms"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"min":0`)
}

func TestWriteCSV(t *testing.T) {
	r := fixture(t)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "section", records[0][0])
	assert.Len(t, records, 1+len(r.Metrics)+len(r.Groups))

	last := records[len(records)-1]
	assert.Equal(t, []string{"group", "search", "", "1", "0", "", "", "", "", "", "", "", "0", "1"}, last)
}

func TestExportFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "summary")
	require.NoError(t, ExportFiles(fixture(t), prefix))

	for _, ext := range []string{".json", ".csv", ".txt"} {
		data, err := os.ReadFile(prefix + ext)
		require.NoError(t, err, ext)
		assert.NotEmpty(t, strings.TrimSpace(string(data)), ext)
	}
}
