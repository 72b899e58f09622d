package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// WriteJSON writes the rendered document of r as indented JSON.
func WriteJSON(w io.Writer, r *RunReport) error {
	doc, _ := Render(r)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteCSV writes one row per metric followed by one row per group.
// Schema: section,name,kind,count,value,avg,min,med,max,p90,p95,p99,success,failure
func WriteCSV(w io.Writer, r *RunReport) error {
	doc, _ := Render(r)

	cw := csv.NewWriter(w)

	header := []string{
		"section", "name", "kind", "count", "value",
		"avg", "min", "med", "max", "p90", "p95", "p99",
		"success", "failure",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, m := range doc.Metrics {
		record := []string{
			"metric",
			m.Name,
			m.Kind,
			strconv.FormatInt(m.Count, 10),
			ftoa(m.Value),
			ftoa(m.Avg),
			ftoa(m.Min),
			ftoa(m.Med),
			ftoa(m.Max),
			ftoa(m.P90),
			ftoa(m.P95),
			ftoa(m.P99),
			strconv.FormatInt(m.Passes, 10),
			strconv.FormatInt(m.Fails, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	for _, g := range doc.Groups {
		record := []string{
			"group",
			g.Group,
			"",
			strconv.FormatInt(g.Total, 10),
			ftoa(g.SuccessRate),
			"", "", "", "", "", "", "",
			strconv.FormatInt(g.Success, 10),
			strconv.FormatInt(g.Failure, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportFiles writes <prefix>.json, <prefix>.csv and <prefix>.txt.
func ExportFiles(r *RunReport, prefix string) error {
	_, text := Render(r)

	sinks := []struct {
		ext   string
		write func(io.Writer, *RunReport) error
	}{
		{".json", WriteJSON},
		{".csv", WriteCSV},
		{".txt", func(w io.Writer, _ *RunReport) error {
			_, err := io.WriteString(w, text)
			return err
		}},
	}

	for _, s := range sinks {
		if err := writeFile(prefix+s.ext, r, s.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(name string, r *RunReport, write func(io.Writer, *RunReport) error) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := write(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
