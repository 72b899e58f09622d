// Package threshold parses and evaluates pass/fail predicates such as
// "p(95) < 1500" or "rate > 0.9" against aggregated metrics.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"steadyvu/internal/stats"
)

var ErrSyntax = errors.New("threshold syntax error")

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|count|rate|value|sum|p\(\s*[0-9.]+\s*\)|p[0-9.]+)\s*(<=|>=|==|!=|<|>)\s*(-?[0-9]*\.?[0-9]+)\s*(ms|s|m)?\s*$`,
)

// Expr is a parsed threshold expression.
type Expr struct {
	Raw       string `json:"raw"`
	Aggregate string `json:"aggregate"`
	// Percentile is set when Aggregate is "p".
	Percentile float64 `json:"percentile,omitempty"`
	Op         string  `json:"op"`
	// Value is normalized to milliseconds when a unit was given.
	Value float64 `json:"value"`
}

// Parse parses "<aggregate> <op> <number>[ms|s|m]".
func Parse(raw string) (Expr, error) {
	m := exprPattern.FindStringSubmatch(raw)
	if m == nil {
		return Expr{}, fmt.Errorf("%q: %w", raw, ErrSyntax)
	}

	e := Expr{Raw: strings.TrimSpace(raw), Aggregate: m[1], Op: m[2]}

	if strings.HasPrefix(e.Aggregate, "p") {
		digits := strings.Trim(e.Aggregate[1:], "() ")
		p, err := strconv.ParseFloat(digits, 64)
		if err != nil || p < 0 || p > 100 {
			return Expr{}, fmt.Errorf("%q: percentile %q out of range: %w", raw, digits, ErrSyntax)
		}
		e.Aggregate = "p"
		e.Percentile = p
	}

	v, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Expr{}, fmt.Errorf("%q: %w", raw, ErrSyntax)
	}
	switch m[4] {
	case "s":
		v *= 1000
	case "m":
		v *= 60 * 1000
	}
	e.Value = v
	return e, nil
}

func (e Expr) compare(actual float64) bool {
	switch e.Op {
	case "<":
		return actual < e.Value
	case "<=":
		return actual <= e.Value
	case ">":
		return actual > e.Value
	case ">=":
		return actual >= e.Value
	case "==":
		return actual == e.Value
	case "!=":
		return actual != e.Value
	}
	return false
}

// MetricSource looks up aggregated metrics by name. stats.Snapshot
// implements it.
type MetricSource interface {
	Metric(name string) (stats.MetricSnapshot, bool)
}

// Result is the outcome of one threshold.
type Result struct {
	// Name is "<metric>: <expression>".
	Name   string  `json:"name"`
	Metric string  `json:"metric"`
	Expr   string  `json:"expr"`
	Passed bool    `json:"passed"`
	Actual float64 `json:"actual"`
	Reason string  `json:"reason,omitempty"`
}

// Evaluate checks every threshold against src. It never returns an error:
// unparseable expressions, unobserved metrics and aggregates that do not
// apply to a metric's kind all evaluate to failed results.
func Evaluate(src MetricSource, thresholds map[string][]string) []Result {
	metrics := make([]string, 0, len(thresholds))
	for name := range thresholds {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	var results []Result
	for _, metric := range metrics {
		for _, raw := range thresholds[metric] {
			results = append(results, evaluateOne(src, metric, raw))
		}
	}
	return results
}

func evaluateOne(src MetricSource, metric, raw string) Result {
	res := Result{
		Name:   metric + ": " + strings.TrimSpace(raw),
		Metric: metric,
		Expr:   strings.TrimSpace(raw),
	}

	expr, err := Parse(raw)
	if err != nil {
		res.Reason = err.Error()
		return res
	}

	m, ok := src.Metric(metric)
	if !ok || m.Count == 0 {
		res.Reason = "metric not observed"
		return res
	}

	actual, err := aggregate(m, expr)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.Actual = actual
	res.Passed = expr.compare(actual)
	return res
}

func aggregate(m stats.MetricSnapshot, e Expr) (float64, error) {
	switch m.Kind {
	case stats.Counter:
		switch e.Aggregate {
		case "count":
			return float64(m.Count), nil
		case "sum", "value":
			return m.Value, nil
		}
	case stats.Rate:
		switch e.Aggregate {
		case "rate", "value":
			return m.Value, nil
		case "count":
			return float64(m.Count), nil
		}
	case stats.Trend:
		switch e.Aggregate {
		case "avg", "value":
			return m.Avg, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "med":
			return m.Med, nil
		case "count":
			return float64(m.Count), nil
		case "p":
			return m.Percentile(e.Percentile), nil
		}
	}
	return 0, fmt.Errorf("aggregate %q does not apply to %s metric %q", e.Aggregate, m.Kind, m.Name)
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
