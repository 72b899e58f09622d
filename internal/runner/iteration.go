package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"steadyvu/internal/analyzer"
	"steadyvu/internal/executor"
	"steadyvu/internal/stats"
)

// IterationContext is the scratch state of one iteration. It is owned by a
// single worker and discarded when the iteration ends; only Token and UserID
// carry over to the worker's next iteration.
type IterationContext struct {
	ID        string
	VU        int
	Iteration int64

	Token  string
	UserID string

	BookID    string
	ContentID string
	QuoteID   string
	Vars      map[string]string

	// Failed marks the iteration unsuccessful without aborting it.
	Failed bool
}

// HasToken reports whether an access token is available.
func (c *IterationContext) HasToken() bool {
	return c.Token != ""
}

// session is what a VU remembers between iterations.
type session struct {
	token  string
	userID string
}

// Iteration hands a workflow its context and the run's shared capabilities.
type Iteration struct {
	State   *IterationContext
	Client  executor.Sender
	Metrics *stats.Registry
	Log     *zap.Logger

	templates *TemplateEngine
}

// Step describes one HTTP call made through Call.
type Step struct {
	Group  string
	Name   string
	Method string
	// Path is joined to the client's base URL unless absolute.
	Path    string
	Query   map[string]string
	Headers map[string]string
	// Body is sent as is when []byte or string, otherwise JSON encoded.
	Body any
	// Auth adds the iteration's bearer token when one is present.
	Auth    bool
	Timeout time.Duration

	// Accept decides success. Defaults to executor.Status2xx.
	Accept executor.Accept
	Hints  analyzer.Hints
}

// CallResult is the outcome of a Step.
type CallResult struct {
	stats.CallOutcome
	Response *executor.Response
	Analysis analyzer.Analysis
}

// OK reports whether the call succeeded under its Accept policy.
func (r CallResult) OK() bool {
	return r.Success
}

// Call executes s, analyzes the body and records the outcome. It never
// returns an error: transport failures and rejected statuses are failed
// outcomes, and the workflow decides how to continue.
func (it *Iteration) Call(ctx context.Context, s Step) CallResult {
	group := s.Group
	if group == "" {
		group = stats.DefaultGroup
	}
	res := CallResult{CallOutcome: stats.CallOutcome{Group: group, Name: s.Name}}

	body, err := encodeBody(s.Body)
	if err != nil {
		res.Err = err
		it.buildFailed(res)
		return res
	}

	req := executor.Request{
		Method:  s.Method,
		URL:     s.Path,
		Query:   s.Query,
		Body:    body,
		Timeout: s.Timeout,
		Headers: make(map[string]string, len(s.Headers)+1),
	}
	for k, v := range s.Headers {
		req.Headers[k] = v
	}
	if s.Auth && it.State.HasToken() {
		req.Headers["Authorization"] = "Bearer " + it.State.Token
	}

	start := time.Now()
	resp, err := it.Client.Send(ctx, req)
	if err != nil {
		res.Err = err
		if executor.KindOf(err) == executor.KindInvalid {
			it.buildFailed(res)
			return res
		}
		res.Latency = executor.Duration(err)
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		it.record(res)
		return res
	}

	accept := s.Accept
	if accept == nil {
		accept = executor.Status2xx
	}
	res.Response = resp
	res.StatusCode = resp.Status
	res.Latency = resp.Duration
	res.Success = accept(resp.Status)
	res.Analysis = analyzer.Analyze(resp.Body, s.Hints)

	it.record(res)
	return res
}

func (it *Iteration) record(res CallResult) {
	it.Metrics.RecordCall(res.CallOutcome)
	if res.Success {
		return
	}

	fields := []zap.Field{
		zap.Int("vu", it.State.VU),
		zap.Int64("iteration", it.State.Iteration),
		zap.String("group", res.Group),
		zap.String("step", res.Name),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", res.Latency),
	}
	switch {
	case executor.IsClientErrorStatus(res.StatusCode):
		fields = append(fields, zap.String("class", "client_error"))
	case executor.IsServerErrorStatus(res.StatusCode):
		fields = append(fields, zap.String("class", "server_error"))
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	} else if !res.Analysis.JSON() {
		fields = append(fields, zap.String("body", res.Analysis.Text))
	} else if msg := envelopeMessage(res.Analysis.Envelope); msg != "" {
		fields = append(fields, zap.String("message", msg))
	}
	it.Log.Debug("call failed", fields...)
}

func envelopeMessage(env analyzer.Envelope) string {
	switch e := env.(type) {
	case analyzer.StandardEnvelope:
		return e.Message
	case analyzer.PagedEnvelope:
		return e.Message
	}
	return ""
}

// buildFailed counts a call that never reached the network. It stays out of
// the group and request totals, which only count issued requests.
func (it *Iteration) buildFailed(res CallResult) {
	it.Metrics.Add(stats.MetricRequestBuildErrors, 1)
	it.Log.Warn("request not sent",
		zap.Int("vu", it.State.VU),
		zap.Int64("iteration", it.State.Iteration),
		zap.String("group", res.Group),
		zap.String("step", res.Name),
		zap.Error(res.Err),
	)
}

// SetToken stores the bearer token for this and later iterations.
func (it *Iteration) SetToken(token, userID string) {
	it.State.Token = token
	it.State.UserID = userID
}

// ClearToken forgets the session, e.g. after logout.
func (it *Iteration) ClearToken() {
	it.State.Token = ""
	it.State.UserID = ""
}

// Render executes a payload template with this iteration's data.
func (it *Iteration) Render(t *template.Template) (string, error) {
	if it.templates == nil {
		it.templates = NewTemplateEngine()
	}
	return it.templates.Execute(t, TemplateData{
		VU:        it.State.VU,
		Iteration: it.State.Iteration,
		UserID:    it.State.UserID,
		UUID:      it.State.ID,
	})
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return data, nil
	}
}
