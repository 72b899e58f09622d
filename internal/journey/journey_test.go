package journey

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"steadyvu/internal/analyzer"
	"steadyvu/internal/dummy"
	"steadyvu/internal/executor"
	"steadyvu/internal/runner"
	"steadyvu/internal/stats"
)

func quickJourney(t *testing.T, keepSession bool) *Journey {
	t.Helper()
	j, err := New(Options{KeepSession: keepSession})
	require.NoError(t, err)
	return j
}

func TestJourneyAgainstDummyServer(t *testing.T) {
	srv := httptest.NewServer(dummy.NewServer(dummy.ServerConfig{}).Handler())
	defer srv.Close()

	client := executor.NewClient(executor.Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	cfg := runner.RunConfig{
		Stages:        []runner.Stage{{Duration: 10 * time.Second, Target: 2}},
		StartVUs:      2,
		MaxIterations: 4,
		Tick:          10 * time.Millisecond,
		Thresholds: map[string][]string{
			"success_rate":      {"rate > 0.9"},
			MetricLoginSuccess:  {"rate == 1"},
			"http_req_duration": {"p(95) < 1500"},
		},
	}
	r, err := runner.New(cfg, client)
	require.NoError(t, err)

	rep := r.Run(context.Background(), quickJourney(t, false))
	require.NotNil(t, rep)
	assert.True(t, rep.Passed, "failed thresholds: %v", rep.FailedThresholds())
	assert.Equal(t, 4.0, rep.Counter(stats.MetricIterations))
	assert.Zero(t, rep.Counter(MetricAuthErrors))
	assert.Zero(t, rep.Counter(stats.MetricFailedCalls))

	for _, g := range []string{GroupAuth, GroupSearch, GroupBooks, GroupContents, GroupInteraction, GroupCreate, GroupRecommend, GroupRanking, GroupProfile, GroupLogout} {
		assert.Contains(t, rep.Groups, g)
	}
	assert.Equal(t, int64(8), rep.Groups[GroupAuth].Total)
	assert.Equal(t, int64(4), rep.Groups[GroupLogout].Success)

	for _, rate := range []string{MetricSignupSuccess, MetricBookDetail, MetricContentView, MetricLikeSuccess, MetricBookmark, MetricCreateContent, MetricLogoutSuccess} {
		m, ok := rep.Metrics[rate]
		require.True(t, ok, rate)
		assert.Equal(t, 1.0, m.Value, rate)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	paths []string
	fn    func(executor.Request) *executor.Response
}

func (f *fakeSender) Send(_ context.Context, req executor.Request) (*executor.Response, error) {
	f.mu.Lock()
	f.paths = append(f.paths, req.Method+" "+req.URL)
	f.mu.Unlock()
	return f.fn(req), nil
}

func (f *fakeSender) sent(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func newIteration(client executor.Sender) *runner.Iteration {
	return &runner.Iteration{
		State:   &runner.IterationContext{VU: 1, Iteration: 1, Vars: map[string]string{}},
		Client:  client,
		Metrics: stats.NewRegistry(),
		Log:     zap.NewNop(),
	}
}

func TestLoginWithoutTokenSkipsAuthSteps(t *testing.T) {
	fake := &fakeSender{fn: func(req executor.Request) *executor.Response {
		if req.URL == "/auth/login" {
			return &executor.Response{Status: 401, Body: []byte(`{"result":"ERROR","message":"invalid credentials","data":null}`)}
		}
		return &executor.Response{Status: 200, Body: []byte(`{"result":"SUCCESS","data":null}`)}
	}}
	it := newIteration(fake)

	require.NoError(t, quickJourney(t, false).Run(context.Background(), it))

	assert.False(t, it.State.HasToken())
	assert.True(t, it.State.Failed)
	assert.False(t, fake.sent("POST /likes/content/"))
	assert.False(t, fake.sent("POST /auth/logout"))
	assert.True(t, fake.sent("GET /ranking/users"))

	snap := it.Metrics.Snapshot()
	login, _ := snap.Metric(MetricLoginSuccess)
	assert.Equal(t, 0.0, login.Value)
	assert.Equal(t, "1", it.State.BookID)
	assert.Equal(t, "1", it.State.ContentID)
	assert.Equal(t, "1", it.State.QuoteID)
}

func TestServerErrorsCountAgainstSteps(t *testing.T) {
	fake := &fakeSender{fn: func(req executor.Request) *executor.Response {
		if strings.HasPrefix(req.URL, "/books") {
			return &executor.Response{Status: 503, Body: []byte("unavailable")}
		}
		return &executor.Response{Status: 404, Body: []byte(`{"result":"ERROR","message":"not found"}`)}
	}}
	it := newIteration(fake)
	require.NoError(t, quickJourney(t, false).Run(context.Background(), it))

	snap := it.Metrics.Snapshot()
	books, ok := snap.Metric(MetricBookErrors)
	require.True(t, ok)
	assert.Equal(t, 2.0, books.Value)

	// 4xx stays within the success policy.
	search, _ := snap.Metric(MetricSearchSuccess)
	assert.Equal(t, 1.0, search.Value)
	assert.True(t, it.State.Failed)
}

func TestKeepSessionSkipsLogin(t *testing.T) {
	fake := &fakeSender{fn: func(req executor.Request) *executor.Response {
		return &executor.Response{Status: 200, Body: []byte(`{"result":"SUCCESS","data":{}}`)}
	}}
	it := newIteration(fake)
	it.State.Token = "existing"
	it.State.UserID = "9"

	require.NoError(t, quickJourney(t, true).Run(context.Background(), it))
	assert.False(t, fake.sent("POST /auth/login"))
	assert.False(t, fake.sent("POST /auth/logout"))
	assert.True(t, fake.sent("GET /users/9"))
	assert.Equal(t, "existing", it.State.Token)
}

func TestUserIDFallbacks(t *testing.T) {
	body := analyzer.Analyze([]byte(`{"result":"SUCCESS","data":{"accessToken":"opaque","userId":7}}`), analyzer.Hints{})
	assert.Equal(t, "7", userID("opaque", body))

	empty := analyzer.Analyze([]byte(`{"result":"SUCCESS","data":{"accessToken":"opaque"}}`), analyzer.Hints{})
	assert.Equal(t, "1", userID("opaque", empty))

	// header.{"userId":12}.sig
	token := "eyJhbGciOiJIUzI1NiJ9.eyJ1c2VySWQiOjEyfQ.c2ln"
	assert.Equal(t, "12", userID(token, empty))
}

func TestThinkTime(t *testing.T) {
	j, err := New(Options{ThinkMin: time.Second, ThinkMax: 3 * time.Second})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		d := j.ThinkTime()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}

	_, err = New(Options{ThinkMin: 2 * time.Second, ThinkMax: time.Second})
	assert.Error(t, err)
}
