// Package journey is the built-in user journey against the book and
// short-form content API: sign up, log in, search, browse books and
// contents, interact, create content, check rankings and log out.
//
// Every call counts as successful when the server answers below 500, so
// client errors caused by stale ids or missing data do not fail the run.
// Ids extracted from earlier responses feed later steps and fall back to
// "1" when a response carries none.
package journey

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"text/template"
	"time"

	"go.uber.org/zap"

	"steadyvu/internal/analyzer"
	"steadyvu/internal/executor"
	"steadyvu/internal/runner"
)

// Metric names recorded by the journey on top of the engine's own.
const (
	MetricUserSuccess    = "user_success_rate"
	MetricSignupSuccess  = "signup_success_rate"
	MetricLoginSuccess   = "login_success_rate"
	MetricSearchSuccess  = "search_success_rate"
	MetricBookDetail     = "book_details_success_rate"
	MetricContentView    = "content_view_success_rate"
	MetricLikeSuccess    = "like_success_rate"
	MetricBookmark       = "bookmark_success_rate"
	MetricCreateContent  = "create_content_success_rate"
	MetricLogoutSuccess  = "logout_success_rate"
	MetricAPILatency     = "api_latency"
	MetricAuthErrors     = "auth_errors"
	MetricSearchErrors   = "search_errors"
	MetricContentErrors  = "content_errors"
	MetricBookErrors     = "book_errors"
	MetricInteractErrors = "interaction_errors"
)

// Group labels of the per-group call table.
const (
	GroupAuth        = "auth"
	GroupSearch      = "search"
	GroupBooks       = "books"
	GroupContents    = "contents"
	GroupInteraction = "interaction"
	GroupCreate      = "create"
	GroupRecommend   = "recommend"
	GroupRanking     = "ranking"
	GroupProfile     = "profile"
	GroupLogout      = "logout"
)

const fallbackID = "1"

var rankTypes = []string{"BRONZE", "SILVER", "GOLD", "PLATINUM", "DIAMOND"}

type Options struct {
	ThinkMin time.Duration
	ThinkMax time.Duration
	// KeepSession reuses the VU's token across iterations and skips
	// signup, login and logout once logged in.
	KeepSession bool
	Keywords    []string
	Password    string
}

func DefaultOptions() Options {
	return Options{
		ThinkMin: time.Second,
		ThinkMax: 3 * time.Second,
		Keywords: []string{"mystery", "history", "future", "novel"},
		Password: "Test1234!",
	}
}

// Journey is safe for use by every VU at once.
type Journey struct {
	opts     Options
	username *template.Template
	nickname *template.Template
}

func New(opts Options) (*Journey, error) {
	def := DefaultOptions()
	if len(opts.Keywords) == 0 {
		opts.Keywords = def.Keywords
	}
	if opts.Password == "" {
		opts.Password = def.Password
	}
	if opts.ThinkMax < opts.ThinkMin {
		return nil, fmt.Errorf("think max %s below min %s", opts.ThinkMax, opts.ThinkMin)
	}

	engine := runner.NewTemplateEngine()
	username, err := engine.Parse("username", "testuser_{{vu}}_{{iteration}}_{{randomString 8}}")
	if err != nil {
		return nil, err
	}
	nickname, err := engine.Parse("nickname", "tester_{{randomString 4}}")
	if err != nil {
		return nil, err
	}
	return &Journey{opts: opts, username: username, nickname: nickname}, nil
}

// ThinkTime pauses a VU between iterations for a uniform random duration
// in [ThinkMin, ThinkMax].
func (j *Journey) ThinkTime() time.Duration {
	spread := j.opts.ThinkMax - j.opts.ThinkMin
	if spread <= 0 {
		return j.opts.ThinkMin
	}
	return j.opts.ThinkMin + time.Duration(rand.Int63n(int64(spread)+1))
}

// Run executes one pass of the journey. Auth-only steps are skipped when no
// token could be obtained.
func (j *Journey) Run(ctx context.Context, it *runner.Iteration) error {
	f := &flow{j: j, it: it, ok: true}

	if err := f.auth(ctx); err != nil {
		return err
	}
	f.search(ctx)
	f.books(ctx)
	f.contents(ctx)

	if it.State.HasToken() {
		f.interact(ctx)
		f.create(ctx)
		f.recommend(ctx)
	}
	f.ranking(ctx)
	if it.State.HasToken() {
		f.profile(ctx)
		if !j.opts.KeepSession {
			f.logout(ctx)
		}
	}

	it.Metrics.Mark(MetricUserSuccess, f.ok)
	if !f.ok {
		it.State.Failed = true
	}
	return nil
}

// flow carries one iteration's pass through the journey.
type flow struct {
	j  *Journey
	it *runner.Iteration
	ok bool
}

// call issues s under the journey's success policy and records the step
// rate and error counter when given.
func (f *flow) call(ctx context.Context, s runner.Step, rate, errCounter string) runner.CallResult {
	if s.Accept == nil {
		s.Accept = executor.StatusBelow(500)
	}
	res := f.it.Call(ctx, s)

	m := f.it.Metrics
	m.RecordDuration(MetricAPILatency, res.Latency)
	if rate != "" {
		m.Mark(rate, res.OK())
	}
	if !res.OK() {
		f.ok = false
		if errCounter != "" {
			m.Add(errCounter, 1)
		}
	}
	return res
}

func (f *flow) auth(ctx context.Context) error {
	st := f.it.State
	if f.j.opts.KeepSession && st.HasToken() {
		return nil
	}

	username, err := f.it.Render(f.j.username)
	if err != nil {
		return fmt.Errorf("render username: %w", err)
	}
	nickname, err := f.it.Render(f.j.nickname)
	if err != nil {
		return fmt.Errorf("render nickname: %w", err)
	}

	f.call(ctx, runner.Step{
		Group: GroupAuth, Name: "signup",
		Method: "POST", Path: "/auth/signup",
		Body: map[string]any{
			"username": username,
			"password": f.j.opts.Password,
			"email":    username + "@example.com",
			"nickname": nickname,
		},
	}, MetricSignupSuccess, MetricAuthErrors)

	res := f.call(ctx, runner.Step{
		Group: GroupAuth, Name: "login",
		Method: "POST", Path: "/auth/login",
		Body: map[string]any{"username": username, "password": f.j.opts.Password},
	}, "", MetricAuthErrors)

	token, found := analyzer.BearerToken(res.Analysis)
	f.it.Metrics.Mark(MetricLoginSuccess, res.OK() && found)
	if !found {
		f.it.ClearToken()
		f.ok = false
		f.it.Log.Debug("login returned no token",
			zap.Int("status", res.StatusCode),
			zap.Int64("iteration", st.Iteration),
		)
		return nil
	}

	f.it.SetToken(token, userID(token, res.Analysis))
	return nil
}

// userID reads the userId claim of token, then the login body, then falls
// back to "1".
func userID(token string, a analyzer.Analysis) string {
	if id, err := analyzer.TokenClaim(token, "userId"); err == nil {
		return strconv.FormatInt(id, 10)
	}
	if id, err := analyzer.TokenClaim(token, "id"); err == nil {
		return strconv.FormatInt(id, 10)
	}
	if v, err := a.Search("data.userId || data.id"); err == nil && v != nil {
		if n, ok := v.(float64); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	return fallbackID
}

func (f *flow) search(ctx context.Context) {
	f.call(ctx, runner.Step{
		Group: GroupSearch, Name: "popular terms",
		Method: "GET", Path: "/search/popular-terms",
		Query: map[string]string{"limit": "10"},
		Hints: analyzer.Hints{Expect: analyzer.ShapeArray},
	}, "", MetricSearchErrors)

	keyword := f.j.opts.Keywords[rand.Intn(len(f.j.opts.Keywords))]
	res := f.call(ctx, runner.Step{
		Group: GroupSearch, Name: "search",
		Method: "GET", Path: "/search",
		Query: map[string]string{"keyword": keyword},
		Auth:  true,
		Hints: analyzer.Hints{Collection: "books"},
	}, MetricSearchSuccess, MetricSearchErrors)

	if res.Analysis.HasID {
		f.it.State.BookID = res.Analysis.ID
	}
}

func (f *flow) books(ctx context.Context) {
	st := f.it.State
	res := f.call(ctx, runner.Step{
		Group: GroupBooks, Name: "list books",
		Method: "GET", Path: "/books",
		Query: map[string]string{"page": "0", "size": "10"},
		Auth:  true,
	}, "", MetricBookErrors)

	if st.BookID == "" {
		st.BookID = res.Analysis.IDOr(fallbackID)
	}

	f.call(ctx, runner.Step{
		Group: GroupBooks, Name: "book detail",
		Method: "GET", Path: "/books/" + st.BookID,
		Auth: true,
	}, MetricBookDetail, MetricBookErrors)
}

func (f *flow) contents(ctx context.Context) {
	st := f.it.State
	res := f.call(ctx, runner.Step{
		Group: GroupContents, Name: "list contents",
		Method: "GET", Path: "/contents",
		Query: map[string]string{"page": "0", "size": "10"},
		Auth:  true,
	}, "", MetricContentErrors)
	st.ContentID = res.Analysis.IDOr(fallbackID)

	f.call(ctx, runner.Step{
		Group: GroupContents, Name: "content detail",
		Method: "GET", Path: "/contents/" + st.ContentID,
		Auth: true,
	}, MetricContentView, MetricContentErrors)

	res = f.call(ctx, runner.Step{
		Group: GroupContents, Name: "quotes",
		Method: "GET", Path: "/quotes",
		Query: map[string]string{"bookId": st.BookID},
		Auth:  true,
	}, "", MetricContentErrors)
	st.QuoteID = res.Analysis.IDOr(fallbackID)
}

func (f *flow) interact(ctx context.Context) {
	st := f.it.State
	f.call(ctx, runner.Step{
		Group: GroupInteraction, Name: "like",
		Method: "POST", Path: "/likes/content/" + st.ContentID,
		Auth: true,
	}, MetricLikeSuccess, MetricInteractErrors)

	f.call(ctx, runner.Step{
		Group: GroupInteraction, Name: "bookmark",
		Method: "POST", Path: "/bookmarks/content/" + st.ContentID,
		Auth: true,
	}, MetricBookmark, MetricInteractErrors)

	f.call(ctx, runner.Step{
		Group: GroupInteraction, Name: "record view",
		Method: "POST", Path: "/contents/interaction",
		Body: map[string]any{
			"contentId":       intOr(st.ContentID, 1),
			"interactionType": "VIEW",
		},
		Auth: true,
	}, "", MetricInteractErrors)
}

func (f *flow) create(ctx context.Context) {
	st := f.it.State
	res := f.call(ctx, runner.Step{
		Group: GroupCreate, Name: "creation limit",
		Method: "GET", Path: "/contents/creation-limit",
		Auth: true,
	}, "", MetricContentErrors)

	if remaining, ok := res.Analysis.First["remaining"].(float64); ok && remaining <= 0 {
		f.it.Log.Debug("content creation limit reached", zap.Int64("iteration", st.Iteration))
		return
	}

	res = f.call(ctx, runner.Step{
		Group: GroupCreate, Name: "create content",
		Method: "POST", Path: "/contents/create",
		Body: map[string]any{
			"bookId":              intOr(st.BookID, 1),
			"title":               "Key message of the book",
			"content":             "Steady effort matters more than talent.",
			"emotionType":         "HAPPY",
			"autoEmotionAnalysis": false,
		},
		Auth:    true,
		Timeout: 30 * time.Second,
	}, MetricCreateContent, MetricContentErrors)

	if res.Analysis.HasID {
		st.Vars["createdContentID"] = res.Analysis.ID
	}
}

func (f *flow) recommend(ctx context.Context) {
	f.call(ctx, runner.Step{
		Group: GroupRecommend, Name: "recommended contents",
		Method: "GET", Path: "/contents/recommended",
		Auth: true,
	}, "", MetricContentErrors)

	f.call(ctx, runner.Step{
		Group: GroupRecommend, Name: "recommended books",
		Method: "GET", Path: "/books/recommended",
		Auth: true,
	}, "", MetricBookErrors)
}

func (f *flow) ranking(ctx context.Context) {
	st := f.it.State
	f.call(ctx, runner.Step{
		Group: GroupRanking, Name: "user ranking",
		Method: "GET", Path: "/ranking/users",
		Query: map[string]string{
			"page":     "0",
			"size":     "10",
			"rankType": rankTypes[rand.Intn(len(rankTypes))],
		},
		Auth: true,
	}, "", MetricContentErrors)

	if st.HasToken() && st.UserID != "" {
		f.call(ctx, runner.Step{
			Group: GroupRanking, Name: "user score",
			Method: "GET", Path: "/ranking/user/" + st.UserID + "/score",
			Auth: true,
		}, "", MetricContentErrors)
	}
}

func (f *flow) profile(ctx context.Context) {
	f.call(ctx, runner.Step{
		Group: GroupProfile, Name: "profile",
		Method: "GET", Path: "/users/" + f.it.State.UserID,
		Auth: true,
	}, "", MetricAuthErrors)
}

func (f *flow) logout(ctx context.Context) {
	f.call(ctx, runner.Step{
		Group: GroupLogout, Name: "logout",
		Method: "POST", Path: "/auth/logout",
		Auth: true,
	}, MetricLogoutSuccess, MetricAuthErrors)
	f.it.ClearToken()
}

func intOr(s string, def int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
