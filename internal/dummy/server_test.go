package dummy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadyvu/internal/analyzer"
)

type client struct {
	t     *testing.T
	base  string
	token string
}

func newClient(t *testing.T, cfg ServerConfig) *client {
	srv := httptest.NewServer(NewServer(cfg).Handler())
	t.Cleanup(srv.Close)
	return &client{t: t, base: srv.URL}
}

func (c *client) do(method, path string, body any) (int, analyzer.Analysis) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var raw bytes.Buffer
	_, err = raw.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, analyzer.Analyze(raw.Bytes(), analyzer.Hints{})
}

func (c *client) login(username string) int64 {
	c.t.Helper()
	status, _ := c.do("POST", "/auth/signup", map[string]string{"username": username, "password": "Test1234!"})
	require.Equal(c.t, http.StatusOK, status)

	status, a := c.do("POST", "/auth/login", map[string]string{"username": username, "password": "Test1234!"})
	require.Equal(c.t, http.StatusOK, status)
	token, ok := analyzer.BearerToken(a)
	require.True(c.t, ok)
	c.token = token

	uid, err := analyzer.TokenClaim(token, "userId")
	require.NoError(c.t, err)
	return uid
}

func TestAuthFlow(t *testing.T) {
	c := newClient(t, ServerConfig{})
	uid := c.login("alice")
	assert.Equal(t, int64(1), uid)

	status, _ := c.do("POST", "/auth/signup", map[string]string{"username": "alice", "password": "x"})
	assert.Equal(t, http.StatusConflict, status)

	status, a := c.do("GET", "/users/1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", a.First["username"])

	status, _ = c.do("POST", "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	c := newClient(t, ServerConfig{})
	c.login("bob")

	status, a := c.do("POST", "/auth/login", map[string]string{"username": "bob", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	env, ok := a.Envelope.(analyzer.StandardEnvelope)
	require.True(t, ok)
	assert.Equal(t, "ERROR", env.Result)
}

func TestAuthRequired(t *testing.T) {
	c := newClient(t, ServerConfig{})
	status, _ := c.do("POST", "/likes/content/1", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	c.token = "aaa.bbb.ccc"
	status, _ = c.do("POST", "/likes/content/1", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestEnvelopeShapes(t *testing.T) {
	c := newClient(t, ServerConfig{})

	_, a := c.do("GET", "/search/popular-terms?limit=3", nil)
	assert.Equal(t, analyzer.ShapeArray, a.Envelope.Shape())
	assert.Equal(t, 3, a.Items)

	_, a = c.do("GET", "/books?page=0&size=10", nil)
	assert.Equal(t, analyzer.ShapePaged, a.Envelope.Shape())
	assert.Equal(t, analyzer.DataPaged, a.State)
	assert.Equal(t, int64(25), a.Total)
	assert.Equal(t, "1", a.ID)

	_, a = c.do("GET", "/contents?page=1&size=10", nil)
	assert.Equal(t, analyzer.ShapePaged, a.Envelope.Shape())
	assert.Equal(t, 10, a.Items)
	assert.Equal(t, "11", a.ID)

	_, a = c.do("GET", "/search", nil)
	assert.Equal(t, analyzer.DataNull, a.State)

	c.login("carol")
	_, a = c.do("GET", "/contents/recommended", nil)
	assert.Equal(t, analyzer.DataEmpty, a.State)
}

func TestSearchCollection(t *testing.T) {
	c := newClient(t, ServerConfig{})
	status, body := c.do("GET", "/search?keyword=mystery", nil)
	require.Equal(t, http.StatusOK, status)

	res, err := body.Search("data.books[0].id")
	require.NoError(t, err)
	assert.NotNil(t, res)

	_, body = c.do("GET", "/search?keyword=zzz", nil)
	res, err = body.Search("length(data.books)")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res)
}

func TestContentCreationLimit(t *testing.T) {
	c := newClient(t, ServerConfig{})
	c.login("dave")

	for i := 0; i < creationLimit; i++ {
		status, a := c.do("POST", "/contents/create", map[string]any{"bookId": 1, "title": "t", "emotionType": "HAPPY"})
		require.Equal(t, http.StatusCreated, status)
		assert.True(t, a.HasID)
	}
	status, _ := c.do("POST", "/contents/create", map[string]any{"bookId": 1, "title": "t"})
	assert.Equal(t, http.StatusTooManyRequests, status)

	_, a := c.do("GET", "/contents/creation-limit", nil)
	assert.Equal(t, 0.0, a.First["remaining"])
}

func TestNotFoundAndValidation(t *testing.T) {
	c := newClient(t, ServerConfig{})
	status, _ := c.do("GET", "/books/999", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = c.do("GET", "/books/abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do("GET", "/ranking/users?rankType=WOOD", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	c.login("erin")
	status, _ = c.do("POST", "/contents/interaction", map[string]any{"contentId": 1, "interactionType": "STARE"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChaosAlwaysFails(t *testing.T) {
	c := newClient(t, ServerConfig{ErrorRate: 1})
	for i := 0; i < 10; i++ {
		status, _ := c.do("GET", "/books", nil)
		assert.Contains(t, []int{http.StatusInternalServerError, http.StatusTooManyRequests}, status)
	}
}

func TestIssuerVerify(t *testing.T) {
	iss := newIssuer()
	token, err := iss.sign(42, "zed")
	require.NoError(t, err)

	uid, err := iss.verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	_, err = newIssuer().verify(token)
	assert.ErrorIs(t, err, errBadSignature)
}
