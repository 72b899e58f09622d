package analyzer

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeStandardDataStates(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		state DataState
		id    string
	}{
		{"absent", `{"result":"SUCCESS","message":"ok"}`, DataAbsent, ""},
		{"null", `{"result":"SUCCESS","data":null}`, DataNull, ""},
		{"empty array", `{"result":"SUCCESS","data":[]}`, DataEmpty, ""},
		{"empty object", `{"result":"SUCCESS","data":{}}`, DataEmpty, ""},
		{"list", `{"result":"SUCCESS","data":[{"id":7},{"id":8}]}`, DataList, "7"},
		{"object", `{"result":"SUCCESS","data":{"id":"abc","title":"t"}}`, DataObject, "abc"},
		{"scalar", `{"result":"SUCCESS","data":5}`, DataObject, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze([]byte(tt.body), Hints{})
			require.IsType(t, StandardEnvelope{}, a.Envelope)
			assert.Equal(t, tt.state, a.State)
			assert.Equal(t, tt.id, a.ID)
			assert.Equal(t, tt.id != "", a.HasID)
			assert.True(t, a.JSON())
		})
	}
}

func TestAnalyzeNestedPage(t *testing.T) {
	a := Analyze([]byte(`{"result":"SUCCESS","message":"ok","data":{"content":[{"id":3}],"totalElements":10}}`), Hints{})
	page, ok := a.Envelope.(PagedEnvelope)
	require.True(t, ok)
	assert.Equal(t, "SUCCESS", page.Result)
	assert.Equal(t, "ok", page.Message)
	assert.Equal(t, int64(10), page.TotalElements)
	assert.Equal(t, DataPaged, a.State)
	assert.Equal(t, int64(10), a.Total)
	assert.Equal(t, "3", a.ID)

	a = Analyze([]byte(`{"result":"SUCCESS","data":{"content":[],"totalElements":0}}`), Hints{})
	assert.IsType(t, PagedEnvelope{}, a.Envelope)
	assert.Equal(t, DataEmpty, a.State)
	assert.False(t, a.HasID)
}

func TestAnalyzeEmptyDataSkipsPath(t *testing.T) {
	for _, body := range []string{
		`{"result":"SUCCESS","data":{},"id":5}`,
		`{"result":"SUCCESS","data":[],"id":5}`,
		`{"result":"SUCCESS","data":null,"id":5}`,
	} {
		a := Analyze([]byte(body), Hints{Path: "id"})
		assert.False(t, a.HasID, body)
		assert.Equal(t, "2", a.IDOr("2"), body)
	}
}

func TestAnalyzeEmptyDataReportsState(t *testing.T) {
	a := Analyze([]byte(`{"result":"SUCCESS","message":"","data":[]}`), Hints{})
	assert.Equal(t, "empty data", a.State.String())
	assert.Nil(t, a.First)
	assert.False(t, a.HasID)
	assert.Equal(t, "1", a.IDOr("1"))
}

func TestAnalyzeFallbackShapes(t *testing.T) {
	a := Analyze([]byte(`{"content":[{"id":11}],"totalElements":40}`), Hints{})
	page, ok := a.Envelope.(PagedEnvelope)
	require.True(t, ok)
	assert.Equal(t, int64(40), page.TotalElements)
	assert.Equal(t, int64(40), a.Total)
	assert.Equal(t, "11", a.ID)

	a = Analyze([]byte(`[{"bookId":5},{"bookId":6}]`), Hints{IDField: "bookId"})
	arr, ok := a.Envelope.(BareArray)
	require.True(t, ok)
	assert.Len(t, arr.Items, 2)
	assert.Equal(t, 2, a.Items)
	assert.Equal(t, "5", a.ID)

	a = Analyze([]byte(`{"id":99,"name":"x"}`), Hints{})
	raw, ok := a.Envelope.(RawObject)
	require.True(t, ok)
	assert.True(t, raw.JSON)
	assert.Equal(t, DataObject, a.State)
	assert.Equal(t, "99", a.ID)
}

func TestAnalyzeHintedShapeWins(t *testing.T) {
	body := []byte(`{"result":"SUCCESS","content":[{"id":1}],"totalElements":1}`)

	assert.IsType(t, StandardEnvelope{}, Analyze(body, Hints{}).Envelope)
	assert.IsType(t, PagedEnvelope{}, Analyze(body, Hints{Expect: ShapePaged}).Envelope)

	// A hint that does not match falls through to the automatic order.
	assert.IsType(t, StandardEnvelope{}, Analyze(body, Hints{Expect: ShapeArray}).Envelope)
}

func TestAnalyzeCollectionHint(t *testing.T) {
	body := []byte(`{"result":"SUCCESS","data":{"books":[{"id":21}],"authors":[]}}`)
	a := Analyze(body, Hints{Collection: "books"})
	assert.Equal(t, DataList, a.State)
	assert.Equal(t, "21", a.ID)

	a = Analyze(body, Hints{Collection: "authors"})
	assert.Equal(t, DataEmpty, a.State)
	assert.False(t, a.HasID)
}

func TestAnalyzePathHint(t *testing.T) {
	body := []byte(`{"result":"SUCCESS","data":{"quotes":[{"quoteId":4},{"quoteId":9}]}}`)
	a := Analyze(body, Hints{Path: "data.quotes[1].quoteId"})
	assert.Equal(t, "9", a.ID)

	n, ok := a.IntID()
	assert.True(t, ok)
	assert.Equal(t, int64(9), n)

	v, err := a.Search("length(data.quotes)")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	a = Analyze(body, Hints{Path: "data.["})
	assert.Error(t, a.Err)
	assert.False(t, a.HasID)
}

func TestAnalyzeNonJSON(t *testing.T) {
	body := []byte(strings.Repeat("<html>", 200))
	a := Analyze(body, Hints{})

	raw, ok := a.Envelope.(RawObject)
	require.True(t, ok)
	assert.False(t, raw.JSON)
	assert.False(t, a.JSON())
	assert.Error(t, a.Err)
	assert.Len(t, a.Text, MaxTextLen+3)

	_, err := a.Search("id")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"result":"SUCCESS","data":{"accessToken":"aaa.bbb.ccc"}}`, "aaa.bbb.ccc"},
		{`{"result":"SUCCESS","data":{"token":" x.y.z \n"}}`, "x.y.z"},
		{`{"accessToken":"top"}`, "top"},
		{`{"token":"tok"}`, "tok"},
	}
	for _, tt := range tests {
		tok, ok := BearerToken(Analyze([]byte(tt.body), Hints{}))
		assert.True(t, ok, tt.body)
		assert.Equal(t, tt.want, tok)
	}

	_, ok := BearerToken(Analyze([]byte(`{"result":"FAIL","data":null}`), Hints{}))
	assert.False(t, ok)
	_, ok = BearerToken(Analyze([]byte(`oops`), Hints{}))
	assert.False(t, ok)
}

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestTokenClaimStructured(t *testing.T) {
	token := segment(`{"alg":"HS256"}`) + "." + segment(`{"userId":42}`) + ".sig"
	id, err := TokenClaim(token, "userId")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestTokenClaimRegexFallback(t *testing.T) {
	token := "h." + segment(`{"userId":42,"sub":`) + ".s"
	id, err := TokenClaim(token, "userId")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestNumericClaim(t *testing.T) {
	n, err := NumericClaim([]byte(`{"userId":"17"}`), "userId")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	n, err = NumericClaim([]byte(`userId broken "userId" : "8"`), "userId")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	_, err = NumericClaim([]byte(`{"sub":"x"}`), "userId")
	assert.True(t, errors.Is(err, ErrClaimNotFound))
}

func TestSplitTokenRequiresThreeSegments(t *testing.T) {
	_, _, _, err := SplitToken("a.b")
	assert.ErrorIs(t, err, ErrNotJWT)
	_, _, _, err = SplitToken("a.b.c.d")
	assert.ErrorIs(t, err, ErrNotJWT)

	h, p, s, err := SplitToken("a.b.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string{h, p, s})
}

func TestDecodeSegment(t *testing.T) {
	// "??>" encodes to "Pz8-" in base64url and exercises the '-' mapping.
	b, err := DecodeSegment("Pz8-")
	require.NoError(t, err)
	assert.Equal(t, "??>", string(b))

	b, err = DecodeSegment(segment(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	_, err = DecodeSegment("!!!")
	assert.Error(t, err)
}
