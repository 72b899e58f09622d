package analyzer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNotJWT        = errors.New("token does not have three segments")
	ErrClaimNotFound = errors.New("claim not found")
)

// tokenPaths lists where login responses carry the bearer token.
var tokenPaths = [][]string{
	{"data", "accessToken"},
	{"data", "token"},
	{"accessToken"},
	{"token"},
}

// BearerToken returns the access token carried by a login response, with
// any whitespace removed.
func BearerToken(a Analysis) (string, bool) {
	for _, path := range tokenPaths {
		v, ok := lookup(a.doc, path)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.Join(strings.Fields(s), "")
		if s != "" {
			return s, true
		}
	}
	return "", false
}

func lookup(doc any, path []string) (any, bool) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SplitToken splits a dotted token into its header, payload and signature.
func SplitToken(token string) (header, payload, signature string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%d segments: %w", len(parts), ErrNotJWT)
	}
	return parts[0], parts[1], parts[2], nil
}

// DecodeSegment decodes one base64url token segment, padding it as needed.
func DecodeSegment(seg string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}
	return b, nil
}

// NumericClaim extracts an integer claim from a decoded payload. A JSON key
// match is tried first; if the payload is not a JSON object or lacks a
// numeric value there, a textual match of "field": digits is attempted.
func NumericClaim(payload []byte, field string) (int64, error) {
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err == nil {
		if n, ok := numeric(claims[field]); ok {
			return n, nil
		}
	}

	re, err := regexp.Compile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"?(\d+)`)
	if err != nil {
		return 0, fmt.Errorf("claim %q: %w", field, err)
	}
	if m := re.FindSubmatch(payload); m != nil {
		if n, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("claim %q: %w", field, ErrClaimNotFound)
}

func numeric(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// TokenClaim decodes the payload of a dotted token and extracts field.
func TokenClaim(token, field string) (int64, error) {
	_, payload, _, err := SplitToken(token)
	if err != nil {
		return 0, err
	}
	decoded, err := DecodeSegment(payload)
	if err != nil {
		return 0, err
	}
	return NumericClaim(decoded, field)
}
