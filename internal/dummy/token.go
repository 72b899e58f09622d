package dummy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"steadyvu/internal/analyzer"
)

var errBadSignature = errors.New("token signature mismatch")

var jwtHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

type claims struct {
	UserID   int64  `json:"userId"`
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	ID       string `json:"jti"`
}

// issuer signs and checks HS256 tokens carrying a userId claim.
type issuer struct {
	secret []byte
}

func newIssuer() *issuer {
	return &issuer{secret: []byte(uuid.NewString())}
}

func (i *issuer) sign(userID int64, username string) (string, error) {
	payload, err := json.Marshal(claims{
		UserID:   userID,
		Subject:  username,
		IssuedAt: time.Now().Unix(),
		ID:       uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	unsigned := jwtHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return unsigned + "." + i.mac(unsigned), nil
}

func (i *issuer) mac(unsigned string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(unsigned))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// verify checks the signature and returns the userId claim.
func (i *issuer) verify(token string) (int64, error) {
	header, payload, sig, err := analyzer.SplitToken(token)
	if err != nil {
		return 0, err
	}
	if !hmac.Equal([]byte(sig), []byte(i.mac(header+"."+payload))) {
		return 0, errBadSignature
	}
	return analyzer.TokenClaim(token, "userId")
}

func bearer(h string) string {
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
