package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every credential failure: missing, malformed,
// expired, or signed with the wrong key. Callers must not distinguish
// between these cases when rejecting a connection.
var ErrInvalidToken = errors.New("authentication error")

// Claims are the JWT claims carried by CareLink access tokens. The subject
// is the user ID issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Verifier validates bearer tokens against the shared signing secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string, checking signature and expiry.
// All failures are reported as ErrInvalidToken.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ExtractToken pulls the bearer credential from a request. Carriers are
// checked in priority order, first non-empty value wins:
//
//  1. "auth" query parameter (websocket handshake auth field)
//  2. "token" query parameter
//  3. Authorization header, with a "Bearer "/"bearer " prefix stripped
func ExtractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("auth"); tok != "" {
		return tok
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return header
}
