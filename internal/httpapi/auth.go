package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CapabilityManageOptions is the capability admin routes require.
	CapabilityManageOptions = "manage_options"
	// TokenCookie carries the admin token for browser sessions.
	TokenCookie = "webp_autogen_token"
)

var (
	errNoToken       = errors.New("missing admin token")
	errNoCapability  = errors.New("token lacks the manage_options capability")
	errInvalidSecret = errors.New("admin secret is empty")
)

// Claims is the admin token payload.
type Claims struct {
	Caps []string `json:"caps"`
	jwt.RegisteredClaims
}

// MintToken signs an HS256 token granting manage_options to subject.
// A zero ttl produces a token without expiry.
func MintToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errInvalidSecret
	}
	claims := Claims{
		Caps: []string{CapabilityManageOptions},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !slices.Contains(claims.Caps, CapabilityManageOptions) {
		return nil, errNoCapability
	}
	return claims, nil
}

// tokenFromRequest reads a bearer token, then the session cookie.
func tokenFromRequest(r *http.Request) string {
	const bearerPrefix = "Bearer "
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authz, bearerPrefix))
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// admin wraps routes that need manage_options. Without a configured secret
// every caller is treated as an administrator.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			next(w, r)
			return
		}

		// a token in the query string starts a browser session on the admin page
		if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
			if _, err := parseToken(s.secret, tokenStr); err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     TokenCookie,
					Value:    tokenStr,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				next(w, r)
				return
			}
		}

		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, errNoToken.Error())
			return
		}
		if _, err := parseToken(s.secret, tokenStr); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errNoCapability) {
				status = http.StatusForbidden
			}
			writeError(w, status, fmt.Sprintf("invalid admin token: %v", err))
			return
		}
		next(w, r)
	}
}
