package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/repochat/pkg/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const SubjectContextKey ContextKey = "subject"

// CookieName is checked when no Authorization header is present.
const CookieName = "auth_token"

var (
	ErrNoSecret     = errors.New("jwt secret is required")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and checks HS256 bearer tokens for the API.
// A disabled Authenticator lets every request through.
type Authenticator struct {
	secret  []byte
	enabled bool
	now     func() time.Time
}

// New returns an Authenticator. Enabling it without a secret is an error.
func New(secret string, enabled bool) (*Authenticator, error) {
	if enabled && strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	return &Authenticator{secret: []byte(secret), enabled: enabled, now: time.Now}, nil
}

// Enabled reports whether requests must carry a valid token.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// GenerateToken signs a token for subject that expires after ttl.
func (a *Authenticator) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses tokenString and returns its subject.
func (a *Authenticator) Validate(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", ErrInvalidToken
}

// Middleware rejects requests without a valid token when auth is enabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := BearerToken(r)
		if tokenString == "" {
			unauthorized(w, r, "Authentication required")
			return
		}
		subject, err := a.Validate(tokenString)
		if err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("rejected token")
			unauthorized(w, r, "Invalid authentication token")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from the Authorization header or the auth cookie.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(SubjectContextKey).(string)
	return s
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Detail: detail}); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to write response")
	}
}
