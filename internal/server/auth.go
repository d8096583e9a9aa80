package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is who the bearer credential resolved to. A server-issued token
// acts on behalf of whichever user the request names; a user JWT is bound to
// its subject.
type Identity struct {
	UserID      string
	ServerToken bool
}

// TokenVerifier checks one credential kind. Verifiers are tried in order and
// the chain fails closed when none accepts.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// serverTokenVerifier accepts the shared server secret, compared in constant
// time.
type serverTokenVerifier struct {
	token string
}

func (v serverTokenVerifier) Verify(token string) (Identity, error) {
	if v.token == "" {
		return Identity{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ServerToken: true}, nil
}

// userJWTVerifier accepts an HS256 user token signed with a secret distinct
// from the server token, and requires a non-empty subject.
type userJWTVerifier struct {
	secret []byte
}

func (v userJWTVerifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, ErrUnauthorized
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: sub}, nil
}

// verifierChain tries each verifier in order.
type verifierChain []TokenVerifier

func (c verifierChain) Verify(token string) (Identity, error) {
	for _, v := range c {
		if id, err := v.Verify(token); err == nil {
			return id, nil
		}
	}
	return Identity{}, ErrUnauthorized
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// requireAuth resolves the bearer credential or fails the request with 401.
func (s *Service) requireAuth(c *echo.Context) (Identity, error) {
	token := bearerToken(c.Request())
	if token == "" {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	id, err := s.verifiers.Verify(token)
	if err != nil {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return id, nil
}

// resolveUser picks the acting user: a JWT is bound to its subject; a server
// token acts for the user named by the request (query param on GETs).
func resolveUser(c *echo.Context, id Identity) string {
	if id.UserID != "" {
		return id.UserID
	}
	return strings.TrimSpace(c.QueryParam("userId"))
}
