package surface

import (
	"fmt"
	"strings"
)

// TokenSource supplies the bearer token for API requests. Injecting it keeps
// credentials out of package globals.
type TokenSource interface {
	Token() (string, error)
}

type staticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) (TokenSource, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("api token is required")
	}
	return staticTokenSource{token: token}, nil
}

func (s staticTokenSource) Token() (string, error) {
	return s.token, nil
}
