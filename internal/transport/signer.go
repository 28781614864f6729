package transport

import (
	"net/http"

	"golang.org/x/oauth2"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Signer attaches credentials to an outbound request.
type Signer interface {
	Sign(req *http.Request) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request) error

// Sign calls f(req).
func (f SignerFunc) Sign(req *http.Request) error { return f(req) }

// NoAuth leaves requests untouched.
type NoAuth struct{}

// Sign is a no-op.
func (NoAuth) Sign(*http.Request) error { return nil }

// TokenSigner sets an OAuth2 bearer header from a token source.
type TokenSigner struct {
	Source oauth2.TokenSource
}

// BearerToken returns a signer for a fixed access token.
func BearerToken(token string) *TokenSigner {
	return &TokenSigner{Source: oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})}
}

// Sign fetches a token and sets the Authorization header.
func (s *TokenSigner) Sign(req *http.Request) error {
	tok, err := s.Source.Token()
	if err != nil {
		return errors.NewError(errors.ErrCodeAuthenticationFailed, "failed to obtain access token").
			WithCause(err)
	}
	tok.SetAuthHeader(req)
	return nil
}
