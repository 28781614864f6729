package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Static serves credentials registered per provider. The bundle posted to
// Fetch is used verbatim when it names credentials or settings.
type Static struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewStatic creates an empty Static extension.
func NewStatic() *Static {
	return &Static{creds: make(map[string]*Credential)}
}

// Set registers cred for provider.
func (s *Static) Set(provider string, cred *Credential) {
	s.mu.Lock()
	s.creds[provider] = cred
	s.mu.Unlock()
}

func (s *Static) Name() string { return "static" }

func (s *Static) Fetch(ctx context.Context, r *http.Request, bundle map[string]interface{}) (*Credential, error) {
	if bundle == nil {
		return nil, nil
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, errors.InvalidParameters("credential bundle is not encodable")
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, errors.InvalidParameters(fmt.Sprintf("malformed credential bundle: %v", err))
	}
	return &cred, nil
}

func (s *Static) Get(ctx context.Context, req GetRequest) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[req.Provider], nil
}

// Claims is the payload of a credential token.
type Claims struct {
	Resource   string     `json:"resource,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Credential Credential `json:"credential"`
	jwt.RegisteredClaims
}

// JWT reads an HS256 bearer token whose claims carry the credential. A
// request without a token yields no credential so later extensions are asked.
type JWT struct {
	secret []byte
}

// NewJWT creates a JWT extension verifying tokens with secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (j *JWT) Name() string { return "jwt" }

func (j *JWT) Fetch(ctx context.Context, r *http.Request, bundle map[string]interface{}) (*Credential, error) {
	claims, err := j.claims(r)
	if err != nil || claims == nil {
		return nil, err
	}
	return &claims.Credential, nil
}

func (j *JWT) Get(ctx context.Context, req GetRequest) (*Credential, error) {
	claims, err := j.claims(req.Request)
	if err != nil || claims == nil {
		return nil, err
	}
	if claims.Provider != "" && claims.Provider != req.Provider {
		return nil, nil
	}
	if claims.Resource != "" && claims.Resource != req.Resource {
		return nil, errors.NewError(errors.ErrCodeAuthorizationFailed,
			fmt.Sprintf("token is not valid for resource %s", req.Resource))
	}
	return &claims.Credential, nil
}

// Sign issues a token for claims. It is the counterpart of the extension.
func (j *JWT) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) claims(r *http.Request) (*Claims, error) {
	token := extractToken(r)
	if token == "" {
		return nil, nil
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "invalid credential token")
	}
	if !parsed.Valid {
		return nil, errors.NewError(errors.ErrCodeAuthenticationFailed, "invalid credential token")
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
