// Package auth resolves the credential bundle a provider is built from.
//
// A Handler asks its extensions in order; the first one that returns a
// non-empty credential wins.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Type tells whether a credential is for the source or the destination of an action.
type Type int

const (
	Source Type = iota
	Destination
)

func (t Type) String() string {
	if t == Destination {
		return "destination"
	}
	return "source"
}

// Credential is what a provider needs to talk to its backend.
type Credential struct {
	// Auth describes the caller and carries the callback URL.
	Auth        map[string]interface{} `json:"auth"`
	Credentials json.RawMessage        `json:"credentials"`
	Settings    json.RawMessage        `json:"settings"`
	CallbackURL string                 `json:"callback_url"`
}

// Empty reports a credential that carries nothing.
func (c *Credential) Empty() bool {
	return c == nil || (len(c.Credentials) == 0 && len(c.Settings) == 0 && len(c.Auth) == 0)
}

// Callback returns CallbackURL, falling back to auth.callback_url.
func (c *Credential) Callback() string {
	if c.CallbackURL != "" {
		return c.CallbackURL
	}
	if url, ok := c.Auth["callback_url"].(string); ok {
		return url
	}
	return ""
}

// GetRequest identifies the resource and action a credential is requested for.
type GetRequest struct {
	Resource string
	Provider string
	Request  *http.Request
	Action   string
	Type     Type
	Path     string
	Version  string
	// CallbackLog asks the issuer to log the action on its side.
	CallbackLog bool
}

// Extension is one credential source.
type Extension interface {
	Name() string
	// Fetch resolves a credential from a bundle posted by the caller.
	Fetch(ctx context.Context, r *http.Request, bundle map[string]interface{}) (*Credential, error)
	// Get resolves a credential for a resource and action.
	Get(ctx context.Context, req GetRequest) (*Credential, error)
}

// Handler chains extensions.
type Handler struct {
	extensions []Extension
	logger     *zap.Logger
}

// NewHandler builds a Handler asking exts in order.
func NewHandler(logger *zap.Logger, exts ...Extension) *Handler {
	return &Handler{extensions: exts, logger: logging.Or(logger).Named("auth")}
}

// Extensions lists the registered extension names in lookup order.
func (h *Handler) Extensions() []string {
	names := make([]string, len(h.extensions))
	for i, ext := range h.extensions {
		names[i] = ext.Name()
	}
	return names
}

// Fetch returns the first non-empty credential an extension resolves from bundle.
func (h *Handler) Fetch(ctx context.Context, r *http.Request, bundle map[string]interface{}) (*Credential, error) {
	for _, ext := range h.extensions {
		cred, err := ext.Fetch(ctx, r, bundle)
		if err != nil {
			return nil, err
		}
		if !cred.Empty() {
			h.logger.Debug("credential fetched", zap.String("extension", ext.Name()))
			return cred, nil
		}
	}
	return nil, errors.CredentialsMissing()
}

// Get returns the first non-empty credential an extension resolves for req.
func (h *Handler) Get(ctx context.Context, req GetRequest) (*Credential, error) {
	for _, ext := range h.extensions {
		cred, err := ext.Get(ctx, req)
		if err != nil {
			return nil, err
		}
		if !cred.Empty() {
			h.logger.Debug("credential resolved",
				zap.String("extension", ext.Name()),
				zap.String("provider", req.Provider),
				zap.String("type", req.Type.String()))
			return cred, nil
		}
	}
	return nil, errors.CredentialsMissing()
}

// FromNames builds a Handler from configured extension names. Unknown names are an error.
func FromNames(logger *zap.Logger, names []string, available map[string]Extension) (*Handler, error) {
	exts := make([]Extension, 0, len(names))
	for _, name := range names {
		ext, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown auth extension: %s", name)
		}
		exts = append(exts, ext)
	}
	return NewHandler(logger, exts...), nil
}
