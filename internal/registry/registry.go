// Package registry builds providers by name from a resolved credential.
package registry

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/auth"
	"github.com/west1636/RDM-waterbutler/internal/config"
	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/metrics"
	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/storage/googledrive"
	"github.com/west1636/RDM-waterbutler/internal/storage/s3compat"
	"github.com/west1636/RDM-waterbutler/internal/transport"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Registry maps provider names to backends configured from one Configuration.
type Registry struct {
	cfg     *config.Configuration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records transport retries of built providers on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithLogger sets the parent logger of built providers.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry. A nil cfg uses the defaults.
func New(cfg *config.Configuration, opts ...Option) *Registry {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	r := &Registry{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Or(r.logger)
	return r
}

// Names lists the supported provider names.
func Names() []string {
	names := []string{s3compat.Name, googledrive.Name}
	sort.Strings(names)
	return names
}

// Build creates the provider called name from cred and binds it to the
// credential's callback URL.
func (r *Registry) Build(ctx context.Context, name string, cred *auth.Credential) (*provider.Target, error) {
	if cred.Empty() {
		return nil, errors.CredentialsMissing()
	}

	var (
		p   provider.Provider
		err error
	)
	switch name {
	case s3compat.Name:
		p, err = r.buildS3Compat(ctx, cred)
	case googledrive.Name:
		p, err = r.buildGoogleDrive(ctx, cred)
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf("unknown provider: %s", name)).
			WithStatus(400)
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("provider built", zap.String("provider", name))
	return &provider.Target{Provider: p, CallbackURL: cred.Callback()}, nil
}

func (r *Registry) buildS3Compat(ctx context.Context, cred *auth.Credential) (provider.Provider, error) {
	creds, err := s3compat.ParseCredentials(cred.Credentials)
	if err != nil {
		return nil, err
	}
	settings, err := s3compat.ParseSettings(cred.Settings)
	if err != nil {
		return nil, err
	}
	return s3compat.New(ctx, creds, settings, r.S3CompatConfig(), s3compat.WithLogger(r.logger))
}

func (r *Registry) buildGoogleDrive(ctx context.Context, cred *auth.Credential) (provider.Provider, error) {
	creds, err := googledrive.ParseCredentials(cred.Credentials)
	if err != nil {
		return nil, err
	}
	settings, err := googledrive.ParseSettings(cred.Settings)
	if err != nil {
		return nil, err
	}

	var topts []transport.Option
	if statuses := r.cfg.Retry.RetryStatuses; statuses != nil {
		topts = append(topts, transport.WithRetryStatuses(statuses...))
	}
	if r.metrics != nil {
		topts = append(topts, transport.WithMetrics(r.metrics))
	}
	return googledrive.New(ctx, creds, settings, r.GoogleDriveConfig(),
		googledrive.WithLogger(r.logger),
		googledrive.WithTransport(topts...))
}

// S3CompatConfig derives the s3compat backend tuning.
func (r *Registry) S3CompatConfig() s3compat.Config {
	c := r.cfg.Providers.S3Compat
	out := s3compat.DefaultConfig()
	out.Region = c.Region
	out.ForcePathStyle = c.ForcePathStyle
	out.EncryptUploads = c.EncryptUploads
	out.MaxUploadSize = c.MaxUploadSize
	out.ContiguousLimit = r.cfg.Upload.ContiguousLimit
	out.ChunkSize = r.cfg.Upload.ChunkSize
	out.MaxAbortRetries = r.cfg.Upload.MaxAbortRetries
	out.DeleteConcurrency = r.cfg.Operations.DeleteConcurrency
	out.Retry = r.cfg.RetryPolicy()
	if out.Region == "" {
		out.Region = s3compat.DefaultConfig().Region
	}
	return out
}

// GoogleDriveConfig derives the googledrive backend tuning.
func (r *Registry) GoogleDriveConfig() googledrive.Config {
	c := r.cfg.Providers.GoogleDrive
	out := googledrive.DefaultConfig()
	if c.BaseURL != "" {
		out.BaseURL = c.BaseURL
	}
	if c.UploadURL != "" {
		out.UploadURL = c.UploadURL
	}
	if c.PageSize > 0 {
		out.PageSize = c.PageSize
	}
	out.HashContent = c.HashContent
	out.ChunkSize = r.cfg.Upload.ChunkSize
	out.MaxAbortRetries = r.cfg.Upload.MaxAbortRetries
	out.DeleteConcurrency = r.cfg.Operations.DeleteConcurrency
	out.Retry = r.cfg.RetryPolicy()
	return out
}
