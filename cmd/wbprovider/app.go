package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/auth"
	"github.com/west1636/RDM-waterbutler/internal/config"
	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/metrics"
	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/registry"
	"github.com/west1636/RDM-waterbutler/internal/remotelog"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Configuration
	logger   *zap.Logger
	metrics  *metrics.Collector
	registry *registry.Registry
	auth     *auth.Handler
	static   *auth.Static
	orch     *provider.Orchestrator
}

func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := logging.Named("wbprovider")

	m := cfg.Monitoring.Metrics
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   m.Enabled,
		Port:      m.Port,
		Path:      m.Path,
		Namespace: m.Namespace,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}
	if serveMetrics {
		if err := collector.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	static := auth.NewStatic()
	handler, err := auth.FromNames(logger, cfg.Auth.Extensions, map[string]auth.Extension{
		"static": static,
		"jwt":    auth.NewJWT(cfg.Auth.JWTSecret),
	})
	if err != nil {
		return nil, err
	}

	sink := remotelog.New(remotelog.Config{
		Enabled: cfg.Callback.Enabled,
		Secret:  cfg.Callback.Secret,
		Timeout: cfg.Callback.Timeout,
	}, remotelog.WithLogger(logger))

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		registry: registry.New(cfg, registry.WithMetrics(collector), registry.WithLogger(logger)),
		auth:     handler,
		static:   static,
		orch: provider.NewOrchestrator(
			provider.WithMetrics(collector),
			provider.WithCallback(sink),
			provider.WithLogger(logger),
			provider.WithOpConcurrency(cfg.Operations.OpConcurrency),
			provider.WithZipLevel(cfg.Operations.ZipLevel),
		),
	}, nil
}

// run executes fn with an app whose context is cancelled on SIGINT or SIGTERM.
func run(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if timeout := a.cfg.Operations.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = fn(ctx, a)
	if serveMetrics {
		err = multierr.Append(err, a.metrics.Stop(context.WithoutCancel(ctx)))
	}
	_ = logging.Sync()
	return err
}

// target resolves the credential for name and builds its provider.
func (a *app) target(ctx context.Context, name, credFile string, typ auth.Type, action, rawPath string) (*provider.Target, error) {
	if name == "" {
		return nil, fmt.Errorf("--provider is required")
	}
	if credFile != "" {
		cred, err := readCredential(credFile)
		if err != nil {
			return nil, err
		}
		a.static.Set(name, cred)
	}

	req := auth.GetRequest{
		Provider: name,
		Action:   action,
		Type:     typ,
		Path:     rawPath,
	}
	if tokenFlag != "" {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+tokenFlag)
		req.Request = r
	}

	cred, err := a.auth.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.registry.Build(ctx, name, cred)
}

func readCredential(file string) (*auth.Credential, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	var cred auth.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return &cred, nil
}

// resolve validates raw on t. Existing entries use the strict validation.
func resolve(ctx context.Context, t *provider.Target, raw string, existing bool) (*path.Path, error) {
	if existing {
		return t.ValidateV1Path(ctx, raw)
	}
	return t.ValidatePath(ctx, raw)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
