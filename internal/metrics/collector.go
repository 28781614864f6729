package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	wberrors "github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Transfer directions for RecordBytes.
const (
	DirectionDownload = "download"
	DirectionUpload   = "upload"
)

// Collector records provider operation metrics
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *zap.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec
	retryCounter      *prometheus.CounterVec

	// Internal tracking, keyed by provider/operation
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for one provider operation
type OperationMetrics struct {
	Provider      string        `json:"provider"`
	Operation     string        `json:"operation"`
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
	LastErrorCode string        `json:"last_error_code,omitempty"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *zap.Logger) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9100,
			Path:      "/metrics",
			Namespace: "waterbutler",
			Labels:    make(map[string]string),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry exposes the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in OpenMetrics format.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start starts the metrics HTTP server
func (c *Collector) Start(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.Stop(shutdownCtx)
	}()

	return nil
}

// Stop stops the metrics HTTP server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records a finished provider operation. A nil err counts as success.
func (c *Collector) RecordOperation(provider, operation string, duration time.Duration, err error) {
	if !c.Enabled() {
		return
	}

	status := "success"
	code := ""
	if err != nil {
		status = "error"
		code = c.classifyError(err)
	}

	c.mu.Lock()
	key := provider + "/" + operation
	m, exists := c.operations[key]
	if !exists {
		m = &OperationMetrics{Provider: provider, Operation: operation}
		c.operations[key] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	if err != nil {
		m.Errors++
		m.LastErrorCode = code
	}
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"provider":  provider,
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"provider":  provider,
		"operation": operation,
	}).Observe(duration.Seconds())

	if err != nil {
		c.errorCounter.With(prometheus.Labels{
			"provider":  provider,
			"operation": operation,
			"code":      code,
		}).Inc()
	}
}

// RecordBytes adds n bytes moved in the given direction.
func (c *Collector) RecordBytes(provider, direction string, n int64) {
	if !c.Enabled() || n <= 0 {
		return
	}

	c.bytesTransferred.With(prometheus.Labels{
		"provider":  provider,
		"direction": direction,
	}).Add(float64(n))
}

// RecordRetry counts one transport retry.
func (c *Collector) RecordRetry(provider, method string) {
	if !c.Enabled() {
		return
	}

	c.retryCounter.With(prometheus.Labels{
		"provider": provider,
		"method":   method,
	}).Inc()
}

// GetMetrics returns a snapshot of the internal tracking
func (c *Collector) GetMetrics() map[string]interface{} {
	metrics := make(map[string]interface{})
	if !c.Enabled() {
		return metrics
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		snapshot := *v
		operations[k] = &snapshot
	}

	metrics["operations"] = operations
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)

	return metrics
}

// ResetMetrics resets the internal tracking
func (c *Collector) ResetMetrics() {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	constLabels := prometheus.Labels(c.config.Labels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operations_total",
			Help:        "Total number of provider operations",
			ConstLabels: constLabels,
		},
		[]string{"provider", "operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "operation_duration_seconds",
			Help:        "Duration of provider operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 15), // 5ms to ~82s
			ConstLabels: constLabels,
		},
		[]string{"provider", "operation"},
	)

	c.bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "bytes_transferred_total",
			Help:        "Bytes streamed to or from a backend",
			ConstLabels: constLabels,
		},
		[]string{"provider", "direction"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of failed operations by error code",
			ConstLabels: constLabels,
		},
		[]string{"provider", "operation", "code"},
	)

	c.retryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "transport_retries_total",
			Help:        "Total number of retried backend requests",
			ConstLabels: constLabels,
		},
		[]string{"provider", "method"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.bytesTransferred,
		c.errorCounter,
		c.retryCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	return string(wberrors.CodeOf(err))
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"waterbutler-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, _ := c.GetMetrics()["operations"].(map[string]*OperationMetrics)

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Provider Operations Summary\n")
	writef("===========================\n\n")

	if len(snapshot) == 0 {
		writef("No operations recorded.\n")
		return
	}

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writef("%-32s %10s %10s %14s %10s\n",
		"Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-32s %10s %10s %14s %10s\n",
		"---------", "-----", "------", "------------", "-------")

	for _, k := range keys {
		op := snapshot[k]
		writef("%-32s %10d %10d %14v %10s\n",
			k, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}
