// Package remotelog reports finished provider actions to a callback URL.
//
// Each event is posted as JSON. When a secret is configured the body digest
// is signed as an HS256 JWT and sent in the Signature header so the receiver
// can authenticate it.
package remotelog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// SignatureHeader carries the signed body digest.
const SignatureHeader = "X-Waterbutler-Signature"

// MaxIterations bounds the renames ScrubHeaders tries for one colliding key.
const MaxIterations = 10

// Config tunes the Sink.
type Config struct {
	Enabled bool          `yaml:"enabled"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// Descriptor identifies one side of an action.
type Descriptor struct {
	Provider    string
	CallbackURL string
	// Serialized is the metadata or path description of the entry.
	Serialized map[string]interface{}
}

// Event is one finished action.
type Event struct {
	Action      string
	Source      *Descriptor
	Destination *Descriptor
	StartTime   time.Time
	Errors      []string
	// Request describes the client request. Its "headers" map is scrubbed.
	Request   map[string]interface{}
	RequestID string
}

// CallbackURL is the destination's callback, else the source's.
func (e Event) CallbackURL() string {
	if e.Destination != nil && e.Destination.CallbackURL != "" {
		return e.Destination.CallbackURL
	}
	if e.Source != nil {
		return e.Source.CallbackURL
	}
	return ""
}

// Sink posts events.
type Sink struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Sink.
type Option func(*Sink)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New creates a Sink. A disabled sink drops every event.
func New(cfg Config, opts ...Option) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Sink{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: cfg.Timeout}
	}
	s.logger = logging.Or(s.logger).Named("remotelog")
	return s
}

// Send posts ev to its callback URL. An empty URL is a no-op; a non-2xx
// answer is a CallbackFailed error.
func (s *Sink) Send(ctx context.Context, ev Event) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	url := ev.CallbackURL()
	if url == "" {
		return nil
	}

	if ev.RequestID == "" {
		ev.RequestID = logging.RequestID(ctx)
	}
	if ev.RequestID == "" {
		ev.RequestID = ksuid.New().String()
	}

	body, err := json.Marshal(s.payload(ev))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCallbackFailed, "failed to encode callback payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCallbackFailed, "failed to build callback request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Secret != "" {
		token, err := Sign([]byte(s.cfg.Secret), body, ev.RequestID, s.now())
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCallbackFailed, "failed to sign callback payload")
		}
		req.Header.Set(SignatureHeader, token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCallbackFailed, "callback request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("callback sent",
		zap.String("action", ev.Action),
		zap.String("request_id", ev.RequestID),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.CallbackFailed(url, resp.StatusCode)
	}
	return nil
}

func (s *Sink) payload(ev Event) map[string]interface{} {
	errs := ev.Errors
	if errs == nil {
		errs = []string{}
	}
	p := map[string]interface{}{
		"action":     ev.Action,
		"errors":     errs,
		"request_id": ev.RequestID,
		"time":       s.now().Unix(),
	}
	if !ev.StartTime.IsZero() {
		p["elapsed"] = s.now().Sub(ev.StartTime).Seconds()
	}
	if ev.Source != nil {
		p["source"] = describe(ev.Source)
	}
	if ev.Destination != nil {
		p["destination"] = describe(ev.Destination)
	}
	if ev.Request != nil {
		p["request"] = scrubRequest(ev.Request)
	}
	return p
}

func describe(d *Descriptor) map[string]interface{} {
	out := make(map[string]interface{}, len(d.Serialized)+1)
	for k, v := range d.Serialized {
		out[k] = v
	}
	if _, ok := out["provider"]; !ok && d.Provider != "" {
		out["provider"] = d.Provider
	}
	return out
}

func scrubRequest(req map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(req))
	for k, v := range req {
		out[k] = v
	}
	if headers, ok := out["headers"].(map[string]interface{}); ok {
		out["headers"] = ScrubHeaders(headers, MaxIterations)
	}
	return out
}

// ScrubHeaders replaces dots in keys with dashes. A scrubbed key that
// collides with one already kept gets a "-n" suffix, trying at most
// maxIterations suffixes before the entry is dropped. Keys are visited in
// sorted order so the result is deterministic.
func ScrubHeaders(headers map[string]interface{}, maxIterations int) map[string]interface{} {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(headers))
	for _, key := range keys {
		scrubbed := strings.ReplaceAll(key, ".", "-")
		if _, taken := out[scrubbed]; !taken {
			out[scrubbed] = headers[key]
			continue
		}
		for i := 1; i <= maxIterations; i++ {
			candidate := fmt.Sprintf("%s-%d", scrubbed, i)
			if _, taken := out[candidate]; !taken {
				out[candidate] = headers[key]
				break
			}
		}
	}
	return out
}

// Claims is the signed callback envelope.
type Claims struct {
	Digest string `json:"sha256"`
	jwt.RegisteredClaims
}

// Sign returns an HS256 token over the SHA-256 digest of body.
func Sign(secret, body []byte, id string, now time.Time) (string, error) {
	sum := sha256.Sum256(body)
	claims := Claims{
		Digest: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks token against body and returns its claims.
func Verify(secret, body []byte, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	if claims.Digest != hex.EncodeToString(sum[:]) {
		return nil, fmt.Errorf("body digest mismatch")
	}
	return claims, nil
}
