package s3compat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

// Credentials are the keys and endpoint of one S3-compatible service.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	// Host is "host" or "host:port". Port 443, the default, selects https.
	Host string `json:"host"`
}

// Settings select the bucket area a provider works in.
type Settings struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
	// EncryptUploads overrides Config.EncryptUploads when set.
	EncryptUploads *bool `json:"encrypt_uploads"`
}

// Config holds the process-level tuning of the backend.
type Config struct {
	Region         string
	ForcePathStyle bool
	EncryptUploads bool

	// ContiguousLimit is the largest upload sent as a single PUT.
	ContiguousLimit int64
	ChunkSize       int64
	MaxAbortRetries int
	// MaxUploadSize rejects larger uploads with 413. Zero means unlimited.
	MaxUploadSize int64

	DeleteConcurrency int
	Retry             retry.Config
}

// DefaultConfig returns the backend defaults.
func DefaultConfig() Config {
	return Config{
		Region:            "us-east-1",
		ForcePathStyle:    true,
		ContiguousLimit:   128000000, // 128 MB
		ChunkSize:         64000000,  // 64 MB
		MaxAbortRetries:   2,
		MaxUploadSize:     5 << 40, // 5 TiB
		DeleteConcurrency: 10,
		Retry:             retry.DefaultConfig(),
	}
}

var hostPort = regexp.MustCompile(`^(.+):([0-9]+)$`)

// Endpoint returns the service URL for Host.
func (c Credentials) Endpoint() string {
	host := strings.TrimRight(c.Host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	port := 443
	if m := hostPort.FindStringSubmatch(host); m != nil {
		host = m[1]
		port, _ = strconv.Atoi(m[2])
	}
	if port == 443 {
		return "https://" + host
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// ParseCredentials decodes and checks a credentials object.
func ParseCredentials(raw json.RawMessage) (Credentials, error) {
	var c Credentials
	if err := decode(raw, &c, "credentials"); err != nil {
		return c, err
	}
	var missing []string
	if c.AccessKey == "" {
		missing = append(missing, "access_key")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if len(missing) > 0 {
		return c, errors.NewError(errors.ErrCodeInvalidConfig,
			"s3compat credentials require "+strings.Join(missing, ", ")).WithComponent("s3compat")
	}
	return c, nil
}

// ParseSettings decodes and checks a settings object.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	var s Settings
	if err := decode(raw, &s, "settings"); err != nil {
		return s, err
	}
	if s.Bucket == "" {
		return s, errors.NewError(errors.ErrCodeInvalidConfig, "s3compat settings require bucket").WithComponent("s3compat")
	}
	return s, nil
}

func decode(raw json.RawMessage, v interface{}, what string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("malformed s3compat %s: %v", what, err)).WithComponent("s3compat")
	}
	return nil
}
