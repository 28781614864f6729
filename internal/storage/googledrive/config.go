package googledrive

import (
	"encoding/json"
	"fmt"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

// Credentials hold the OAuth access token of the account.
type Credentials struct {
	Token string `json:"token"`
}

// Settings select the folder a provider is rooted at.
type Settings struct {
	FolderID   string `json:"folder_id"`
	FolderName string `json:"folder_name"`
}

// Config holds the process-level tuning of the backend.
type Config struct {
	BaseURL   string
	UploadURL string
	PageSize  int64
	// HashContent downloads files on metadata requests to report sha512.
	HashContent bool

	// ChunkSize is rounded down to a multiple of 256 KiB when larger.
	ChunkSize       int64
	MaxAbortRetries int

	DeleteConcurrency int
	Retry             retry.Config
}

// DefaultConfig returns the backend defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.googleapis.com/drive/v3/",
		UploadURL:         "https://www.googleapis.com/upload/drive/v3/",
		PageSize:          1000,
		ChunkSize:         64000000, // 64 MB
		MaxAbortRetries:   2,
		DeleteConcurrency: 10,
		Retry:             retry.DefaultConfig(),
	}
}

const chunkQuantum = 256 << 10

func (c Config) chunkSize() int64 {
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultConfig().ChunkSize
	}
	if size >= chunkQuantum {
		size -= size % chunkQuantum
	}
	return size
}

// ParseCredentials decodes and checks a credentials object.
func ParseCredentials(raw json.RawMessage) (Credentials, error) {
	var c Credentials
	if err := decode(raw, &c, "credentials"); err != nil {
		return c, err
	}
	if c.Token == "" {
		return c, errors.NewError(errors.ErrCodeInvalidConfig, "googledrive credentials require token").WithComponent(Name)
	}
	return c, nil
}

// ParseSettings decodes and checks a settings object.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	var s Settings
	if err := decode(raw, &s, "settings"); err != nil {
		return s, err
	}
	if s.FolderID == "" {
		return s, errors.NewError(errors.ErrCodeInvalidConfig, "googledrive settings require folder_id").WithComponent(Name)
	}
	return s, nil
}

func decode(raw json.RawMessage, v interface{}, what string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("malformed googledrive %s: %v", what, err)).WithComponent(Name)
	}
	return nil
}
