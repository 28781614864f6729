/*
Package config provides process configuration for the storage providers.

Configuration is layered. Compiled-in defaults come first, then a YAML file, then
WATERBUTLER_* environment variables:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("waterbutler.yaml"); err != nil {
		return err
	}
	_ = cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

Sections:

  - global: log level (DEBUG, INFO, WARN, ERROR), format and file
  - retry: transport attempts and backoff for idempotent requests
  - operations: fan-out caps for folder copy and prefix deletes, zip level
  - upload: contiguous limit, chunk size and abort retries for resumable sessions
  - auth: credential extension order
  - callback: audit callback signing secret and timeout
  - monitoring: prometheus endpoint
  - providers: per-backend defaults for s3compat and googledrive

The configuration is read once and passed into constructors. Providers never look
settings up globally.
*/
package config
