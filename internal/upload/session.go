// Package upload drives resumable, session based uploads.
//
// A session moves NotStarted -> SessionOpen -> Uploading -> Finalized, or
// Uploading -> Aborted on an unrecoverable error or cancellation. Each backend
// call is retried for transient failures. Once a session token exists the
// stream is never restarted from zero unless the backend invalidates the
// token and the stream can be rewound.
package upload

import (
	"bufio"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

// Part is one chunk handed to a protocol.
type Part struct {
	Number int
	Offset int64
	Data   []byte
	// Total is the full stream size, or -1 while unknown. It is always set on
	// the last part.
	Total int64
	Last  bool
}

// Protocol is the backend side of a resumable upload.
//
// UploadPart may return the finished object when the backend completes the
// session on the last chunk; Finalize then receives it.
type Protocol[T any] interface {
	Open(ctx context.Context) (token string, err error)
	UploadPart(ctx context.Context, token string, part Part) (etag string, final *T, err error)
	Finalize(ctx context.Context, token string, parts []CompletedPart, final *T) (T, error)
	Abort(ctx context.Context, token string) error
}

// Config tunes a session.
type Config struct {
	ChunkSize       int64
	MaxAbortRetries int
	// Retry applies to each Open, UploadPart and Finalize call.
	Retry retry.Config
	// OnProgress is called after each part with bytes sent and the total (-1 if unknown).
	OnProgress func(sent, total int64)
	Logger     *zap.Logger
}

// DefaultConfig mirrors the process defaults: 64 MB chunks, two abort retries.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       64000000,
		MaxAbortRetries: 2,
		Retry:           retry.DefaultConfig(),
	}
}

// Session runs one resumable upload.
type Session[T any] struct {
	proto    Protocol[T]
	cfg      Config
	status   Status
	token    string
	progress *Progress
	logger   *zap.Logger
}

// NewSession creates a session in the NotStarted state.
func NewSession[T any](proto Protocol[T], cfg Config) *Session[T] {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.MaxAbortRetries < 0 {
		cfg.MaxAbortRetries = 0
	}
	return &Session[T]{
		proto:  proto,
		cfg:    cfg,
		status: StatusNotStarted,
		logger: logging.Or(cfg.Logger).Named("upload"),
	}
}

// Status returns the current state.
func (s *Session[T]) Status() Status { return s.status }

// Token returns the session token, empty before Open succeeds.
func (s *Session[T]) Token() string { return s.token }

// Progress returns the part tracker of the current session.
func (s *Session[T]) Progress() *Progress { return s.progress }

// Run streams r through the session. size is the stream length or -1.
func (s *Session[T]) Run(ctx context.Context, r io.Reader, size int64) (T, error) {
	var zero T
	if s.status != StatusNotStarted {
		return zero, errors.NewError(errors.ErrCodeInternalError, "upload session already used")
	}

	reopened := false
	for {
		if err := s.open(ctx, size); err != nil {
			return zero, err
		}

		final, err := s.send(ctx, r, size)
		if err == nil {
			return s.finalize(ctx, final)
		}

		if errors.IsCode(err, errors.ErrCodeUploadSessionExpired) && !reopened && ctx.Err() == nil {
			if seeker, ok := r.(io.Seeker); ok {
				if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr == nil {
					s.logger.Warn("upload session invalidated, reopening", zap.String("token", s.token))
					reopened = true
					s.status = StatusNotStarted
					s.token = ""
					continue
				}
			}
		}

		s.abort(ctx)
		return zero, err
	}
}

func (s *Session[T]) retryer() *retry.Retryer {
	return retry.New(s.cfg.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("retrying upload step",
			zap.String("status", string(s.status)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
}

func (s *Session[T]) open(ctx context.Context, size int64) error {
	var token string
	err := s.retryer().DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.proto.Open(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUpload, "failed to open upload session")
	}

	s.token = token
	s.status = StatusSessionOpen
	s.progress = NewProgress(token, size, s.cfg.ChunkSize)
	s.logger.Debug("upload session opened", zap.String("token", token))
	return nil
}

func (s *Session[T]) send(ctx context.Context, r io.Reader, size int64) (*T, error) {
	s.status = StatusUploading
	br := bufio.NewReaderSize(r, 64<<10)
	buf := make([]byte, s.cfg.ChunkSize)

	var offset int64
	for number := 1; ; number++ {
		n, err := io.ReadFull(br, buf)
		switch err {
		case nil, io.ErrUnexpectedEOF, io.EOF:
		default:
			return nil, errors.Wrap(err, errors.ErrCodeUpload, "failed to read upload stream")
		}

		last := err != nil
		if !last {
			if size >= 0 {
				last = offset+int64(n) >= size
			} else if _, peekErr := br.Peek(1); peekErr == io.EOF {
				last = true
			}
		}

		total := size
		if last {
			total = offset + int64(n)
		}

		part := Part{Number: number, Offset: offset, Data: buf[:n], Total: total, Last: last}
		etag, final, err := s.uploadPart(ctx, part)
		if err != nil {
			return nil, err
		}

		offset += int64(n)
		if s.cfg.OnProgress != nil {
			s.cfg.OnProgress(offset, size)
		}
		if last {
			s.logger.Debug("upload stream sent",
				zap.Int("parts", number),
				zap.Int64("bytes", offset),
				zap.String("etag", etag))
			return final, nil
		}
	}
}

func (s *Session[T]) uploadPart(ctx context.Context, part Part) (string, *T, error) {
	var (
		etag  string
		final *T
	)
	err := s.retryer().DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		etag, final, err = s.proto.UploadPart(ctx, s.token, part)
		if err != nil {
			s.progress.MarkPartFailed(part.Number, part.Offset, err)
		}
		return err
	})
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrCodeUpload, "failed to upload part")
	}
	s.progress.MarkPartCompleted(part.Number, part.Offset, int64(len(part.Data)), etag)
	return etag, final, nil
}

func (s *Session[T]) finalize(ctx context.Context, final *T) (T, error) {
	var result T
	err := s.retryer().DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.proto.Finalize(ctx, s.token, s.progress.Completed(), final)
		return err
	})
	if err != nil {
		s.abort(ctx)
		var zero T
		return zero, errors.Wrap(err, errors.ErrCodeUpload, "failed to finalize upload session")
	}

	s.status = StatusFinalized
	s.logger.Debug("upload session finalized", zap.String("token", s.token))
	return result, nil
}

// abort performs best-effort cleanup. It runs detached from ctx so a canceled
// caller still releases the server-side session.
func (s *Session[T]) abort(ctx context.Context) {
	if s.token == "" {
		return
	}
	s.status = StatusAborted

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	retryer := retry.New(s.cfg.Retry).
		WithMaxAttempts(s.cfg.MaxAbortRetries + 1).
		WithRetryable(func(error) bool { return true })
	err := retryer.DoWithContext(cleanupCtx, func(ctx context.Context) error {
		return s.proto.Abort(ctx, s.token)
	})
	if err != nil {
		s.logger.Warn("failed to abort upload session",
			zap.String("token", s.token),
			zap.Int("attempts", retryer.MaxAttempts()),
			zap.Error(err))
		return
	}
	s.logger.Debug("upload session aborted", zap.String("token", s.token))
}
