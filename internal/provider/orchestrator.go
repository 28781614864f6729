package provider

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/metrics"
	"github.com/west1636/RDM-waterbutler/internal/remotelog"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Action names reported to metrics and the callback.
const (
	ActionMetadata     = "metadata"
	ActionRevisions    = "revisions"
	ActionDownload     = "download_file"
	ActionDownloadZip  = "download_zip"
	ActionUpload       = "upload"
	ActionDelete       = "delete"
	ActionCreateFolder = "create_folder"
	ActionCopy         = "copy"
	ActionMove         = "move"
)

// Target is a provider bound to the callback URL of the credential it was
// built from.
type Target struct {
	Provider
	CallbackURL string
}

// Orchestrator runs provider operations with a request id, metrics, logging
// and the post-operation callback.
type Orchestrator struct {
	metrics       *metrics.Collector
	sink          *remotelog.Sink
	logger        *zap.Logger
	opConcurrency int
	zipLevel      int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics records every operation in c.
func WithMetrics(c *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithCallback reports mutating operations and downloads to s.
func WithCallback(s *remotelog.Sink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOpConcurrency caps the fan-out of folder copies and moves.
func WithOpConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.opConcurrency = n }
}

// WithZipLevel sets the deflate level of zip downloads.
func WithZipLevel(level int) OrchestratorOption {
	return func(o *Orchestrator) { o.zipLevel = level }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{opConcurrency: DefaultOpConcurrency}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.Or(o.logger).Named("orchestrator")
	return o
}

type run struct {
	o      *Orchestrator
	ctx    context.Context
	action string
	start  time.Time
	src    *Target
	dst    *Target
	srcP   *path.Path
	dstP   *path.Path
}

func (o *Orchestrator) begin(ctx context.Context, action string, src *Target, srcP *path.Path) *run {
	id := logging.RequestID(ctx)
	if id == "" {
		id = ksuid.New().String()
	}
	ctx = logging.WithLogger(ctx, o.logger.With(
		zap.String("action", action),
		zap.String("provider", src.Name()),
	))
	ctx = logging.WithRequestID(ctx, id)
	return &run{o: o, ctx: ctx, action: action, start: time.Now(), src: src, srcP: srcP}
}

func (r *run) to(dst *Target, dstP *path.Path) *run {
	r.dst, r.dstP = dst, dstP
	return r
}

// finish records the outcome and reports it to the callback. md describes the
// resulting entry, if any. It returns err, or the callback failure when the
// operation itself succeeded.
func (r *run) finish(md metadata.Metadata, err error) error {
	logger := logging.FromContext(r.ctx)
	elapsed := time.Since(r.start)
	r.o.metrics.RecordOperation(r.src.Name(), r.action, elapsed, err)

	fields := []zap.Field{zap.String("path", r.srcP.String()), zap.Duration("elapsed", elapsed)}
	if r.dstP != nil {
		fields = append(fields, zap.String("destination", r.dstP.String()))
	}
	if err != nil {
		logger.Warn("operation failed", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("operation finished", fields...)
	}

	if r.action == ActionMetadata || r.action == ActionRevisions {
		return err
	}
	ev := remotelog.Event{
		Action:    r.action,
		Source:    describeTarget(r.src, r.srcP, nil),
		StartTime: r.start,
		RequestID: logging.RequestID(r.ctx),
	}
	if r.dst != nil {
		ev.Destination = describeTarget(r.dst, r.dstP, md)
	} else if md != nil {
		ev.Source = describeTarget(r.src, r.srcP, md)
	}
	if err != nil {
		ev.Errors = []string{err.Error()}
	}
	if cbErr := r.o.sink.Send(r.ctx, ev); cbErr != nil {
		logger.Warn("callback failed", zap.Error(cbErr))
		if err == nil {
			return cbErr
		}
	}
	return err
}

func describeTarget(t *Target, p *path.Path, md metadata.Metadata) *remotelog.Descriptor {
	d := &remotelog.Descriptor{Provider: t.Name(), CallbackURL: t.CallbackURL}
	if md != nil {
		d.Serialized = md.Serialized()
	} else if p != nil {
		d.Serialized = map[string]interface{}{
			"path":         p.RawPath(),
			"materialized": p.MaterializedPath(),
			"kind":         p.Kind(),
			"name":         p.Name(),
			"provider":     t.Name(),
		}
	}
	return d
}

// Metadata fetches metadata for p.
func (o *Orchestrator) Metadata(ctx context.Context, t *Target, p *path.Path, opts MetadataOptions) (metadata.Metadata, error) {
	r := o.begin(ctx, ActionMetadata, t, p)
	md, err := t.Metadata(r.ctx, p, opts)
	return md, r.finish(nil, err)
}

// Revisions lists the revisions of p.
func (o *Orchestrator) Revisions(ctx context.Context, t *Target, p *path.Path) ([]*metadata.Revision, error) {
	r := o.begin(ctx, ActionRevisions, t, p)
	revs, err := t.Revisions(r.ctx, p)
	return revs, r.finish(nil, err)
}

// Download opens p. Bytes read are recorded when the stream is closed.
func (o *Orchestrator) Download(ctx context.Context, t *Target, p *path.Path, opts DownloadOptions) (*Stream, error) {
	r := o.begin(ctx, ActionDownload, t, p)
	stream, err := t.Download(r.ctx, p, opts)
	if err := r.finish(nil, err); err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		return nil, err
	}
	stream.ReadCloser = &countingReader{ReadCloser: stream.ReadCloser, done: func(n int64) {
		o.metrics.RecordBytes(t.Name(), metrics.DirectionDownload, n)
	}}
	return stream, nil
}

// Zip streams a zip archive of p.
func (o *Orchestrator) Zip(ctx context.Context, t *Target, p *path.Path) (io.ReadCloser, error) {
	r := o.begin(ctx, ActionDownloadZip, t, p)
	rc, err := Zip(r.ctx, t, p, o.zipLevel)
	if err := r.finish(nil, err); err != nil {
		if rc != nil {
			_ = rc.Close()
		}
		return nil, err
	}
	return rc, nil
}

// Upload writes s to p. s reaches the backend unwrapped.
func (o *Orchestrator) Upload(ctx context.Context, t *Target, s *Stream, p *path.Path, opts UploadOptions) (*metadata.File, bool, error) {
	r := o.begin(ctx, ActionUpload, t, p)
	f, created, err := t.Upload(r.ctx, s, p, opts)
	if err == nil {
		if size, ok := f.Size(); ok {
			o.metrics.RecordBytes(t.Name(), metrics.DirectionUpload, size)
		}
		if err := r.finish(f, nil); err != nil {
			return nil, false, err
		}
		return f, created, nil
	}
	return nil, false, r.finish(nil, err)
}

// Delete removes p.
func (o *Orchestrator) Delete(ctx context.Context, t *Target, p *path.Path, opts DeleteOptions) error {
	r := o.begin(ctx, ActionDelete, t, p)
	return r.finish(nil, t.Delete(r.ctx, p, opts))
}

// CreateFolder creates the folder p.
func (o *Orchestrator) CreateFolder(ctx context.Context, t *Target, p *path.Path, opts CreateFolderOptions) (*metadata.Folder, error) {
	r := o.begin(ctx, ActionCreateFolder, t, p)
	f, err := t.CreateFolder(r.ctx, p, opts)
	if err != nil {
		return nil, r.finish(nil, err)
	}
	if err := r.finish(f, nil); err != nil {
		return nil, err
	}
	return f, nil
}

// Copy copies srcPath on src to dstPath on dest.
func (o *Orchestrator) Copy(ctx context.Context, src, dest *Target, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	return o.transfer(ctx, ActionCopy, Copy, src, dest, srcPath, dstPath, opts)
}

// Move moves srcPath on src to dstPath on dest.
func (o *Orchestrator) Move(ctx context.Context, src, dest *Target, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	return o.transfer(ctx, ActionMove, Move, src, dest, srcPath, dstPath, opts)
}

func (o *Orchestrator) transfer(ctx context.Context, action string, fn transferFunc, src, dest *Target, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	r := o.begin(ctx, action, src, srcPath).to(dest, dstPath)
	if opts.Concurrency == 0 {
		opts.Concurrency = o.opConcurrency
	}
	md, created, err := fn(r.ctx, src.Provider, dest.Provider, srcPath, dstPath, opts)
	if err := r.finish(md, err); err != nil {
		return nil, false, err
	}
	return md, created, nil
}

type countingReader struct {
	io.ReadCloser
	n    int64
	done func(int64)
	once atomic.Bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	atomic.AddInt64(&c.n, int64(n))
	return n, err
}

func (c *countingReader) Close() error {
	if c.done != nil && c.once.CompareAndSwap(false, true) {
		c.done(atomic.LoadInt64(&c.n))
	}
	return c.ReadCloser.Close()
}
