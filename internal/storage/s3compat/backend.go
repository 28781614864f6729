// Package s3compat implements the provider contract on S3-compatible object
// storage.
//
// Folders are not first-class objects on S3. They are inferred from the keys
// of their children, optionally with a zero-byte "name/" marker object. A
// prefix query against a missing folder succeeds with no results, so folder
// existence always falls back to the marker.
package s3compat

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/reconcile"
	"github.com/west1636/RDM-waterbutler/internal/upload"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Name is the provider tag.
const Name = "s3compat"

// Provider is one bucket area of an S3-compatible service.
type Provider struct {
	api       API
	bucket    string
	prefix    string
	encrypt   bool
	endpoint  string
	accessKey string
	cfg       Config
	rec       *reconcile.Reconciler
	logger    *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// New builds a provider with an SDK client for creds.
func New(ctx context.Context, creds Credentials, settings Settings, cfg Config, opts ...Option) (*Provider, error) {
	client, err := NewClient(ctx, creds, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithAPI(client, creds, settings, cfg, opts...)
}

// NewWithAPI builds a provider on an existing client.
func NewWithAPI(api API, creds Credentials, settings Settings, cfg Config, opts ...Option) (*Provider, error) {
	if settings.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	encrypt := cfg.EncryptUploads
	if settings.EncryptUploads != nil {
		encrypt = *settings.EncryptUploads
	}
	p := &Provider{
		api:       api,
		bucket:    settings.Bucket,
		prefix:    strings.Trim(settings.Prefix, "/"),
		encrypt:   encrypt,
		endpoint:  creds.Endpoint(),
		accessKey: creds.AccessKey,
		cfg:       cfg,
		rec: reconcile.New(reconcile.Config{
			Provider:      Name,
			VersionKey:    "version",
			RevisionParam: "version",
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.Or(p.logger).Named(Name).With(zap.String("bucket", p.bucket))
	return p, nil
}

func (p *Provider) Name() string { return Name }

// Bucket returns the configured bucket.
func (p *Provider) Bucket() string { return p.bucket }

func objectKey(wb *path.Path) string {
	return strings.TrimPrefix(wb.FullPath(), path.Separator)
}

func (p *Provider) ValidatePath(ctx context.Context, raw string) (*path.Path, error) {
	return path.Parse(raw, path.WithPrepend(p.prefix))
}

func (p *Provider) ValidateV1Path(ctx context.Context, raw string) (*path.Path, error) {
	wb, err := p.ValidatePath(ctx, raw)
	if err != nil || wb.IsRoot() {
		return wb, err
	}

	key := objectKey(wb)
	if wb.IsDir() {
		ok, err := p.folderExists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NotFound(wb.String())
		}
		return wb, nil
	}

	if _, err := p.head(ctx, key, ""); err != nil {
		if isNotFound(err) {
			return nil, errors.NotFound(wb.String())
		}
		return nil, p.translateError(err, errors.Metadata, key)
	}
	return wb, nil
}

func (p *Provider) RevalidatePath(ctx context.Context, base *path.Path, name string, folder bool) (*path.Path, error) {
	return base.Child(name, "", folder), nil
}

func (p *Provider) head(ctx context.Context, key, version string) (*s3.HeadObjectOutput, error) {
	in := &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if version != "" {
		in.VersionId = aws.String(version)
	}
	p.logger.Debug("head object", zap.String("key", key), zap.String("version", version))
	return p.api.HeadObject(ctx, in)
}

func (p *Provider) Metadata(ctx context.Context, wb *path.Path, opts provider.MetadataOptions) (metadata.Metadata, error) {
	if wb.IsDir() {
		return p.metadataFolder(ctx, wb)
	}
	return p.metadataFile(ctx, wb, opts.Revision)
}

func (p *Provider) metadataFile(ctx context.Context, wb *path.Path, revision string) (*metadata.File, error) {
	key := objectKey(wb)
	out, err := p.head(ctx, key, versionID(revision))
	if err != nil {
		return nil, p.translateError(err, errors.Metadata, key)
	}
	return p.rec.File(reconcile.Item{
		MimeType: aws.ToString(out.ContentType),
		Size:     out.ContentLength,
		Modified: timestamp(out.LastModified),
		Version:  aws.ToString(out.VersionId),
		// S3 reports "null" for objects in unversioned buckets.
		Unversioned: isNullVersion(aws.ToString(out.VersionId)),
		Hashes:      md5Hash(aws.ToString(out.ETag)),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Extra:       objectExtra(aws.ToString(out.ETag), out.ServerSideEncryption),
	}, wb)
}

func (p *Provider) metadataFolder(ctx context.Context, wb *path.Path) (*metadata.Folder, error) {
	prefix := objectKey(wb)
	var (
		children []metadata.Metadata
		seen     = map[string]bool{}
		self     bool
	)

	pages := s3.NewListObjectsV2Paginator(p.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, p.translateError(err, errors.Metadata, prefix)
		}
		for _, obj := range page.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if rest == "" {
				self = true
				continue
			}
			name, _, nested := strings.Cut(rest, "/")
			if name == "" {
				continue
			}
			if nested {
				if !seen[name] {
					seen[name] = true
					children = append(children, p.rec.Folder(reconcile.Item{}, wb.Child(name, "", true)))
				}
				continue
			}
			file, err := p.rec.File(reconcile.Item{
				Size:     obj.Size,
				MimeType: detectContentType(name),
				Modified: timestamp(obj.LastModified),
				Hashes:   md5Hash(aws.ToString(obj.ETag)),
				ETag:     strings.Trim(aws.ToString(obj.ETag), `"`),
				Extra:    objectExtra(aws.ToString(obj.ETag), ""),
			}, wb.Child(name, "", false))
			if err != nil {
				return nil, err
			}
			children = append(children, file)
		}
	}

	if !self && len(children) == 0 && !wb.IsRoot() {
		ok, err := p.markerExists(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NotFound(wb.String())
		}
	}
	return p.rec.Folder(reconcile.Item{}, wb).WithChildren(children), nil
}

// folderExists reports whether the folder key has a marker or any descendant.
func (p *Provider) folderExists(ctx context.Context, key string) (bool, error) {
	out, err := p.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, p.translateError(err, errors.Metadata, key)
	}
	if len(out.Contents) > 0 {
		return true, nil
	}
	return p.markerExists(ctx, key)
}

// markerExists checks the marker object directly, then as a common prefix
// of its parent listing. Some services omit a leaf marker from prefix
// listings but still report it either way.
func (p *Provider) markerExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	_, err := p.head(ctx, key, "")
	if err == nil {
		return true, nil
	}
	if !isNotFound(err) {
		return false, p.translateError(err, errors.Metadata, key)
	}

	pages := s3.NewListObjectsV2Paginator(p.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(strings.TrimSuffix(key, "/")),
		Delimiter: aws.String("/"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return false, p.translateError(err, errors.Metadata, key)
		}
		for _, cp := range page.CommonPrefixes {
			if aws.ToString(cp.Prefix) == key {
				return true, nil
			}
		}
	}
	return false, nil
}

func (p *Provider) Download(ctx context.Context, wb *path.Path, opts provider.DownloadOptions) (*provider.Stream, error) {
	if !wb.IsFile() {
		return nil, errors.Download("No file specified for download", 400)
	}

	key := objectKey(wb)
	disposition := "attachment"
	if opts.DisplayName != "" {
		disposition = "attachment; filename*=UTF-8''" + url.PathEscape(opts.DisplayName)
	}
	in := &s3.GetObjectInput{
		Bucket:                     aws.String(p.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String(disposition),
	}
	if version := versionID(opts.Revision); version != "" {
		in.VersionId = aws.String(version)
	}
	if opts.Range != nil {
		in.Range = aws.String(opts.Range.Header())
	}

	p.logger.Debug("get object", zap.String("key", key), zap.Stringp("range", in.Range))
	out, err := p.api.GetObject(ctx, in)
	if err != nil {
		return nil, p.translateError(err, errors.Download, key)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	s := provider.NewStream(out.Body, size)
	s.ContentType = aws.ToString(out.ContentType)
	s.Partial = opts.Range != nil && out.ContentRange != nil
	return s, nil
}

func (p *Provider) Upload(ctx context.Context, s *provider.Stream, wb *path.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	if p.cfg.MaxUploadSize > 0 && s.Size > p.cfg.MaxUploadSize {
		return nil, false, errors.Upload(
			fmt.Sprintf("uploads are limited to %d bytes", p.cfg.MaxUploadSize), 413)
	}

	wb, exists, err := provider.HandleNameConflict(ctx, p, wb, opts.Conflict)
	if err != nil {
		return nil, false, err
	}

	key := objectKey(wb)
	hasher, err := upload.NewHasher(s, upload.MD5)
	if err != nil {
		return nil, false, err
	}

	switch {
	case s.Size >= 0 && s.Size <= p.contiguousLimit():
		err = p.putContiguous(ctx, hasher, key, s.Size)
	case s.Size > 0:
		err = p.putMultipart(ctx, hasher, key, s.Size)
	default:
		err = p.putUnsized(ctx, hasher, key)
	}
	if err != nil {
		return nil, false, err
	}

	md, err := p.metadataFile(ctx, wb, "")
	if err != nil {
		return nil, false, err
	}
	return md, !exists, nil
}

func (p *Provider) contiguousLimit() int64 {
	if p.cfg.ContiguousLimit > 0 {
		return p.cfg.ContiguousLimit
	}
	return DefaultConfig().ContiguousLimit
}

func (p *Provider) putContiguous(ctx context.Context, hasher *upload.Hasher, key string, size int64) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		// The hasher is not rewindable, so the payload goes unsigned.
		Body:          struct{ io.Reader }{hasher},
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(detectContentType(key)),
	}
	if p.encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	p.logger.Debug("put object", zap.String("key", key), zap.Int64("size", size))
	out, err := p.api.PutObject(ctx, in,
		s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		return p.translateError(err, errors.Upload, key)
	}
	return p.verify(hasher, aws.ToString(out.ETag))
}

// verify compares the local md5 with the returned ETag. Encrypted and
// multipart objects carry an ETag that is not the content md5.
func (p *Provider) verify(hasher *upload.Hasher, etag string) error {
	if p.encrypt || strings.Contains(etag, "-") {
		return nil
	}
	return hasher.Verify(upload.MD5, etag)
}

func (p *Provider) putMultipart(ctx context.Context, hasher *upload.Hasher, key string, size int64) error {
	session := upload.NewSession[string](&multipart{p: p, key: key, contentType: detectContentType(key)}, upload.Config{
		ChunkSize:       p.cfg.ChunkSize,
		MaxAbortRetries: p.cfg.MaxAbortRetries,
		Retry:           p.cfg.Retry,
		Logger:          p.logger,
	})
	etag, err := session.Run(ctx, hasher, size)
	if err != nil {
		return err
	}
	p.logger.Debug("multipart upload complete",
		zap.String("key", key),
		zap.Int("parts", session.Progress().CompletedParts),
		zap.String("etag", etag))
	return nil
}

// putUnsized streams a body of unknown length through the SDK upload manager.
func (p *Provider) putUnsized(ctx context.Context, hasher *upload.Hasher, key string) error {
	uploader := manager.NewUploader(p.api, func(u *manager.Uploader) {
		if p.cfg.ChunkSize >= manager.MinUploadPartSize {
			u.PartSize = p.cfg.ChunkSize
		}
	})
	in := &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        struct{ io.Reader }{hasher},
		ContentType: aws.String(detectContentType(key)),
	}
	if p.encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	p.logger.Debug("managed upload", zap.String("key", key))
	out, err := uploader.Upload(ctx, in)
	if err != nil {
		return p.translateError(err, errors.Upload, key)
	}
	return p.verify(hasher, aws.ToString(out.ETag))
}

func (p *Provider) Delete(ctx context.Context, wb *path.Path, opts provider.DeleteOptions) error {
	if err := provider.RequireRootConfirm(wb, opts); err != nil {
		return err
	}

	key := objectKey(wb)
	if wb.IsFile() {
		if _, err := p.head(ctx, key, ""); err != nil {
			return p.translateError(err, errors.Delete, key)
		}
		return p.deleteKey(ctx, key)
	}
	return p.deleteFolder(ctx, wb)
}

func (p *Provider) deleteKey(ctx context.Context, key string) error {
	p.logger.Debug("delete object", zap.String("key", key))
	_, err := p.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	return p.translateError(err, errors.Delete, key)
}

func (p *Provider) deleteFolder(ctx context.Context, wb *path.Path) error {
	prefix := objectKey(wb)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		return errors.InvalidParameters("not a folder: " + wb.String())
	}

	var keys []string
	pages := s3.NewListObjectsV2Paginator(p.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return p.translateError(err, errors.Delete, prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if len(keys) == 0 {
		if wb.IsRoot() {
			return nil
		}
		ok, err := p.markerExists(ctx, prefix)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(wb.String())
		}
		keys = []string{prefix}
	}

	// Deepest keys first, so markers go after their contents.
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	p.logger.Debug("deleting folder", zap.String("prefix", prefix), zap.Int("keys", len(keys)))
	return provider.DeleteKeys(ctx, keys, p.cfg.DeleteConcurrency, p.deleteKey)
}

func (p *Provider) CreateFolder(ctx context.Context, wb *path.Path, opts provider.CreateFolderOptions) (*metadata.Folder, error) {
	if !wb.IsDir() {
		return nil, errors.CreateFolder("Path must be a directory", 400)
	}
	if !opts.SkipPrecheck {
		_, exists, err := provider.Exists(ctx, p, wb)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.FolderNamingConflict(wb.Name())
		}
	}

	key := objectKey(wb)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	}
	if p.encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	p.logger.Debug("put folder marker", zap.String("key", key))
	if _, err := p.api.PutObject(ctx, in); err != nil {
		return nil, p.translateError(err, errors.CreateFolder, key)
	}
	return p.rec.Folder(reconcile.Item{}, wb), nil
}

func (p *Provider) Revisions(ctx context.Context, wb *path.Path) ([]*metadata.Revision, error) {
	key := objectKey(wb)
	in := &s3.ListObjectVersionsInput{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(key),
	}

	var revisions []*metadata.Revision
	for {
		out, err := p.api.ListObjectVersions(ctx, in)
		if err != nil {
			// Several S3-compatible services do not implement versioning.
			p.logger.Info("ListObjectVersions may not be supported", zap.String("key", key), zap.Error(err))
			return []*metadata.Revision{}, nil
		}
		for _, v := range out.Versions {
			if aws.ToString(v.Key) != key {
				continue
			}
			version := aws.ToString(v.VersionId)
			revisions = append(revisions, p.rec.Revision(reconcile.Item{
				Version:     version,
				Unversioned: isNullVersion(version),
				Modified:    timestamp(v.LastModified),
				Extra: map[string]interface{}{
					"md5":    strings.Trim(aws.ToString(v.ETag), `"`),
					"latest": aws.ToBool(v.IsLatest),
				},
			}))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.VersionIdMarker = out.NextVersionIdMarker
	}
	if revisions == nil {
		revisions = []*metadata.Revision{}
	}
	return revisions, nil
}

func (p *Provider) IntraCopy(ctx context.Context, dest provider.Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	target, ok := dest.(*Provider)
	if !ok {
		return nil, false, errors.IntraCopy("destination is not an s3compat provider", 400)
	}
	_, exists, err := provider.Exists(ctx, target, dst)
	if err != nil {
		return nil, false, err
	}

	srcKey, dstKey := objectKey(src), objectKey(dst)
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(target.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String((&url.URL{Path: p.bucket + "/" + srcKey}).EscapedPath()),
	}
	if target.encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	p.logger.Debug("copy object", zap.String("from", srcKey), zap.String("to", dstKey), zap.String("to_bucket", target.bucket))
	if _, err := p.api.CopyObject(ctx, in); err != nil {
		return nil, false, p.translateError(err, errors.IntraCopy, srcKey)
	}

	md, err := target.Metadata(ctx, dst, provider.MetadataOptions{})
	if err != nil {
		return nil, false, err
	}
	return md, !exists, nil
}

func (p *Provider) IntraMove(ctx context.Context, dest provider.Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	md, created, err := p.IntraCopy(ctx, dest, src, dst)
	if err != nil {
		return nil, false, err
	}
	if err := p.Delete(ctx, src, provider.DeleteOptions{}); err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, false, errors.Wrap(err, errors.ErrCodeIntraMove, "failed to remove moved object")
	}
	return md, created, nil
}

func (p *Provider) CanDuplicateNames() bool { return true }

// CanIntraCopy holds between providers on the same service and keys. Only
// objects are copied server side; folders take the generic fan-out.
func (p *Provider) CanIntraCopy(dest provider.Provider, wb *path.Path) bool {
	other, ok := dest.(*Provider)
	return ok && wb.IsFile() && other.endpoint == p.endpoint && other.accessKey == p.accessKey
}

func (p *Provider) CanIntraMove(dest provider.Provider, wb *path.Path) bool {
	return p.CanIntraCopy(dest, wb)
}

func (p *Provider) SharesStorageRoot(other provider.Provider) bool {
	o, ok := other.(*Provider)
	return ok && o.endpoint == p.endpoint && o.bucket == p.bucket && o.prefix == p.prefix
}

func (p *Provider) PathFromMetadata(parent *path.Path, md metadata.Metadata) *path.Path {
	return provider.ChildPath(parent, md)
}

func versionID(revision string) string {
	revision = reconcile.NormalizeRevision(revision)
	if isNullVersion(revision) {
		return ""
	}
	return revision
}

func isNullVersion(v string) bool {
	return v == "" || v == "null"
}

func timestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func md5Hash(etag string) map[string]string {
	etag = strings.Trim(etag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		return nil
	}
	return map[string]string{upload.MD5: etag}
}

func objectExtra(etag string, sse s3types.ServerSideEncryption) map[string]interface{} {
	extra := map[string]interface{}{"md5": strings.Trim(etag, `"`)}
	if sse != "" {
		extra["encryption"] = string(sse)
	}
	return extra
}
