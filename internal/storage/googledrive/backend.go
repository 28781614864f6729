// Package googledrive implements the provider contract on Google Drive.
//
// Drive addresses entries by id, and names are not unique within a folder.
// Paths are resolved one segment at a time with name queries. Native
// documents have no bytes of their own. They are listed under a virtual
// extension and downloaded through an export link.
package googledrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	stdpath "path"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/reconcile"
	"github.com/west1636/RDM-waterbutler/internal/resolver"
	"github.com/west1636/RDM-waterbutler/internal/transport"
	"github.com/west1636/RDM-waterbutler/internal/upload"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Name is the provider tag.
const Name = "googledrive"

// Provider is one folder tree of a Drive account.
type Provider struct {
	svc      *drive.Service
	client   *transport.Client
	token    string
	settings Settings
	cfg      Config
	rec      *reconcile.Reconciler
	resolver *resolver.Resolver
	logger   *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	transports []transport.Option
}

// WithLogger sets the provider logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTransport passes options to the HTTP client, e.g. a round tripper or metrics.
func WithTransport(opts ...transport.Option) Option {
	return func(o *options) { o.transports = append(o.transports, opts...) }
}

// New builds a provider rooted at settings.FolderID.
func New(ctx context.Context, creds Credentials, settings Settings, cfg Config, opts ...Option) (*Provider, error) {
	if settings.FolderID == "" {
		return nil, fmt.Errorf("folder id cannot be empty")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.Or(o.logger).Named(Name).With(zap.String("folder", settings.FolderID))

	topts := append([]transport.Option{
		transport.WithRetry(cfg.Retry),
		transport.WithLogger(logger),
	}, o.transports...)
	client := transport.New(Name, transport.BearerToken(creds.Token), topts...)

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultConfig().UploadURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	svc, err := NewService(ctx, client, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		svc:      svc,
		client:   client,
		token:    creds.Token,
		settings: settings,
		cfg:      cfg,
		rec: reconcile.New(reconcile.Config{
			Provider: Name,
			Formats:  reconcile.DocsFormats,
		}),
		logger: logger,
	}
	p.resolver = resolver.New(&lookup{
		svc:     svc,
		rootID:  settings.FolderID,
		formats: reconcile.DocsFormats,
		logger:  logger,
	},
		resolver.WithCompare(resolver.CompareNFC),
		resolver.WithCodec(path.Percent),
		resolver.WithLogger(logger))
	return p, nil
}

func (p *Provider) Name() string { return Name }

// FolderID returns the id of the root folder.
func (p *Provider) FolderID() string { return p.settings.FolderID }

func (p *Provider) ValidatePath(ctx context.Context, raw string) (*path.Path, error) {
	if raw == "" || raw == path.Separator {
		return p.resolver.Root(), nil
	}
	return p.resolver.Resolve(ctx, raw)
}

func (p *Provider) ValidateV1Path(ctx context.Context, raw string) (*path.Path, error) {
	if raw == "" || raw == path.Separator {
		return p.resolver.Root(), nil
	}
	return p.resolver.ResolveExisting(ctx, raw)
}

func (p *Provider) RevalidatePath(ctx context.Context, base *path.Path, name string, folder bool) (*path.Path, error) {
	return p.resolver.Revalidate(ctx, base, name, folder)
}

func (p *Provider) getFile(ctx context.Context, wb *path.Path, throws transport.ErrorFunc) (*drive.File, error) {
	id := wb.Identifier()
	p.logger.Debug("get file", zap.String("id", id), zap.String("path", wb.String()))
	f, err := p.svc.Files.Get(id).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, translateError(err, throws, wb.String())
	}
	return f, nil
}

// latestRevision fills in the version of a native document. Documents the
// caller cannot edit, and those whose revisions cannot be listed, get the
// synthesized version.
func (p *Provider) latestRevision(ctx context.Context, f *drive.File, item *reconcile.Item) {
	if !p.rec.Formats().IsConvertible(f.MimeType) {
		return
	}
	item.Unversioned = true
	if !canEdit(f) {
		return
	}
	list, err := p.svc.Revisions.List(f.Id).Fields(revisionsList).Context(ctx).Do()
	if err != nil {
		p.logger.Debug("revisions unavailable", zap.String("id", f.Id), zap.Error(err))
		return
	}
	if n := len(list.Revisions); n > 0 {
		item.Version = list.Revisions[n-1].Id
		item.Unversioned = false
	}
}

// refreshStale runs op on wb. When the leaf identifier has gone stale, op
// runs once more on the path walked again from its names.
func refreshStale[T any](ctx context.Context, p *Provider, wb *path.Path, op func(*path.Path) (T, error)) (T, error) {
	out, err := op(wb)
	if err == nil || wb.IsRoot() || !errors.IsCode(err, errors.ErrCodeNotFound) {
		return out, err
	}
	fresh, rerr := p.resolver.Refresh(ctx, wb, true)
	if rerr != nil || fresh.Identifier() == wb.Identifier() {
		return out, err
	}
	p.logger.Debug("refreshed stale identifier",
		zap.String("path", wb.String()),
		zap.String("stale", wb.Identifier()),
		zap.String("id", fresh.Identifier()))
	return op(fresh)
}

func (p *Provider) Metadata(ctx context.Context, wb *path.Path, opts provider.MetadataOptions) (metadata.Metadata, error) {
	if wb.Identifier() == "" {
		return nil, errors.Metadata("Could not retrieve file or directory "+wb.String(), http.StatusNotFound).
			WithPath(wb.String())
	}
	return refreshStale(ctx, p, wb, func(wb *path.Path) (metadata.Metadata, error) {
		return p.stat(ctx, wb, opts)
	})
}

func (p *Provider) stat(ctx context.Context, wb *path.Path, opts provider.MetadataOptions) (metadata.Metadata, error) {
	if wb.IsDir() {
		return p.metadataFolder(ctx, wb)
	}
	return p.metadataFile(ctx, wb, opts.Revision)
}

func (p *Provider) metadataFile(ctx context.Context, wb *path.Path, revision string) (*metadata.File, error) {
	if revision := reconcile.NormalizeRevision(revision); revision != "" {
		return p.metadataAtRevision(ctx, wb, revision)
	}

	f, err := p.getFile(ctx, wb, errors.Metadata)
	if err != nil {
		return nil, err
	}
	if f.MimeType == reconcile.MimeFolder {
		return nil, errors.NotFound(wb.String())
	}
	item := p.fileItem(f)
	p.latestRevision(ctx, f, &item)

	if p.cfg.HashContent && !p.rec.Formats().IsConvertible(f.MimeType) {
		sum, err := p.contentHash(ctx, wb)
		if err != nil {
			return nil, err
		}
		if item.Hashes == nil {
			item.Hashes = map[string]string{}
		}
		item.Hashes[upload.SHA512] = sum
	}
	return p.rec.File(item, wb)
}

func (p *Provider) metadataAtRevision(ctx context.Context, wb *path.Path, revision string) (*metadata.File, error) {
	id := wb.Identifier()
	p.logger.Debug("get revision", zap.String("id", id), zap.String("revision", revision))
	rev, err := p.svc.Revisions.Get(id, revision).Fields(revisionFields).Context(ctx).Do()
	if err != nil {
		return nil, translateError(err, errors.Metadata, wb.String())
	}
	return p.rec.FileAtRevision(reconcile.Item{ID: id}, p.revisionItem(rev), wb)
}

// contentHash streams the file to compute its sha512.
func (p *Provider) contentHash(ctx context.Context, wb *path.Path) (string, error) {
	resp, err := p.svc.Files.Get(wb.Identifier()).Context(ctx).Download()
	if err != nil {
		return "", translateError(err, errors.Metadata, wb.String())
	}
	defer resp.Body.Close()
	hasher, err := upload.NewHasher(resp.Body, upload.SHA512)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.Discard, hasher); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeMetadata, "failed to hash "+wb.String())
	}
	return hasher.Sum(upload.SHA512), nil
}

func (p *Provider) listChildren(ctx context.Context, parentID string, fields googleapi.Field, fn func(*drive.File) error) error {
	return p.svc.Files.List().
		Q(childrenQuery(parentID)).
		PageSize(p.cfg.PageSize).
		Fields(fields).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				if err := fn(f); err != nil {
					return err
				}
			}
			return nil
		})
}

func (p *Provider) metadataFolder(ctx context.Context, wb *path.Path) (*metadata.Folder, error) {
	var children []metadata.Metadata
	p.logger.Debug("list folder", zap.String("id", wb.Identifier()), zap.String("path", wb.String()))
	err := p.listChildren(ctx, wb.Identifier(), listFields, func(f *drive.File) error {
		md, err := p.serialize(ctx, wb, f)
		if err != nil {
			return err
		}
		children = append(children, md)
		return nil
	})
	if err != nil {
		return nil, translateError(err, errors.Metadata, wb.String())
	}

	folder := p.rec.Folder(reconcile.Item{ID: wb.Identifier()}, wb)
	return folder.WithChildren(children), nil
}

// serialize builds the metadata of child f listed under parent.
func (p *Provider) serialize(ctx context.Context, parent *path.Path, f *drive.File) (metadata.Metadata, error) {
	item := p.fileItem(f)
	if item.Folder {
		return p.rec.Folder(item, parent.Child(f.Name, f.Id, true)), nil
	}
	p.latestRevision(ctx, f, &item)
	return p.rec.File(item, parent.Child(f.Name, f.Id, false))
}

func (p *Provider) Download(ctx context.Context, wb *path.Path, opts provider.DownloadOptions) (*provider.Stream, error) {
	if !wb.IsFile() {
		return nil, errors.Download("No file specified for download", 400)
	}
	if wb.Identifier() == "" {
		return nil, errors.NotFound(wb.String())
	}
	return refreshStale(ctx, p, wb, func(wb *path.Path) (*provider.Stream, error) {
		return p.download(ctx, wb, opts)
	})
}

func (p *Provider) download(ctx context.Context, wb *path.Path, opts provider.DownloadOptions) (*provider.Stream, error) {
	revision := reconcile.NormalizeRevision(opts.Revision)

	var (
		mime        string
		exportLinks map[string]string
		name        string
	)
	if revision == "" {
		f, err := p.getFile(ctx, wb, errors.Download)
		if err != nil {
			return nil, err
		}
		mime, exportLinks, name = f.MimeType, f.ExportLinks, f.Name
	} else {
		rev, err := p.svc.Revisions.Get(wb.Identifier(), revision).Fields(revisionFields).Context(ctx).Do()
		if err != nil {
			return nil, translateError(err, errors.Download, wb.String())
		}
		mime, exportLinks, name = rev.MimeType, rev.ExportLinks, strings.TrimSuffix(wb.Name(), stdpath.Ext(wb.Name()))
	}

	if format, ok := p.rec.Formats().Lookup(mime); ok {
		return p.export(ctx, wb, format, exportLinks, strings.TrimSuffix(name, format.Ext))
	}

	var (
		resp *http.Response
		err  error
	)
	if revision == "" {
		call := p.svc.Files.Get(wb.Identifier()).Context(ctx)
		if opts.Range != nil {
			call.Header().Set("Range", opts.Range.Header())
		}
		resp, err = call.Download()
	} else {
		call := p.svc.Revisions.Get(wb.Identifier(), revision).Context(ctx)
		if opts.Range != nil {
			call.Header().Set("Range", opts.Range.Header())
		}
		resp, err = call.Download()
	}
	if err != nil {
		return nil, translateError(err, errors.Download, wb.String())
	}

	s := provider.NewStream(resp.Body, resp.ContentLength)
	s.ContentType = resp.Header.Get("Content-Type")
	s.Partial = resp.StatusCode == http.StatusPartialContent
	return s, nil
}

// export downloads a native document converted to its export format.
func (p *Provider) export(ctx context.Context, wb *path.Path, format reconcile.Format, links map[string]string, base string) (*provider.Stream, error) {
	var available []string
	for m := range links {
		available = append(available, m)
	}
	chosen := p.rec.Formats().Export(format.MimeType, available)
	link, ok := links[chosen.ExportMime]
	if !ok {
		return nil, errors.Download("no export link for "+wb.String(), http.StatusBadRequest)
	}

	p.logger.Debug("export document", zap.String("id", wb.Identifier()), zap.String("mime", chosen.ExportMime))
	resp, err := p.client.Do(ctx, transport.Request{
		URL:     link,
		Expects: []int{http.StatusOK},
		Throws:  errors.Download,
	})
	if err != nil {
		return nil, err
	}

	size := int64(-1)
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		size = n
	}
	s := provider.NewStream(resp.Body, size)
	s.Name = base + chosen.ExportExt
	s.ContentType = chosen.ExportMime
	return s, nil
}

func (p *Provider) Upload(ctx context.Context, s *provider.Stream, wb *path.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	wb, exists, err := provider.HandleNameConflict(ctx, p, wb, opts.Conflict)
	if err != nil {
		return nil, false, err
	}
	parent := wb.Parent()
	if parent == nil || parent.Identifier() == "" {
		return nil, false, errors.NotFound(wb.String())
	}

	hasher, err := upload.NewHasher(s, upload.MD5, upload.SHA1, upload.SHA256, upload.SHA512)
	if err != nil {
		return nil, false, err
	}
	proto := &resumable{
		p:        p,
		id:       wb.Identifier(),
		parentID: parent.Identifier(),
		name:     wb.Name(),
		size:     s.Size,
		mime:     s.ContentType,
	}
	session := upload.NewSession[drive.File](proto, upload.Config{
		ChunkSize:       p.cfg.chunkSize(),
		MaxAbortRetries: p.cfg.MaxAbortRetries,
		Retry:           p.cfg.Retry,
		Logger:          p.logger,
	})
	f, err := session.Run(ctx, hasher, s.Size)
	if err != nil {
		return nil, false, err
	}
	if err := hasher.Verify(upload.MD5, f.Md5Checksum); err != nil {
		return nil, false, err
	}

	item := p.fileItem(&f)
	item.Hashes = hasher.Sums()
	md, err := p.rec.File(item, wb.WithID(f.Id))
	if err != nil {
		return nil, false, err
	}
	return md, !exists, nil
}

func (p *Provider) Delete(ctx context.Context, wb *path.Path, opts provider.DeleteOptions) error {
	if err := provider.RequireRootConfirm(wb, opts); err != nil {
		return err
	}
	if wb.IsRoot() {
		return p.deleteContents(ctx, wb)
	}
	if wb.Identifier() == "" {
		return errors.NotFound(wb.String())
	}
	return p.deleteID(ctx, wb.Identifier(), wb.String())
}

func (p *Provider) deleteID(ctx context.Context, id, display string) error {
	p.logger.Debug("delete file", zap.String("id", id), zap.String("path", display))
	err := p.svc.Files.Delete(id).Context(ctx).Do()
	return translateError(err, errors.Delete, display)
}

// deleteContents removes every child of the root folder and keeps the folder.
func (p *Provider) deleteContents(ctx context.Context, wb *path.Path) error {
	var ids []string
	err := p.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents", wb.Identifier())).
		Fields(idFields).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				ids = append(ids, f.Id)
			}
			return nil
		})
	if err != nil {
		return translateError(err, errors.Delete, wb.String())
	}
	p.logger.Debug("deleting root contents", zap.Int("children", len(ids)))
	return provider.DeleteKeys(ctx, ids, p.cfg.DeleteConcurrency, func(ctx context.Context, id string) error {
		return p.deleteID(ctx, id, wb.String())
	})
}

func (p *Provider) CreateFolder(ctx context.Context, wb *path.Path, opts provider.CreateFolderOptions) (*metadata.Folder, error) {
	if !wb.IsDir() {
		return nil, errors.CreateFolder("Path must be a directory", 400)
	}
	if !opts.SkipPrecheck && wb.Identifier() != "" {
		return nil, errors.FolderNamingConflict(wb.Name())
	}
	parent := wb.Parent()
	if parent == nil || parent.Identifier() == "" {
		return nil, errors.NotFound(wb.String())
	}

	p.logger.Debug("create folder", zap.String("parent", parent.Identifier()), zap.String("name", wb.Name()))
	f, err := p.svc.Files.Create(&drive.File{
		Name:     wb.Name(),
		MimeType: reconcile.MimeFolder,
		Parents:  []string{parent.Identifier()},
	}).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, translateError(err, errors.CreateFolder, wb.String())
	}
	return p.rec.Folder(p.fileItem(f), wb.WithID(f.Id)), nil
}

func (p *Provider) Revisions(ctx context.Context, wb *path.Path) ([]*metadata.Revision, error) {
	id := wb.Identifier()
	if id == "" || !wb.IsFile() {
		return nil, errors.NotFound(wb.String())
	}

	list, err := p.svc.Revisions.List(id).Fields(revisionsList).Context(ctx).Do()
	if err != nil && isNotFound(err) {
		return nil, translateError(err, errors.Metadata, wb.String())
	}
	if err == nil && len(list.Revisions) > 0 {
		items := make([]reconcile.Item, len(list.Revisions))
		for i, r := range list.Revisions {
			items[i] = p.revisionItem(r)
		}
		return p.rec.Revisions(reconcile.Item{ID: id}, items), nil
	}

	// No revision access: the file itself is the only revision.
	p.logger.Debug("synthesizing revision", zap.String("id", id), zap.Error(err))
	f, ferr := p.getFile(ctx, wb, errors.Metadata)
	if ferr != nil {
		return nil, ferr
	}
	item := p.fileItem(f)
	item.Unversioned = true
	return p.rec.Revisions(item, nil), nil
}

func (p *Provider) intraTarget(dest provider.Provider, src, dst *path.Path, throws transport.ErrorFunc) (*Provider, string, error) {
	target, ok := dest.(*Provider)
	if !ok {
		return nil, "", throws("destination is not a googledrive provider", 400)
	}
	if src.Identifier() == "" {
		return nil, "", errors.NotFound(src.String())
	}
	parent := dst.Parent()
	if parent == nil || parent.Identifier() == "" {
		return nil, "", errors.NotFound(dst.String())
	}
	return target, parent.Identifier(), nil
}

// replaceDest removes an existing destination and reports whether one existed.
func (p *Provider) replaceDest(ctx context.Context, dst *path.Path) (bool, error) {
	if dst.Identifier() == "" {
		return false, nil
	}
	if err := p.deleteID(ctx, dst.Identifier(), dst.String()); err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		return false, err
	}
	return true, nil
}

// driveName strips a virtual extension the destination name carries.
func (p *Provider) driveName(dst *path.Path, src *path.Path) string {
	name := dst.Name()
	ext := stdpath.Ext(name)
	if _, ok := p.rec.Formats().ByExt(ext); ok && strings.EqualFold(ext, stdpath.Ext(src.Name())) {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func (p *Provider) IntraCopy(ctx context.Context, dest provider.Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	target, parentID, err := p.intraTarget(dest, src, dst, errors.IntraCopy)
	if err != nil {
		return nil, false, err
	}
	existed, err := target.replaceDest(ctx, dst)
	if err != nil {
		return nil, false, err
	}

	p.logger.Debug("copy file", zap.String("id", src.Identifier()), zap.String("to", dst.String()))
	f, err := p.svc.Files.Copy(src.Identifier(), &drive.File{
		Name:    p.driveName(dst, src),
		Parents: []string{parentID},
	}).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, false, translateError(err, errors.IntraCopy, src.String())
	}

	md, err := target.intraResult(ctx, dst, f)
	if err != nil {
		return nil, false, err
	}
	return md, !existed, nil
}

func (p *Provider) IntraMove(ctx context.Context, dest provider.Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	target, parentID, err := p.intraTarget(dest, src, dst, errors.IntraMove)
	if err != nil {
		return nil, false, err
	}
	srcParent := src.Parent()
	if srcParent == nil {
		return nil, false, errors.IntraMove("cannot move the root folder", 400)
	}
	existed, err := target.replaceDest(ctx, dst)
	if err != nil {
		return nil, false, err
	}

	p.logger.Debug("move file", zap.String("id", src.Identifier()), zap.String("to", dst.String()))
	f, err := p.svc.Files.Update(src.Identifier(), &drive.File{Name: p.driveName(dst, src)}).
		AddParents(parentID).
		RemoveParents(srcParent.Identifier()).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, false, translateError(err, errors.IntraMove, src.String())
	}

	md, err := target.intraResult(ctx, dst, f)
	if err != nil {
		return nil, false, err
	}
	return md, !existed, nil
}

// intraResult builds the metadata of a copied or moved entry. Folders come
// back with their children.
func (p *Provider) intraResult(ctx context.Context, dst *path.Path, f *drive.File) (metadata.Metadata, error) {
	wb := dst.WithID(f.Id)
	if f.MimeType == reconcile.MimeFolder {
		folder, err := p.metadataFolder(ctx, wb)
		if err != nil {
			return nil, err
		}
		return p.rec.Folder(p.fileItem(f), wb).WithChildren(folder.Children()), nil
	}
	item := p.fileItem(f)
	p.latestRevision(ctx, f, &item)
	return p.rec.File(item, wb)
}

func (p *Provider) CanDuplicateNames() bool { return true }

// CanIntraCopy holds between providers on the same account. Drive copies
// files only; folders take the generic fan-out.
func (p *Provider) CanIntraCopy(dest provider.Provider, wb *path.Path) bool {
	other, ok := dest.(*Provider)
	return ok && wb.IsFile() && other.token == p.token
}

func (p *Provider) CanIntraMove(dest provider.Provider, wb *path.Path) bool {
	other, ok := dest.(*Provider)
	return ok && other.token == p.token
}

// SharesStorageRoot is true for every Drive provider: ids are global.
func (p *Provider) SharesStorageRoot(other provider.Provider) bool {
	_, ok := other.(*Provider)
	return ok
}

func (p *Provider) PathFromMetadata(parent *path.Path, md metadata.Metadata) *path.Path {
	return provider.ChildPath(parent, md)
}
