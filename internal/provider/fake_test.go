package provider

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// memProvider keeps a tree in memory keyed by materialized path.
type memProvider struct {
	mu      sync.Mutex
	root    string
	files   map[string][]byte
	folders map[string]bool

	intra    bool
	failMeta error
	// exportName is reported as the download stream name when set.
	exportName string
	// uploadDelay widens the window in which concurrent uploads overlap.
	uploadDelay time.Duration

	inFlight    int32
	maxInFlight int32
	intraCalls  int32
	deleted     []string
}

func newMem(root string) *memProvider {
	return &memProvider{
		root:    root,
		files:   map[string][]byte{},
		folders: map[string]bool{"/": true},
	}
}

func (m *memProvider) put(p string, body string) *memProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = []byte(body)
	for dir := parentDir(p); dir != "/"; dir = parentDir(strings.TrimSuffix(dir, "/")) {
		m.folders[dir] = true
	}
	return m
}

func (m *memProvider) mkdir(p string) *memProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[p] = true
	return m
}

func (m *memProvider) file(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[p]
	return string(b), ok
}

func (m *memProvider) hasFolder(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.folders[p]
}

func parentDir(p string) string {
	i := strings.LastIndex(strings.TrimSuffix(p, "/"), "/")
	return p[:i+1]
}

func (m *memProvider) Name() string { return "mem" }

func (m *memProvider) ValidatePath(ctx context.Context, raw string) (*path.Path, error) {
	return path.Parse(raw)
}

func (m *memProvider) ValidateV1Path(ctx context.Context, raw string) (*path.Path, error) {
	p, err := path.Parse(raw)
	if err != nil {
		return nil, err
	}
	if _, err := m.Metadata(ctx, p, MetadataOptions{}); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *memProvider) RevalidatePath(ctx context.Context, base *path.Path, name string, folder bool) (*path.Path, error) {
	return base.Child(name, "", folder), nil
}

func (m *memProvider) Metadata(ctx context.Context, p *path.Path, opts MetadataOptions) (metadata.Metadata, error) {
	if m.failMeta != nil {
		return nil, m.failMeta
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.String()
	if p.IsFile() {
		body, ok := m.files[key]
		if !ok {
			return nil, errors.NotFound(key)
		}
		return m.fileMeta(p, int64(len(body))), nil
	}
	if !m.folders[key] {
		return nil, errors.NotFound(key)
	}

	var children []metadata.Metadata
	var names []string
	for f := range m.folders {
		if f != key && parentDir(f) == key {
			names = append(names, f)
		}
	}
	for f := range m.files {
		if parentDir(f) == key {
			names = append(names, f)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if strings.HasSuffix(n, "/") {
			child := p.Child(strings.TrimSuffix(n[len(key):], "/"), "", true)
			children = append(children, metadata.NewFolder("mem").Name(child.Name()).Path(child.RawPath(), child.String()).Build())
			continue
		}
		child := p.Child(n[len(key):], "", false)
		children = append(children, m.fileMeta(child, int64(len(m.files[n]))))
	}
	return metadata.NewFolder("mem").Name(p.Name()).Path(p.RawPath(), p.String()).Children(children).Build(), nil
}

func (m *memProvider) fileMeta(p *path.Path, size int64) *metadata.File {
	return metadata.NewFile("mem").Name(p.Name()).Path(p.RawPath(), p.String()).Size(size).Build()
}

func (m *memProvider) Download(ctx context.Context, p *path.Path, opts DownloadOptions) (*Stream, error) {
	if p.IsDir() {
		return nil, errors.Download("No file specified for download", 400)
	}
	body, ok := m.file(p.String())
	if !ok {
		return nil, errors.NotFound(p.String())
	}
	s := NewStream(strings.NewReader(body), int64(len(body)))
	s.Name = m.exportName
	return s, nil
}

func (m *memProvider) Upload(ctx context.Context, s *Stream, p *path.Path, opts UploadOptions) (*metadata.File, bool, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, n) {
			break
		}
	}
	if m.uploadDelay > 0 {
		time.Sleep(m.uploadDelay)
	}

	p, exists, err := HandleNameConflict(ctx, m, p, opts.Conflict)
	if err != nil {
		return nil, false, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, s); err != nil {
		return nil, false, errors.Upload(err.Error(), 500)
	}
	m.put(p.String(), buf.String())
	return m.fileMeta(p, int64(buf.Len())), !exists, nil
}

func (m *memProvider) Delete(ctx context.Context, p *path.Path, opts DeleteOptions) error {
	if err := RequireRootConfirm(p, opts); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.String()
	if p.IsFile() {
		if _, ok := m.files[key]; !ok {
			return errors.NotFound(key)
		}
		delete(m.files, key)
		m.deleted = append(m.deleted, key)
		return nil
	}
	if !m.folders[key] {
		return errors.NotFound(key)
	}
	for f := range m.files {
		if strings.HasPrefix(f, key) {
			delete(m.files, f)
		}
	}
	for f := range m.folders {
		if strings.HasPrefix(f, key) && f != "/" {
			delete(m.folders, f)
		}
	}
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memProvider) CreateFolder(ctx context.Context, p *path.Path, opts CreateFolderOptions) (*metadata.Folder, error) {
	if !opts.SkipPrecheck && m.hasFolder(p.String()) {
		return nil, errors.FolderNamingConflict(p.Name())
	}
	m.mkdir(p.String())
	return metadata.NewFolder("mem").Name(p.Name()).Path(p.RawPath(), p.String()).Build(), nil
}

func (m *memProvider) Revisions(ctx context.Context, p *path.Path) ([]*metadata.Revision, error) {
	return []*metadata.Revision{metadata.NewRevision("mem").Version("1").Build()}, nil
}

func (m *memProvider) IntraCopy(ctx context.Context, dest Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	atomic.AddInt32(&m.intraCalls, 1)
	body, ok := m.file(src.String())
	if !ok {
		return nil, false, errors.NotFound(src.String())
	}
	target := dest.(*memProvider)
	_, existed := target.file(dst.String())
	target.put(dst.String(), body)
	return target.fileMeta(dst, int64(len(body))), !existed, nil
}

func (m *memProvider) IntraMove(ctx context.Context, dest Provider, src, dst *path.Path) (metadata.Metadata, bool, error) {
	md, created, err := m.IntraCopy(ctx, dest, src, dst)
	if err != nil {
		return nil, false, err
	}
	return md, created, m.Delete(ctx, src, DeleteOptions{})
}

func (m *memProvider) CanDuplicateNames() bool { return false }

func (m *memProvider) CanIntraCopy(dest Provider, p *path.Path) bool {
	other, ok := dest.(*memProvider)
	return m.intra && ok && other.root == m.root && p.IsFile()
}

func (m *memProvider) CanIntraMove(dest Provider, p *path.Path) bool {
	return m.CanIntraCopy(dest, p)
}

func (m *memProvider) SharesStorageRoot(other Provider) bool {
	o, ok := other.(*memProvider)
	return ok && o.root == m.root
}

func (m *memProvider) PathFromMetadata(parent *path.Path, md metadata.Metadata) *path.Path {
	return ChildPath(parent, md)
}
