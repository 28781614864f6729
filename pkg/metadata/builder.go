package metadata

import "time"

// FileBuilder assembles a File. Build returns a value that no later builder call
// can change.
type FileBuilder struct {
	f File
}

// NewFile starts a File for provider.
func NewFile(provider string) *FileBuilder {
	return &FileBuilder{f: File{common: common{provider: provider}}}
}

func (b *FileBuilder) ID(id string) *FileBuilder {
	b.f.id = id
	return b
}

func (b *FileBuilder) Name(name string) *FileBuilder {
	b.f.name = name
	return b
}

// Path sets the backend-exact and materialized forms of the owning path.
func (b *FileBuilder) Path(raw, materialized string) *FileBuilder {
	b.f.path = raw
	b.f.materialized = materialized
	return b
}

func (b *FileBuilder) Size(size int64) *FileBuilder {
	b.f.size = size
	b.f.hasSize = true
	return b
}

func (b *FileBuilder) ContentType(contentType string) *FileBuilder {
	b.f.contentType = contentType
	return b
}

// Modified keeps the backend timestamp verbatim.
func (b *FileBuilder) Modified(modified string) *FileBuilder {
	b.f.modified = modified
	return b
}

// ModifiedAt formats t as RFC 3339.
func (b *FileBuilder) ModifiedAt(t time.Time) *FileBuilder {
	if !t.IsZero() {
		b.f.modified = t.UTC().Format(time.RFC3339)
	}
	return b
}

func (b *FileBuilder) Created(created string) *FileBuilder {
	b.f.created = created
	return b
}

// ETagSource sets the backend version marker the etag digest is derived from.
func (b *FileBuilder) ETagSource(source string) *FileBuilder {
	b.f.etagSource = source
	return b
}

func (b *FileBuilder) Hash(algorithm, value string) *FileBuilder {
	if value == "" {
		return b
	}
	if b.f.hashes == nil {
		b.f.hashes = make(map[string]string)
	}
	b.f.hashes[algorithm] = value
	return b
}

func (b *FileBuilder) Extra(key string, value interface{}) *FileBuilder {
	b.f.setExtra(key, copyValue(value))
	return b
}

// Export marks a convertible document with its download name and extension.
func (b *FileBuilder) Export(name, ext string) *FileBuilder {
	b.f.exportName = name
	b.f.exportExt = ext
	b.f.isConvertible = true
	return b
}

func (b *FileBuilder) Build() *File {
	f := b.f
	f.extra = copyMap(b.f.extra)
	f.hashes = nil
	if len(b.f.hashes) > 0 {
		f.hashes = make(map[string]string, len(b.f.hashes))
		for k, v := range b.f.hashes {
			f.hashes[k] = v
		}
	}
	if f.etagSource == "" {
		f.etagSource = f.path
	}
	return &f
}

// FolderBuilder assembles a Folder.
type FolderBuilder struct {
	f Folder
}

func NewFolder(provider string) *FolderBuilder {
	return &FolderBuilder{f: Folder{common: common{provider: provider}}}
}

func (b *FolderBuilder) ID(id string) *FolderBuilder {
	b.f.id = id
	return b
}

func (b *FolderBuilder) Name(name string) *FolderBuilder {
	b.f.name = name
	return b
}

func (b *FolderBuilder) Path(raw, materialized string) *FolderBuilder {
	b.f.path = raw
	b.f.materialized = materialized
	return b
}

func (b *FolderBuilder) ETagSource(source string) *FolderBuilder {
	b.f.etagSource = source
	return b
}

func (b *FolderBuilder) Extra(key string, value interface{}) *FolderBuilder {
	b.f.setExtra(key, copyValue(value))
	return b
}

// Children marks the folder as listed.
func (b *FolderBuilder) Children(children []Metadata) *FolderBuilder {
	b.f.children = append([]Metadata(nil), children...)
	b.f.listed = true
	return b
}

func (b *FolderBuilder) Build() *Folder {
	f := b.f
	f.extra = copyMap(b.f.extra)
	f.children = append([]Metadata(nil), b.f.children...)
	if f.etagSource == "" {
		f.etagSource = f.path
	}
	return &f
}

// RevisionBuilder assembles a Revision.
type RevisionBuilder struct {
	r Revision
}

func NewRevision(provider string) *RevisionBuilder {
	return &RevisionBuilder{r: Revision{common: common{provider: provider}, versionIdentifier: "revision"}}
}

func (b *RevisionBuilder) Version(version string) *RevisionBuilder {
	b.r.version = version
	if b.r.name == "" {
		b.r.name = version
	}
	return b
}

// VersionIdentifier names the query parameter that selects this revision.
func (b *RevisionBuilder) VersionIdentifier(identifier string) *RevisionBuilder {
	b.r.versionIdentifier = identifier
	return b
}

func (b *RevisionBuilder) Modified(modified string) *RevisionBuilder {
	b.r.modified = modified
	return b
}

func (b *RevisionBuilder) ModifiedAt(t time.Time) *RevisionBuilder {
	if !t.IsZero() {
		b.r.modified = t.UTC().Format(time.RFC3339)
	}
	return b
}

func (b *RevisionBuilder) Path(raw, materialized string) *RevisionBuilder {
	b.r.path = raw
	b.r.materialized = materialized
	return b
}

func (b *RevisionBuilder) Extra(key string, value interface{}) *RevisionBuilder {
	b.r.setExtra(key, copyValue(value))
	return b
}

func (b *RevisionBuilder) Build() *Revision {
	r := b.r
	r.extra = copyMap(b.r.extra)
	return &r
}
