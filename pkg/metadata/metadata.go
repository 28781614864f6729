// Package metadata holds the canonical, immutable descriptions of files, folders and
// revisions returned by every provider.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"time"
)

// Kind discriminates the metadata variants.
type Kind string

const (
	KindFile     Kind = "file"
	KindFolder   Kind = "folder"
	KindRevision Kind = "revision"
)

// Metadata is the capability set shared by files, folders and revisions.
type Metadata interface {
	Kind() Kind
	Provider() string
	Name() string
	// Path is the backend-exact form of the owning path.
	Path() string
	// MaterializedPath is the human-facing form of the owning path.
	MaterializedPath() string
	Extra() map[string]interface{}
	Serialized() map[string]interface{}
}

// Equal compares two metadata values by their serialized form.
func Equal(a, b Metadata) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a.Serialized(), b.Serialized())
}

type common struct {
	provider     string
	name         string
	path         string
	materialized string
	extra        map[string]interface{}
}

func (c *common) Provider() string              { return c.provider }
func (c *common) Name() string                  { return c.name }
func (c *common) Path() string                  { return c.path }
func (c *common) MaterializedPath() string      { return c.materialized }
func (c *common) Extra() map[string]interface{} { return copyMap(c.extra) }

func (c *common) setExtra(k string, v interface{}) {
	if c.extra == nil {
		c.extra = make(map[string]interface{})
	}
	c.extra[k] = v
}

// File describes a stored object.
type File struct {
	common
	id            string
	size          int64
	hasSize       bool
	contentType   string
	modified      string
	created       string
	etagSource    string
	hashes        map[string]string
	exportName    string
	exportExt     string
	isConvertible bool
}

func (f *File) Kind() Kind          { return KindFile }
func (f *File) ID() string          { return f.id }
func (f *File) ContentType() string { return f.contentType }
func (f *File) Modified() string    { return f.modified }
func (f *File) Created() string     { return f.created }

// Size returns the byte size; ok is false when the backend did not report one.
func (f *File) Size() (size int64, ok bool) { return f.size, f.hasSize }

// Hashes returns a copy of the checksum per algorithm.
func (f *File) Hashes() map[string]string {
	out := make(map[string]string, len(f.hashes))
	for k, v := range f.hashes {
		out[k] = v
	}
	return out
}

// ExportName is the download name of a convertible document, or Name otherwise.
func (f *File) ExportName() string {
	if f.exportName == "" {
		return f.name
	}
	return f.exportName
}

// ExportExt is the extension a convertible document is exported with.
func (f *File) ExportExt() string { return f.exportExt }

// IsConvertible reports a backend-native document that must be exported.
func (f *File) IsConvertible() bool { return f.isConvertible }

// ETag is a provider-scoped digest of the backend version marker.
func (f *File) ETag() string { return etag(f.provider, f.etagSource) }

func (f *File) Serialized() map[string]interface{} {
	out := map[string]interface{}{
		"kind":          string(KindFile),
		"provider":      f.provider,
		"name":          f.name,
		"path":          f.path,
		"materialized":  f.materialized,
		"etag":          f.ETag(),
		"contentType":   nullable(f.contentType),
		"modified":      nullable(f.modified),
		"modified_utc":  nullable(utc(f.modified)),
		"created_utc":   nullable(utc(f.created)),
		"exportName":    f.ExportName(),
		"isConvertible": f.isConvertible,
		"extra":         f.Extra(),
	}
	if f.hasSize {
		out["size"] = f.size
		out["sizeInt"] = f.size
	} else {
		out["size"] = nil
		out["sizeInt"] = nil
	}
	return out
}

func (f *File) MarshalJSON() ([]byte, error) { return json.Marshal(f.Serialized()) }

// Folder describes a directory. Children are empty until the folder is listed.
type Folder struct {
	common
	id         string
	etagSource string
	children   []Metadata
	listed     bool
}

func (f *Folder) Kind() Kind   { return KindFolder }
func (f *Folder) ID() string   { return f.id }
func (f *Folder) Listed() bool { return f.listed }

// Children returns a copy of the listed entries.
func (f *Folder) Children() []Metadata { return append([]Metadata(nil), f.children...) }

// WithChildren returns a listed copy of the folder.
func (f *Folder) WithChildren(children []Metadata) *Folder {
	c := *f
	c.extra = copyMap(f.extra)
	c.children = append([]Metadata(nil), children...)
	c.listed = true
	return &c
}

func (f *Folder) ETag() string { return etag(f.provider, f.etagSource) }

func (f *Folder) Serialized() map[string]interface{} {
	out := map[string]interface{}{
		"kind":         string(KindFolder),
		"provider":     f.provider,
		"name":         f.name,
		"path":         f.path,
		"materialized": f.materialized,
		"etag":         f.ETag(),
		"extra":        f.Extra(),
	}
	if f.listed {
		children := make([]interface{}, 0, len(f.children))
		for _, child := range f.children {
			children = append(children, child.Serialized())
		}
		out["children"] = children
	}
	return out
}

func (f *Folder) MarshalJSON() ([]byte, error) { return json.Marshal(f.Serialized()) }

// Revision describes one version of a file.
type Revision struct {
	common
	version           string
	versionIdentifier string
	modified          string
}

func (r *Revision) Kind() Kind                { return KindRevision }
func (r *Revision) Version() string           { return r.version }
func (r *Revision) VersionIdentifier() string { return r.versionIdentifier }
func (r *Revision) Modified() string          { return r.modified }

func (r *Revision) Serialized() map[string]interface{} {
	return map[string]interface{}{
		"kind":              string(KindRevision),
		"provider":          r.provider,
		"version":           r.version,
		"versionIdentifier": r.versionIdentifier,
		"modified":          nullable(r.modified),
		"modified_utc":      nullable(utc(r.modified)),
		"extra":             r.Extra(),
	}
}

func (r *Revision) MarshalJSON() ([]byte, error) { return json.Marshal(r.Serialized()) }

func etag(provider, source string) string {
	sum := sha256.Sum256([]byte(provider + "::" + source))
	return hex.EncodeToString(sum[:])
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// utc normalizes a backend timestamp; unparseable values yield "".
func utc(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05+00:00")
		}
	}
	return ""
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case map[string]string:
		m := make(map[string]interface{}, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i := range t {
			s[i] = copyValue(t[i])
		}
		return s
	default:
		return v
	}
}
