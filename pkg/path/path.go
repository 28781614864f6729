// Package path implements the immutable provider path model: an ordered list of
// segments rooted at a backend root, each optionally carrying a backend identifier.
package path

import (
	"fmt"
	"net/url"
	stdpath "path"
	"regexp"
	"strconv"
	"strings"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// Separator joins path segments.
const Separator = "/"

// Codec converts between the raw segment form a client sends and the decoded
// name a backend stores.
type Codec struct {
	Name   string
	Decode func(raw string) (string, error)
	Encode func(name string) string
}

// Identity keeps raw and decoded names identical.
var Identity = Codec{
	Name:   "identity",
	Decode: func(raw string) (string, error) { return raw, nil },
	Encode: func(name string) string { return name },
}

// Percent decodes percent-escapes and encodes every reserved byte, slashes included,
// so a decoded name may itself contain a separator.
var Percent = Codec{
	Name:   "percent",
	Decode: url.PathUnescape,
	Encode: func(name string) string {
		return strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	},
}

// Part is a single path segment.
type Part struct {
	raw   string
	value string
	id    string
}

// Raw returns the segment as sent by the client.
func (p Part) Raw() string { return p.raw }

// Value returns the decoded segment name.
func (p Part) Value() string { return p.value }

// ID returns the backend identifier, or "" when unknown.
func (p Part) ID() string { return p.id }

// Path is immutable; every derivation returns a new Path.
type Path struct {
	parts   []Part
	folder  bool
	prepend string
	codec   Codec
}

type options struct {
	ids     []string
	prepend string
	codec   Codec
	folder  *bool
}

// Option configures Parse.
type Option func(*options)

// WithIDs attaches identifiers from the root forward. The first id belongs to the root.
func WithIDs(ids ...string) Option {
	return func(o *options) { o.ids = ids }
}

// WithPrepend sets a backend prefix that is part of FullPath but never of the
// materialized path.
func WithPrepend(prefix string) Option {
	return func(o *options) { o.prepend = strings.Trim(prefix, Separator) }
}

// WithCodec sets the segment codec.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// AsFolder overrides the trailing-separator folder rule.
func AsFolder(folder bool) Option {
	return func(o *options) { o.folder = &folder }
}

// Parse builds a Path from a client string. The string must be absolute; a
// trailing separator marks a folder.
func Parse(raw string, opts ...Option) (*Path, error) {
	o := options{codec: Identity}
	for _, opt := range opts {
		opt(&o)
	}

	if !strings.HasPrefix(raw, Separator) {
		return nil, errors.InvalidPath(raw, "path must be absolute")
	}

	folder := strings.HasSuffix(raw, Separator)
	if o.folder != nil {
		folder = *o.folder
	}

	trimmed := strings.Trim(raw, Separator)
	var segments []string
	if trimmed != "" {
		segments = strings.Split(trimmed, Separator)
	}
	if len(segments) == 0 {
		folder = true
	}

	if len(o.ids) > len(segments)+1 {
		return nil, errors.InvalidPath(raw, fmt.Sprintf("%d identifiers for %d segments", len(o.ids), len(segments)+1))
	}

	parts := make([]Part, 0, len(segments)+1)
	parts = append(parts, Part{})
	for _, seg := range segments {
		if seg == "" {
			return nil, errors.InvalidPath(raw, "empty segment")
		}
		if seg == "." || seg == ".." {
			return nil, errors.InvalidPath(raw, "relative segment")
		}
		value, err := o.codec.Decode(seg)
		if err != nil {
			return nil, errors.InvalidPath(raw, err.Error())
		}
		parts = append(parts, Part{raw: o.codec.Encode(value), value: value})
	}
	for i, id := range o.ids {
		parts[i].id = id
	}

	return &Path{parts: parts, folder: folder, prepend: o.prepend, codec: o.codec}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string, opts ...Option) *Path {
	p, err := Parse(raw, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Root returns the root path of a backend.
func Root(id string, opts ...Option) *Path {
	return MustParse(Separator, append(opts, WithIDs(id))...)
}

func (p *Path) clone() *Path {
	c := *p
	c.parts = append([]Part(nil), p.parts...)
	return &c
}

// Parts returns a copy of the segments, root first.
func (p *Path) Parts() []Part {
	return append([]Part(nil), p.parts...)
}

// IDs returns the identifier chain, root first. Unknown ids are "".
func (p *Path) IDs() []string {
	ids := make([]string, len(p.parts))
	for i, part := range p.parts {
		ids[i] = part.id
	}
	return ids
}

// Codec returns the segment codec.
func (p *Path) Codec() Codec { return p.codec }

// Prepend returns the backend prefix.
func (p *Path) Prepend() string { return p.prepend }

// Name is the decoded name of the last segment; "" for the root.
func (p *Path) Name() string { return p.parts[len(p.parts)-1].value }

// RawName is the raw form of the last segment.
func (p *Path) RawName() string { return p.parts[len(p.parts)-1].raw }

// Identifier is the backend id of the last segment.
func (p *Path) Identifier() string { return p.parts[len(p.parts)-1].id }

// Ext is the extension of a file name, including the dot.
func (p *Path) Ext() string {
	if p.folder {
		return ""
	}
	return stdpath.Ext(p.Name())
}

func (p *Path) IsRoot() bool { return len(p.parts) == 1 }
func (p *Path) IsDir() bool  { return p.folder }
func (p *Path) IsFile() bool { return !p.folder }

// Kind is "folder" or "file".
func (p *Path) Kind() string {
	if p.folder {
		return "folder"
	}
	return "file"
}

// Parent returns the containing folder, or nil for the root.
func (p *Path) Parent() *Path {
	if p.IsRoot() {
		return nil
	}
	c := p.clone()
	c.parts = c.parts[:len(c.parts)-1]
	c.folder = true
	return c
}

// Child appends a decoded backend name.
func (p *Path) Child(name, id string, folder bool) *Path {
	c := p.clone()
	c.parts = append(c.parts, Part{raw: p.codec.Encode(name), value: name, id: id})
	c.folder = folder
	return c
}

// WithID returns a copy whose last segment carries id.
func (p *Path) WithID(id string) *Path {
	c := p.clone()
	c.parts[len(c.parts)-1].id = id
	return c
}

// WithIDChain returns a copy carrying ids from the root forward. Segments
// beyond len(ids) keep their current identifier.
func (p *Path) WithIDChain(ids ...string) *Path {
	c := p.clone()
	for i := 0; i < len(ids) && i < len(c.parts); i++ {
		c.parts[i].id = ids[i]
	}
	return c
}

// Depth is the number of segments below the root.
func (p *Path) Depth() int { return len(p.parts) - 1 }

// Prefix truncates p to depth segments below the root. A truncated path is a folder.
func (p *Path) Prefix(depth int) *Path {
	if depth >= p.Depth() {
		return p
	}
	if depth < 0 {
		depth = 0
	}
	c := p.clone()
	c.parts = c.parts[:depth+1]
	c.folder = true
	return c
}

// Rename replaces the last segment name. The identifier is dropped because it
// belonged to the old name.
func (p *Path) Rename(name string) *Path {
	if p.IsRoot() {
		return p
	}
	c := p.clone()
	c.parts[len(c.parts)-1] = Part{raw: p.codec.Encode(name), value: name}
	return c
}

var numbered = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// IncrementName turns "name.ext" into "name (1).ext", and "name (1).ext" into
// "name (2).ext". Folders never split an extension.
func (p *Path) IncrementName() *Path {
	return p.Rename(incrementName(p.Name(), p.folder))
}

func incrementName(name string, folder bool) string {
	base, ext := name, ""
	if !folder {
		ext = stdpath.Ext(name)
		base = strings.TrimSuffix(name, ext)
		if base == "" {
			base, ext = name, ""
		}
	}

	n := 1
	if m := numbered.FindStringSubmatch(base); m != nil {
		if current, err := strconv.Atoi(m[2]); err == nil {
			base = m[1]
			n = current + 1
		}
	}
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

func (p *Path) join(raw bool) string {
	if p.IsRoot() {
		return Separator
	}
	names := make([]string, 0, len(p.parts)-1)
	for _, part := range p.parts[1:] {
		if raw {
			names = append(names, part.raw)
		} else {
			names = append(names, part.value)
		}
	}
	s := Separator + strings.Join(names, Separator)
	if p.folder {
		s += Separator
	}
	return s
}

// String is the canonical, human-facing form built from decoded names.
func (p *Path) String() string { return p.join(false) }

// MaterializedPath is an alias of String.
func (p *Path) MaterializedPath() string { return p.join(false) }

// RawPath is the backend-exact form built from raw segments.
func (p *Path) RawPath() string { return p.join(true) }

// FullPath includes the backend prefix.
func (p *Path) FullPath() string {
	if p.prepend == "" {
		return p.String()
	}
	return Separator + p.prepend + p.String()
}

// Equal reports matching canonical forms and identifier chains.
func (p *Path) Equal(o *Path) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.String() != o.String() || p.prepend != o.prepend || len(p.parts) != len(o.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i].id != o.parts[i].id {
			return false
		}
	}
	return true
}
