// Package resolver turns client path strings into identified paths by walking
// a backend one segment at a time.
//
// Each step asks the backend for children of the current identifier with a
// given name and type. Intermediate misses stop the walk with NotFound. More
// than one match at any level is AMBIGUOUS_PATH; the resolver never picks the
// first candidate on its own.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Query scopes one lookup to children of a parent.
type Query struct {
	// Name is the decoded segment name as the client sent it.
	Name string
	// Folder selects folders when true and non-folders otherwise.
	Folder bool
	// Leaf is set for the last segment of the walk.
	Leaf bool
}

// Candidate is one backend entry returned by a lookup.
type Candidate struct {
	ID string
	// Name is the display name, including any virtual extension. Empty means
	// the backend did not report it and Describe is consulted.
	Name     string
	Folder   bool
	MimeType string
}

// Backend answers the per-segment lookups of a walk.
type Backend interface {
	RootID() string
	FindChildren(ctx context.Context, parentID string, q Query) ([]Candidate, error)
}

// Describer is implemented by backends whose lookups return bare ids.
type Describer interface {
	Describe(ctx context.Context, id string) (Candidate, error)
}

// CompareFunc reports whether a backend name matches a requested name.
type CompareFunc func(backend, requested string) bool

// CompareExact compares bytes.
func CompareExact(backend, requested string) bool { return backend == requested }

// CompareFold ignores case.
func CompareFold(backend, requested string) bool { return strings.EqualFold(backend, requested) }

// CompareNFC compares NFC normalized forms.
func CompareNFC(backend, requested string) bool {
	return norm.NFC.String(backend) == norm.NFC.String(requested)
}

// CompareNFCFold compares NFC normalized forms ignoring case.
func CompareNFCFold(backend, requested string) bool {
	return strings.EqualFold(norm.NFC.String(backend), norm.NFC.String(requested))
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCompare sets the name comparison. The default is CompareExact.
func WithCompare(compare CompareFunc) Option {
	return func(r *Resolver) { r.compare = compare }
}

// WithCodec sets the segment codec used to parse client strings.
func WithCodec(codec path.Codec) Option {
	return func(r *Resolver) { r.codec = codec }
}

// WithPrepend sets the backend prefix carried by resolved paths.
func WithPrepend(prefix string) Option {
	return func(r *Resolver) { r.prepend = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver walks paths against one backend. It holds no per-request state and
// is safe for concurrent use.
type Resolver struct {
	backend Backend
	compare CompareFunc
	codec   path.Codec
	prepend string
	logger  *zap.Logger
}

// New creates a Resolver over backend.
func New(backend Backend, opts ...Option) *Resolver {
	r := &Resolver{
		backend: backend,
		compare: CompareExact,
		codec:   path.Identity,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Or(r.logger).Named("resolver")
	return r
}

// Root returns the identified root path. It issues no query.
func (r *Resolver) Root() *path.Path {
	return path.Root(r.backend.RootID(), path.WithCodec(r.codec), path.WithPrepend(r.prepend))
}

// Parse builds an unidentified path rooted at the backend root.
func (r *Resolver) Parse(raw string) (*path.Path, error) {
	return path.Parse(raw,
		path.WithCodec(r.codec),
		path.WithPrepend(r.prepend),
		path.WithIDs(r.backend.RootID()))
}

// Resolve walks raw leniently: a missing leaf comes back without an
// identifier so callers can create it. Missing intermediates are NotFound.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*path.Path, error) {
	p, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.walk(ctx, p, 0, false)
}

// ResolveExisting walks raw and requires the leaf to exist with the type the
// trailing separator asks for.
func (r *Resolver) ResolveExisting(ctx context.Context, raw string) (*path.Path, error) {
	p, err := r.Parse(raw)
	if err != nil {
		return nil, err
	}
	return r.walk(ctx, p, 0, true)
}

// Revalidate looks up name below an already identified folder. The result
// carries no identifier when the child does not exist.
func (r *Resolver) Revalidate(ctx context.Context, base *path.Path, name string, folder bool) (*path.Path, error) {
	if !base.IsDir() {
		return nil, errors.InvalidParameters(fmt.Sprintf("cannot revalidate below file %s", base))
	}
	parentID := base.Identifier()
	if parentID == "" {
		return nil, notFound(base)
	}

	child := base.Child(name, "", folder)
	id, err := r.lookup(ctx, parentID, Query{Name: name, Folder: folder, Leaf: true}, child)
	if err != nil {
		return nil, err
	}
	return child.WithID(id), nil
}

// Refresh re-walks p from its deepest known identifier. The known leaf is
// always re-verified since it may have been renamed or moved.
func (r *Resolver) Refresh(ctx context.Context, p *path.Path, existing bool) (*path.Path, error) {
	ids := p.IDs()
	known := 0
	for known < len(ids) && ids[known] != "" {
		known++
	}
	if known == 0 {
		p = p.WithIDChain(r.backend.RootID())
		known = 1
	}
	if known == len(ids) && !p.IsRoot() {
		known--
	}
	return r.walk(ctx, p, known-1, existing)
}

// walk resolves every segment after index from.
func (r *Resolver) walk(ctx context.Context, p *path.Path, from int, existing bool) (*path.Path, error) {
	if from < 0 {
		from = 0
	}
	parts := p.Parts()
	ids := p.IDs()
	if ids[0] == "" {
		ids[0] = r.backend.RootID()
	}
	ids = ids[:from+1]
	depth := p.Depth()

	for i := from + 1; i <= depth; i++ {
		leaf := i == depth
		folder := !leaf || p.IsDir()
		q := Query{Name: parts[i].Value(), Folder: folder, Leaf: leaf}

		id, err := r.lookup(ctx, ids[i-1], q, p.Prefix(i))
		if err != nil {
			return nil, err
		}
		if id == "" {
			if !leaf {
				return nil, errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("%s not found", p.Prefix(i))).
					WithPath(p.Prefix(i).String())
			}
			if existing {
				return nil, notFound(p)
			}
		}
		ids = append(ids, id)
	}

	resolved := p.WithIDChain(ids...)
	r.logger.Debug("resolved path",
		zap.String("path", resolved.String()),
		zap.Strings("ids", resolved.IDs()))
	return resolved, nil
}

// lookup returns the id of the single matching child, "" for none.
func (r *Resolver) lookup(ctx context.Context, parentID string, q Query, at *path.Path) (string, error) {
	candidates, err := r.backend.FindChildren(ctx, parentID, q)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeMetadata, fmt.Sprintf("failed to look up %s", at))
	}

	seen := make(map[string]bool, len(candidates))
	var matches []Candidate
	for _, c := range candidates {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		c, err = r.describe(ctx, c)
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeNotFound) {
				continue
			}
			return "", err
		}
		if c.Name != "" && !r.compare(c.Name, q.Name) {
			continue
		}
		if c.Folder != q.Folder {
			continue
		}
		matches = append(matches, c)
	}

	r.logger.Debug("looked up segment",
		zap.String("parent", parentID),
		zap.String("name", q.Name),
		zap.Bool("folder", q.Folder),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(matches)))

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0].ID, nil
	}
	return "", errors.AmbiguousPath(at.String(), len(matches))
}

func (r *Resolver) describe(ctx context.Context, c Candidate) (Candidate, error) {
	if c.Name != "" {
		return c, nil
	}
	d, ok := r.backend.(Describer)
	if !ok {
		return c, nil
	}
	described, err := d.Describe(ctx, c.ID)
	if err != nil {
		return Candidate{}, errors.Wrap(err, errors.ErrCodeMetadata, fmt.Sprintf("failed to describe %s", c.ID))
	}
	if described.ID == "" {
		described.ID = c.ID
	}
	return described, nil
}

func notFound(p *path.Path) error {
	return errors.NotFound(p.String())
}
