// Package reconcile turns raw backend items into canonical metadata.
//
// Reconciliation is a pure function of the item and the path: export names
// for convertible documents, integer sizes, and revision identifiers are all
// derived before the immutable metadata value is built.
package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Item is the backend-neutral shape of a raw entry.
type Item struct {
	ID       string
	Name     string
	MimeType string
	Folder   bool
	// Size is whatever the backend sent: a number, a numeric string, or nil.
	Size     interface{}
	Modified string
	Created  string
	// Version is the backend revision id, if any.
	Version string
	// Unversioned marks items whose Version is not a usable revision, such as
	// documents the caller cannot edit.
	Unversioned bool
	Hashes      map[string]string
	// ExportLinks maps export mime types to download URLs.
	ExportLinks map[string]string
	// ETag overrides the etag source; the raw path is used when empty.
	ETag  string
	Extra map[string]interface{}
}

// Config tunes a Reconciler.
type Config struct {
	Provider string
	Formats  Formats
	// VersionKey is the extra attribute holding the revision, "revisionId" by default.
	VersionKey string
	// RevisionParam names the query parameter selecting a revision, "revision" by default.
	RevisionParam string
}

// Reconciler builds metadata for one provider. It holds no mutable state.
type Reconciler struct {
	cfg Config
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	if cfg.VersionKey == "" {
		cfg.VersionKey = "revisionId"
	}
	if cfg.RevisionParam == "" {
		cfg.RevisionParam = "revision"
	}
	return &Reconciler{cfg: cfg}
}

// Provider returns the provider tag.
func (r *Reconciler) Provider() string { return r.cfg.Provider }

// Formats returns the convertible document table.
func (r *Reconciler) Formats() Formats { return r.cfg.Formats }

// Reconcile dispatches on the item type.
func (r *Reconciler) Reconcile(item Item, p *path.Path) (metadata.Metadata, error) {
	if item.Folder || p.IsDir() {
		return r.Folder(item, p), nil
	}
	return r.File(item, p)
}

// File builds file metadata for item at p.
func (r *Reconciler) File(item Item, p *path.Path) (*metadata.File, error) {
	size, hasSize, err := CoerceSize(item.Size)
	if err != nil {
		return nil, err
	}

	name := item.Name
	if name == "" {
		name = p.Name()
	}

	b := metadata.NewFile(r.cfg.Provider).
		ID(item.ID).
		ContentType(item.MimeType).
		Modified(item.Modified).
		Created(item.Created)
	if hasSize {
		b.Size(size)
	}
	for k, v := range item.Extra {
		b.Extra(k, v)
	}
	if version := r.Version(item); version != "" {
		b.Extra(r.cfg.VersionKey, version)
	}

	if format, ok := r.cfg.Formats.Lookup(item.MimeType); ok {
		export := r.cfg.Formats.Export(item.MimeType, exportMimes(item.ExportLinks))
		if !strings.HasSuffix(name, format.Ext) {
			name += format.Ext
		}
		base := strings.TrimSuffix(name, format.Ext)
		b.Export(base+export.ExportExt, export.ExportExt).
			Extra("downloadExt", export.ExportExt)
		p = withLeafName(p, name)
	} else if len(item.Hashes) > 0 {
		hashes := make(map[string]interface{}, len(item.Hashes))
		for alg, v := range item.Hashes {
			if v == "" {
				continue
			}
			b.Hash(alg, v)
			hashes[alg] = v
		}
		if len(hashes) > 0 {
			b.Extra("hashes", hashes)
		}
	}

	b.Name(name).Path(p.RawPath(), p.String())
	if item.ETag != "" {
		b.ETagSource(item.ETag)
	}
	return b.Build(), nil
}

// Folder builds folder metadata for item at p. The path always ends in the
// separator and no size is carried.
func (r *Reconciler) Folder(item Item, p *path.Path) *metadata.Folder {
	name := item.Name
	if name == "" {
		name = p.Name()
	}
	if !p.IsDir() {
		p = p.Parent().Child(p.Name(), p.Identifier(), true)
	}

	b := metadata.NewFolder(r.cfg.Provider).
		ID(item.ID).
		Name(name).
		Path(p.RawPath(), p.String())
	for k, v := range item.Extra {
		b.Extra(k, v)
	}
	if item.Version != "" {
		b.Extra(r.cfg.VersionKey, item.Version)
	}
	if item.ETag != "" {
		b.ETagSource(item.ETag)
	}
	return b.Build()
}

// Revision builds revision metadata from a revision item.
func (r *Reconciler) Revision(item Item) *metadata.Revision {
	b := metadata.NewRevision(r.cfg.Provider).
		Version(r.Version(item)).
		VersionIdentifier(r.cfg.RevisionParam).
		Modified(item.Modified)
	for k, v := range item.Extra {
		b.Extra(k, v)
	}
	return b.Build()
}

// Revisions builds revision metadata newest first. Items without native
// revisioning collapse to the single synthesized revision of file.
func (r *Reconciler) Revisions(file Item, revisions []Item) []*metadata.Revision {
	if file.Unversioned || len(revisions) == 0 {
		synth := file
		synth.Version = ""
		synth.Unversioned = true
		return []*metadata.Revision{r.Revision(synth)}
	}

	out := make([]*metadata.Revision, len(revisions))
	for i := range revisions {
		out[len(revisions)-1-i] = r.Revision(revisions[i])
	}
	return out
}

// FileAtRevision builds the metadata of file as it was at rev. Content
// attributes come from the revision, identity from the file.
func (r *Reconciler) FileAtRevision(file, rev Item, p *path.Path) (*metadata.File, error) {
	merged := file
	merged.Version = rev.Version
	merged.Unversioned = rev.Unversioned
	if rev.Size != nil {
		merged.Size = rev.Size
	}
	if rev.Modified != "" {
		merged.Modified = rev.Modified
	}
	if rev.MimeType != "" && !r.cfg.Formats.IsConvertible(file.MimeType) {
		merged.MimeType = rev.MimeType
	}
	if rev.Hashes != nil {
		merged.Hashes = rev.Hashes
	}
	if rev.ExportLinks != nil {
		merged.ExportLinks = rev.ExportLinks
	}
	if merged.ETag == "" {
		merged.ETag = rev.Version
	}
	return r.File(merged, p)
}

// Version returns the revision id of item: the backend id verbatim, or a
// synthesized one when the item has no native revisioning.
func (r *Reconciler) Version(item Item) string {
	if item.Version != "" && !item.Unversioned {
		return item.Version
	}
	if item.Modified == "" {
		return ""
	}
	return SynthesizeRevision(item.Modified)
}

// CoerceSize converts a backend size to an integer. A nil size is not an error.
func CoerceSize(v interface{}) (int64, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, false, invalidSize(v)
		}
		return int64(t), true, nil
	case float64:
		if t < 0 || t != math.Trunc(t) || t > math.MaxInt64 {
			return 0, false, invalidSize(v)
		}
		return int64(t), true, nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false, invalidSize(v)
		}
		return n, true, nil
	case string:
		if t == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil || n < 0 {
			return 0, false, invalidSize(v)
		}
		return n, true, nil
	case *int64:
		if t == nil {
			return 0, false, nil
		}
		return *t, true, nil
	}
	return 0, false, invalidSize(v)
}

func invalidSize(v interface{}) error {
	return errors.NewError(errors.ErrCodeMetadata, fmt.Sprintf("backend reported an invalid size %v", v))
}

func exportMimes(links map[string]string) []string {
	if links == nil {
		return nil
	}
	mimes := make([]string, 0, len(links))
	for m := range links {
		mimes = append(mimes, m)
	}
	sort.Strings(mimes)
	return mimes
}

func withLeafName(p *path.Path, name string) *path.Path {
	if p.IsRoot() || p.Name() == name {
		return p
	}
	return p.Parent().Child(name, p.Identifier(), false)
}
