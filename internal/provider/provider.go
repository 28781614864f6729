// Package provider defines the contract every storage backend implements and
// the shared operations built on top of it: name conflict handling,
// cross-provider copy and move, bounded key deletion and zip streaming.
package provider

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/west1636/RDM-waterbutler/internal/transport"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Range is a half-open byte range [Start, End). End == 0 is open-ended.
type Range = transport.Range

// Conflict selects what happens when a destination already exists.
type Conflict string

const (
	// ConflictReplace overwrites the existing entry.
	ConflictReplace Conflict = "replace"
	// ConflictKeep renames the new entry to "name (n).ext".
	ConflictKeep Conflict = "keep"
	// ConflictWarn fails with a naming conflict.
	ConflictWarn Conflict = "warn"
)

// ParseConflict validates a client conflict value. Empty means replace.
func ParseConflict(s string) (Conflict, error) {
	switch c := Conflict(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ConflictReplace, nil
	case ConflictReplace, ConflictKeep, ConflictWarn:
		return c, nil
	}
	return "", errors.InvalidParameters(fmt.Sprintf("conflict must be replace, keep or warn, not %q", s))
}

// Stream is a download body or an upload source.
type Stream struct {
	io.ReadCloser
	// Name overrides the destination name when set, as for exported documents.
	Name        string
	Size        int64 // -1 when unknown
	ContentType string
	// Partial is set when a byte range was honored.
	Partial bool
}

// NewStream wraps r. A reader without Close gets a no-op one.
func NewStream(r io.Reader, size int64) *Stream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return &Stream{ReadCloser: rc, Size: size}
}

// MetadataOptions selects a revision; empty or magic markers mean latest.
type MetadataOptions struct {
	Revision string
}

// DownloadOptions tunes a download.
type DownloadOptions struct {
	Revision string
	Range    *Range
	// DisplayName overrides the stream name.
	DisplayName string
}

// UploadOptions tunes an upload.
type UploadOptions struct {
	Conflict Conflict
}

// DeleteOptions tunes a delete.
type DeleteOptions struct {
	// Confirm is required to delete the contents of the root.
	Confirm bool
}

// CreateFolderOptions tunes folder creation.
type CreateFolderOptions struct {
	// SkipPrecheck skips the existence check.
	SkipPrecheck bool
}

// Provider is the operation set of one configured backend.
//
// Metadata returns *metadata.File for files and a listed *metadata.Folder for
// folders. Upload and the intra operations report created=false when they
// replaced an existing entry.
type Provider interface {
	Name() string

	ValidatePath(ctx context.Context, raw string) (*path.Path, error)
	ValidateV1Path(ctx context.Context, raw string) (*path.Path, error)
	RevalidatePath(ctx context.Context, base *path.Path, name string, folder bool) (*path.Path, error)

	Metadata(ctx context.Context, p *path.Path, opts MetadataOptions) (metadata.Metadata, error)
	Download(ctx context.Context, p *path.Path, opts DownloadOptions) (*Stream, error)
	Upload(ctx context.Context, s *Stream, p *path.Path, opts UploadOptions) (*metadata.File, bool, error)
	Delete(ctx context.Context, p *path.Path, opts DeleteOptions) error
	CreateFolder(ctx context.Context, p *path.Path, opts CreateFolderOptions) (*metadata.Folder, error)
	Revisions(ctx context.Context, p *path.Path) ([]*metadata.Revision, error)

	IntraCopy(ctx context.Context, dest Provider, src, dst *path.Path) (metadata.Metadata, bool, error)
	IntraMove(ctx context.Context, dest Provider, src, dst *path.Path) (metadata.Metadata, bool, error)

	CanDuplicateNames() bool
	CanIntraCopy(dest Provider, p *path.Path) bool
	CanIntraMove(dest Provider, p *path.Path) bool
	SharesStorageRoot(other Provider) bool

	PathFromMetadata(parent *path.Path, md metadata.Metadata) *path.Path
}

// Children returns the listed entries of a folder metadata value.
func Children(md metadata.Metadata) []metadata.Metadata {
	if folder, ok := md.(*metadata.Folder); ok {
		return folder.Children()
	}
	return nil
}

// ChildPath derives the path of a listed child from its metadata.
func ChildPath(parent *path.Path, md metadata.Metadata) *path.Path {
	var id string
	switch m := md.(type) {
	case *metadata.File:
		id = m.ID()
	case *metadata.Folder:
		id = m.ID()
	}
	return parent.Child(md.Name(), id, md.Kind() == metadata.KindFolder)
}

// RequireRootConfirm refuses to delete the root without confirmation.
func RequireRootConfirm(p *path.Path, opts DeleteOptions) error {
	if p.IsRoot() && !opts.Confirm {
		return errors.Delete("confirm_delete=1 is required for deleting root provider folder", 400)
	}
	return nil
}
