package provider

import (
	"context"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// maxNameIncrements bounds the "keep" rename loop.
const maxNameIncrements = 1000

// Exists fetches metadata for p. A NotFound, or a Metadata error carrying a
// 404, means the entry does not exist. An empty folder exists.
func Exists(ctx context.Context, prov Provider, p *path.Path) (metadata.Metadata, bool, error) {
	md, err := prov.Metadata(ctx, p, MetadataOptions{})
	if err == nil {
		return md, true, nil
	}
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, false, nil
	}
	if errors.IsCode(err, errors.ErrCodeMetadata) && errors.StatusCode(err) == 404 {
		return nil, false, nil
	}
	return nil, false, err
}

// HandleNameConflict decides the final destination of a write to p.
//
// Replace returns p and whether it existed. Warn fails when p exists. Keep
// increments the name until a free one is found and reports existed=false.
func HandleNameConflict(ctx context.Context, prov Provider, p *path.Path, conflict Conflict) (*path.Path, bool, error) {
	_, exists, err := Exists(ctx, prov, p)
	if err != nil {
		return nil, false, err
	}
	if !exists || conflict == ConflictReplace || conflict == "" {
		return p, exists, nil
	}
	if conflict == ConflictWarn {
		return nil, false, errors.NamingConflict(p.Name())
	}

	candidate := p
	for i := 0; i < maxNameIncrements; i++ {
		renamed := candidate.IncrementName()
		candidate, err = prov.RevalidatePath(ctx, renamed.Parent(), renamed.Name(), renamed.IsDir())
		if err != nil {
			return nil, false, err
		}
		if _, exists, err = Exists(ctx, prov, candidate); err != nil {
			return nil, false, err
		}
		if !exists {
			return candidate, false, nil
		}
	}
	return nil, false, errors.NamingConflict(p.Name())
}

// HandleNaming resolves the destination of a copy or move. A folder
// destination is copied into, so the source name (or rename) is appended.
func HandleNaming(ctx context.Context, dest Provider, src, dst *path.Path, rename string, conflict Conflict) (*path.Path, error) {
	if src.IsDir() && dst.IsFile() {
		return nil, errors.InvalidParameters("destination must be a directory if the source is")
	}

	if dst.IsDir() {
		name := rename
		if name == "" {
			name = src.Name()
		}
		var err error
		dst, err = dest.RevalidatePath(ctx, dst, name, src.IsDir())
		if err != nil {
			return nil, err
		}
	}

	dst, _, err := HandleNameConflict(ctx, dest, dst, conflict)
	return dst, err
}
