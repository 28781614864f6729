package provider

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// DefaultOpConcurrency caps the per-level fan-out of folder copies and moves.
const DefaultOpConcurrency = 10

// CopyOptions tunes Copy and Move.
type CopyOptions struct {
	// Rename replaces the source name at a folder destination.
	Rename   string
	Conflict Conflict
	// SkipNaming uses dst verbatim. Folder fan-out sets it for children.
	SkipNaming bool
	// Concurrency caps the children processed at once, DefaultOpConcurrency when zero.
	Concurrency int
}

func (o CopyOptions) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultOpConcurrency
}

type transferFunc func(ctx context.Context, src, dest Provider, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error)

// Copy copies srcPath on src to dstPath on dest. Backends that can copy
// natively do so; otherwise files stream through a download and an upload,
// and folders are rebuilt child by child.
func Copy(ctx context.Context, src, dest Provider, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	dstPath, err := prepareTransfer(ctx, src, dest, srcPath, dstPath, opts)
	if err != nil {
		return nil, false, err
	}

	if src.CanIntraCopy(dest, srcPath) {
		return src.IntraCopy(ctx, dest, srcPath, dstPath)
	}
	if srcPath.IsDir() {
		return folderFileOp(ctx, Copy, src, dest, srcPath, dstPath, opts)
	}

	stream, err := src.Download(ctx, srcPath, DownloadOptions{})
	if err != nil {
		return nil, false, err
	}
	defer stream.Close()

	if stream.Name != "" && stream.Name != dstPath.Name() {
		dstPath = dstPath.Rename(stream.Name)
	}
	return dest.Upload(ctx, stream, dstPath, UploadOptions{Conflict: ConflictReplace})
}

// Move is Copy followed by deleting the source. A source that is already gone
// is not an error.
func Move(ctx context.Context, src, dest Provider, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	dstPath, err := prepareTransfer(ctx, src, dest, srcPath, dstPath, opts)
	if err != nil {
		return nil, false, err
	}

	if src.CanIntraMove(dest, srcPath) {
		return src.IntraMove(ctx, dest, srcPath, dstPath)
	}

	var (
		md      metadata.Metadata
		created bool
	)
	if srcPath.IsDir() {
		md, created, err = folderFileOp(ctx, Move, src, dest, srcPath, dstPath, opts)
	} else {
		childOpts := opts
		childOpts.SkipNaming = true
		md, created, err = Copy(ctx, src, dest, srcPath, dstPath, childOpts)
	}
	if err != nil {
		return nil, false, err
	}

	if err := src.Delete(ctx, srcPath, DeleteOptions{Confirm: true}); err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, false, err
	}
	return md, created, nil
}

func prepareTransfer(ctx context.Context, src, dest Provider, srcPath, dstPath *path.Path, opts CopyOptions) (*path.Path, error) {
	if !opts.SkipNaming {
		var err error
		dstPath, err = HandleNaming(ctx, dest, srcPath, dstPath, opts.Rename, opts.Conflict)
		if err != nil {
			return nil, err
		}
	}
	if src.SharesStorageRoot(dest) && srcPath.MaterializedPath() == dstPath.MaterializedPath() {
		return nil, errors.OverwriteSelf(srcPath.String())
	}
	return dstPath, nil
}

type childResult struct {
	index int
	md    metadata.Metadata
}

// folderFileOp recreates the folder dstPath and applies fn to every child of
// srcPath. created is false when an existing destination was replaced.
func folderFileOp(ctx context.Context, fn transferFunc, src, dest Provider, srcPath, dstPath *path.Path, opts CopyOptions) (metadata.Metadata, bool, error) {
	logger := logging.FromContext(ctx)

	created := false
	if err := dest.Delete(ctx, dstPath, DeleteOptions{}); err != nil {
		if !errors.IsCode(err, errors.ErrCodeNotFound) && errors.StatusCode(err) != 404 {
			return nil, false, err
		}
		created = true
	}

	folder, err := dest.CreateFolder(ctx, dstPath, CreateFolderOptions{SkipPrecheck: true})
	if err != nil {
		return nil, false, err
	}
	if !dstPath.IsRoot() {
		dstPath, err = dest.RevalidatePath(ctx, dstPath.Parent(), dstPath.Name(), true)
		if err != nil {
			return nil, false, err
		}
	}

	listing, err := src.Metadata(ctx, srcPath, MetadataOptions{})
	if err != nil {
		return nil, false, err
	}
	items := Children(listing)
	logger.Debug("folder transfer",
		zap.String("source", srcPath.String()),
		zap.String("destination", dstPath.String()),
		zap.Int("items", len(items)))

	childOpts := opts
	childOpts.SkipNaming = true
	childOpts.Rename = ""

	p := pool.NewWithResults[childResult]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(opts.concurrency())
	for i, item := range items {
		p.Go(func(ctx context.Context) (childResult, error) {
			folderChild := item.Kind() == metadata.KindFolder
			childSrc, err := src.RevalidatePath(ctx, srcPath, item.Name(), folderChild)
			if err != nil {
				return childResult{}, err
			}
			childDst, err := dest.RevalidatePath(ctx, dstPath, item.Name(), folderChild)
			if err != nil {
				return childResult{}, err
			}
			md, _, err := fn(ctx, src, dest, childSrc, childDst, childOpts)
			if err != nil {
				return childResult{}, err
			}
			return childResult{index: i, md: md}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, false, err
	}

	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	children := make([]metadata.Metadata, 0, len(results))
	for _, r := range results {
		children = append(children, r.md)
	}
	return folder.WithChildren(children), created, nil
}
