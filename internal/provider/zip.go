package provider

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/logging"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
)

// Zip streams a zip archive of p. A file path yields a one-entry archive.
// Files are deflated at level (flate.DefaultCompression when zero) and
// folders become "name/" entries. Nothing is buffered beyond one entry's
// compression window; a failure mid-stream surfaces as a read error.
func Zip(ctx context.Context, prov Provider, p *path.Path, level int) (io.ReadCloser, error) {
	md, err := prov.Metadata(ctx, p, MetadataOptions{})
	if err != nil {
		return nil, err
	}

	base := p
	items := Children(md)
	if p.IsFile() {
		base = p.Parent()
		items = []metadata.Metadata{md}
	}
	if level == 0 {
		level = flate.DefaultCompression
	}

	pr, pw := io.Pipe()
	go func() {
		zw := zip.NewWriter(pw)
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
		z := &zipper{prov: prov, zw: zw, logger: logging.FromContext(ctx)}
		err := z.addAll(ctx, base, "", items)
		err = multierr.Append(err, zw.Close())
		pw.CloseWithError(err)
	}()
	return pr, nil
}

type zipper struct {
	prov   Provider
	zw     *zip.Writer
	logger *zap.Logger
}

func (z *zipper) addAll(ctx context.Context, parent *path.Path, prefix string, items []metadata.Metadata) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := ChildPath(parent, item)
		if item.Kind() == metadata.KindFolder {
			if err := z.addFolder(ctx, child, prefix+item.Name()+"/"); err != nil {
				return err
			}
			continue
		}
		if err := z.addFile(ctx, child, prefix); err != nil {
			return err
		}
	}
	return nil
}

func (z *zipper) addFolder(ctx context.Context, p *path.Path, name string) error {
	if _, err := z.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store, Modified: time.Now().UTC()}); err != nil {
		return err
	}
	md, err := z.prov.Metadata(ctx, p, MetadataOptions{})
	if err != nil {
		return err
	}
	return z.addAll(ctx, p, name, Children(md))
}

func (z *zipper) addFile(ctx context.Context, p *path.Path, prefix string) error {
	stream, err := z.prov.Download(ctx, p, DownloadOptions{})
	if err != nil {
		return err
	}
	defer stream.Close()

	name := p.Name()
	if stream.Name != "" {
		name = stream.Name
	}
	w, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     prefix + strings.TrimPrefix(name, "/"),
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	n, err := io.Copy(w, stream)
	z.logger.Debug("zip entry", zap.String("path", p.String()), zap.Int64("bytes", n))
	return err
}
