package main

import (
	"context"
	"fmt"
	"io"
	"os"
	stdpath "path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/west1636/RDM-waterbutler/internal/auth"
	"github.com/west1636/RDM-waterbutler/internal/provider"
)

var (
	downloadRevision string
	rangeFlag        string
	conflictFlag     string
)

var downloadCmd = &cobra.Command{
	Use:   "download <path> [destination]",
	Short: "Download a file; destination defaults to the file name, - writes to stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		byteRange, err := parseRange(rangeFlag)
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Source, provider.ActionDownload, args[0])
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, args[0], true)
			if err != nil {
				return err
			}
			stream, err := a.orch.Download(ctx, t, p, provider.DownloadOptions{
				Revision: downloadRevision,
				Range:    byteRange,
			})
			if err != nil {
				return err
			}
			defer stream.Close()

			name := stream.Name
			if name == "" {
				name = p.Name()
			}
			return save(stream, stream.Size, name, destination(args, name))
		})
	},
}

var zipCmd = &cobra.Command{
	Use:   "zip <folder> [destination]",
	Short: "Download a folder as a zip archive",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, a *app) error {
			t, err := a.target(ctx, providerName, credentialFile, auth.Source, provider.ActionDownloadZip, args[0])
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, args[0], true)
			if err != nil {
				return err
			}
			rc, err := a.orch.Zip(ctx, t, p)
			if err != nil {
				return err
			}
			defer rc.Close()

			name := p.Name()
			if p.IsRoot() || name == "" {
				name = "archive"
			}
			name += ".zip"
			return save(rc, -1, name, destination(args, name))
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> <path>",
	Short: "Upload a local file; a path ending in / uploads into that folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conflict, err := provider.ParseConflict(conflictFlag)
		if err != nil {
			return err
		}
		remote := args[1]
		if strings.HasSuffix(remote, "/") {
			remote += filepath.Base(args[0])
		}

		return run(func(ctx context.Context, a *app) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", args[0], err)
			}

			t, err := a.target(ctx, providerName, credentialFile, auth.Destination, provider.ActionUpload, remote)
			if err != nil {
				return err
			}
			p, err := resolve(ctx, t, remote, false)
			if err != nil {
				return err
			}

			bar := newProgressBar("uploading "+stdpath.Base(remote), info.Size())
			reader := progressbar.NewReader(f, bar)
			md, created, err := a.orch.Upload(ctx, t, provider.NewStream(&reader, info.Size()), p,
				provider.UploadOptions{Conflict: conflict})
			if err != nil {
				return err
			}
			_ = bar.Finish()
			if created {
				a.logger.Info("entry created", zap.String("path", md.Path()))
			}
			return printJSON(md.Serialized())
		})
	},
}

func init() {
	downloadCmd.Flags().StringVar(&downloadRevision, "revision", "", "revision or version id")
	downloadCmd.Flags().StringVar(&rangeFlag, "range", "", "inclusive byte range, e.g. 0-99 or 100-")
	uploadCmd.Flags().StringVar(&conflictFlag, "conflict", "replace", "replace, keep or warn")
}

func destination(args []string, name string) string {
	if len(args) > 1 {
		return args[1]
	}
	return name
}

// save copies r to dest, or stdout when dest is "-".
func save(r io.Reader, size int64, name, dest string) error {
	if dest == "-" {
		_, err := io.Copy(os.Stdout, r)
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	bar := newProgressBar("downloading "+name, size)
	if _, err := io.Copy(io.MultiWriter(out, bar), r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	_ = bar.Finish()
	return out.Close()
}

// parseRange reads an inclusive "start-end" or "start-" range.
func parseRange(s string) (*provider.Range, error) {
	if s == "" {
		return nil, nil
	}
	startS, endS, ok := strings.Cut(strings.TrimPrefix(s, "bytes="), "-")
	if !ok {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	start, err := strconv.ParseInt(startS, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("invalid range start %q", startS)
	}
	if endS == "" {
		return &provider.Range{Start: start}, nil
	}
	end, err := strconv.ParseInt(endS, 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("invalid range end %q", endS)
	}
	return &provider.Range{Start: start, End: end + 1}, nil
}
