package googledrive

import (
	"context"
	stdpath "path"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"

	"github.com/west1636/RDM-waterbutler/internal/reconcile"
	"github.com/west1636/RDM-waterbutler/internal/resolver"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// lookup answers the resolver's per-segment queries against Drive.
type lookup struct {
	svc     *drive.Service
	rootID  string
	formats reconcile.Formats
	logger  *zap.Logger
}

var (
	_ resolver.Backend   = (*lookup)(nil)
	_ resolver.Describer = (*lookup)(nil)
)

func (l *lookup) RootID() string { return l.rootID }

func (l *lookup) FindChildren(ctx context.Context, parentID string, q resolver.Query) ([]resolver.Candidate, error) {
	query := nameQuery(parentID, q.Name, q.Folder)
	if !q.Folder {
		ext := stdpath.Ext(q.Name)
		if format, ok := l.formats.ByExt(ext); ok {
			query = docsQuery(parentID, strings.TrimSuffix(q.Name, ext), format.MimeType)
		}
	}

	l.logger.Debug("find children", zap.String("parent", parentID), zap.String("name", q.Name), zap.Bool("folder", q.Folder))
	var out []resolver.Candidate
	err := l.svc.Files.List().
		Q(query).
		Fields(idFields).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				out = append(out, resolver.Candidate{ID: f.Id, Folder: q.Folder})
			}
			return nil
		})
	if err != nil {
		return nil, translateError(err, errors.Metadata, q.Name)
	}
	return out, nil
}

// Describe reports the display name of a bare id, with the virtual extension
// of native documents appended.
func (l *lookup) Describe(ctx context.Context, id string) (resolver.Candidate, error) {
	f, err := l.svc.Files.Get(id).Fields(describeFields).Context(ctx).Do()
	if err != nil {
		return resolver.Candidate{}, translateError(err, errors.Metadata, id)
	}
	name := f.Name
	if format, ok := l.formats.Lookup(f.MimeType); ok && !strings.HasSuffix(name, format.Ext) {
		name += format.Ext
	}
	return resolver.Candidate{
		ID:       f.Id,
		Name:     name,
		Folder:   f.MimeType == reconcile.MimeFolder,
		MimeType: f.MimeType,
	}, nil
}
