package googledrive

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/west1636/RDM-waterbutler/internal/reconcile"
	"github.com/west1636/RDM-waterbutler/internal/transport"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

const (
	fileFields     = "id,name,version,size,modifiedTime,createdTime,mimeType,webViewLink,originalFilename,md5Checksum,exportLinks,ownedByMe,capabilities(canEdit)"
	listFields     = "nextPageToken,files(" + fileFields + ")"
	idFields       = "nextPageToken,files(id)"
	describeFields = "id,name,mimeType"
	revisionFields = "id,mimeType,modifiedTime,exportLinks,originalFilename,md5Checksum,size"
	revisionsList  = "revisions(" + revisionFields + ")"
)

// NewService builds a Drive client that sends every call through client.
func NewService(ctx context.Context, client *transport.Client, baseURL string) (*drive.Service, error) {
	svc, err := drive.NewService(ctx,
		option.WithHTTPClient(client.HTTPClient()),
		option.WithEndpoint(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return svc, nil
}

// escapeQuery quotes a name for a Drive query literal.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

// nameQuery finds plain entries named name under parentID. Native documents
// never match; they are found by their virtual extension instead.
func nameQuery(parentID, name string, folder bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name = '%s' and trashed = false", escapeQuery(name))
	for _, mime := range reconcile.ExcludedMimeTypes {
		fmt.Fprintf(&b, " and mimeType != '%s'", mime)
	}
	op := "!="
	if folder {
		op = "="
	}
	fmt.Fprintf(&b, " and mimeType %s '%s' and '%s' in parents", op, reconcile.MimeFolder, parentID)
	return b.String()
}

// docsQuery finds native documents of one type by their base name.
func docsQuery(parentID, base, mime string) string {
	return fmt.Sprintf("name = '%s' and trashed = false and mimeType = '%s' and '%s' in parents",
		escapeQuery(base), mime, parentID)
}

// childrenQuery lists every downloadable child of parentID.
func childrenQuery(parentID string) string {
	return fmt.Sprintf("'%s' in parents and trashed = false and mimeType != '%s' and mimeType != '%s'",
		parentID, reconcile.MimeForm, reconcile.MimeMap)
}

func apiError(err error) (*googleapi.Error, bool) {
	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) {
		return gErr, true
	}
	return nil, false
}

func isNotFound(err error) bool {
	gErr, ok := apiError(err)
	return ok && gErr.Code == http.StatusNotFound
}

// translateError maps an SDK error to the typed error of the operation in
// progress. A 404 always becomes NotFound for display.
func translateError(err error, throws transport.ErrorFunc, display string) error {
	if err == nil {
		return nil
	}
	gErr, ok := apiError(err)
	if !ok {
		if _, ok := errors.As(err); ok {
			return err
		}
		if code := errors.CodeOf(err); code == errors.ErrCodeOperationCanceled || code == errors.ErrCodeOperationTimeout {
			return errors.Wrap(err, errors.ErrCodeOperationCanceled, "googledrive request interrupted")
		}
		return throws(err.Error(), 500).WithPath(display).WithCause(err)
	}
	if gErr.Code == http.StatusNotFound {
		return errors.NotFound(display).WithCause(err)
	}

	message := gErr.Message
	if message == "" {
		message = strings.TrimSpace(gErr.Body)
	}
	if message == "" {
		message = http.StatusText(gErr.Code)
	}
	return throws(message, gErr.Code).WithPath(display).WithCause(err)
}

// fileItem converts a Drive file to the reconciler input.
func (p *Provider) fileItem(f *drive.File) reconcile.Item {
	item := reconcile.Item{
		ID:          f.Id,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Folder:      f.MimeType == reconcile.MimeFolder,
		Modified:    f.ModifiedTime,
		Created:     f.CreatedTime,
		ExportLinks: f.ExportLinks,
		Extra:       map[string]interface{}{},
	}
	if f.WebViewLink != "" {
		item.Extra["webView"] = f.WebViewLink
	}
	if item.Folder {
		item.Version = strconv.FormatInt(f.Version, 10)
		return item
	}
	if !p.rec.Formats().IsConvertible(f.MimeType) {
		item.Size = f.Size
		item.Version = strconv.FormatInt(f.Version, 10)
		item.ETag = item.Version
		if f.Md5Checksum != "" {
			item.Hashes = map[string]string{"md5": f.Md5Checksum}
		}
	}
	return item
}

func (p *Provider) revisionItem(r *drive.Revision) reconcile.Item {
	item := reconcile.Item{
		Version:     r.Id,
		MimeType:    r.MimeType,
		Modified:    r.ModifiedTime,
		ExportLinks: r.ExportLinks,
	}
	if !p.rec.Formats().IsConvertible(r.MimeType) {
		item.Size = r.Size
		if r.Md5Checksum != "" {
			item.Hashes = map[string]string{"md5": r.Md5Checksum}
		}
	}
	return item
}

func canEdit(f *drive.File) bool {
	return f.Capabilities != nil && f.Capabilities.CanEdit
}
