package googledrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"

	"github.com/west1636/RDM-waterbutler/internal/transport"
	"github.com/west1636/RDM-waterbutler/internal/upload"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// statusResumeIncomplete acknowledges a chunk of an unfinished session.
const statusResumeIncomplete = http.StatusPermanentRedirect

// resumable drives a Drive resumable upload. The session token is the
// session URI from the Location header; the result is the stored file.
type resumable struct {
	p        *Provider
	id       string
	parentID string
	name     string
	size     int64
	mime     string
}

var _ upload.Protocol[drive.File] = (*resumable)(nil)

// Open starts a session: POST for a new file, PATCH to replace the content
// of an existing one.
func (r *resumable) Open(ctx context.Context) (string, error) {
	body := map[string]interface{}{}
	method, target := http.MethodPost, r.p.cfg.UploadURL+"files"
	if r.id != "" {
		method, target = http.MethodPatch, r.p.cfg.UploadURL+"files/"+url.PathEscape(r.id)
	} else {
		body["name"] = r.name
		body["parents"] = []string{r.parentID}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeUpload, "failed to encode upload metadata")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=UTF-8")
	if r.size >= 0 {
		header.Set("X-Upload-Content-Length", strconv.FormatInt(r.size, 10))
	}
	if r.mime != "" {
		header.Set("X-Upload-Content-Type", r.mime)
	}

	resp, err := r.p.client.Do(ctx, transport.Request{
		Method:  method,
		URL:     target,
		Query:   url.Values{"uploadType": {"resumable"}, "fields": {fileFields}},
		Header:  header,
		Body:    raw,
		Expects: []int{http.StatusOK},
		Throws:  errors.Upload,
	})
	if err != nil {
		return "", err
	}
	defer resp.Release()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.Upload("upload session has no location", http.StatusBadGateway)
	}
	r.p.logger.Debug("opened upload session", zap.String("name", r.name), zap.Bool("update", r.id != ""))
	return location, nil
}

// UploadPart sends part and checks the acknowledged range against it. Bytes
// the session did not persist are sent again.
func (r *resumable) UploadPart(ctx context.Context, token string, part upload.Part) (string, *drive.File, error) {
	want := part.Offset + int64(len(part.Data)) - 1
	for {
		ack, f, err := r.put(ctx, token, part)
		if err != nil || f != nil {
			return ack, f, err
		}

		end, err := persistedEnd(ack)
		if err != nil {
			return "", nil, err
		}
		if end >= want {
			if part.Last {
				return "", nil, errors.Upload("upload session did not complete", http.StatusBadGateway)
			}
			return ack, nil, nil
		}

		stored := end + 1 - part.Offset
		if stored <= 0 {
			return "", nil, errors.Upload(
				fmt.Sprintf("upload session holds %d bytes, part %d starts at %d", end+1, part.Number, part.Offset),
				http.StatusBadGateway)
		}
		r.p.logger.Debug("resending unpersisted bytes",
			zap.Int("part", part.Number),
			zap.Int64("persisted", end+1),
			zap.Int64("remaining", want-end))
		part.Offset += stored
		part.Data = part.Data[stored:]
	}
}

// put sends one Content-Range request. An unfinished session answers with
// its Range header and no file.
func (r *resumable) put(ctx context.Context, token string, part upload.Part) (string, *drive.File, error) {
	total := "*"
	if part.Total >= 0 {
		total = strconv.FormatInt(part.Total, 10)
	}
	contentRange := fmt.Sprintf("bytes */%s", total)
	if n := int64(len(part.Data)); n > 0 {
		contentRange = fmt.Sprintf("bytes %d-%d/%s", part.Offset, part.Offset+n-1, total)
	}

	header := http.Header{}
	header.Set("Content-Range", contentRange)
	resp, err := r.p.client.Do(ctx, transport.Request{
		Method:        http.MethodPut,
		URL:           token,
		Header:        header,
		Body:          part.Data,
		ContentLength: int64(len(part.Data)),
		Expects:       []int{http.StatusOK, http.StatusCreated, statusResumeIncomplete, http.StatusNotFound},
		Throws:        errors.Upload,
	})
	if err != nil {
		return "", nil, err
	}
	defer resp.Release()

	switch resp.Status {
	case http.StatusNotFound:
		return "", nil, errors.NewError(errors.ErrCodeUploadSessionExpired, "upload session no longer exists")
	case statusResumeIncomplete:
		return resp.Header.Get("Range"), nil, nil
	}

	var f drive.File
	if err := resp.DecodeJSON(&f); err != nil {
		return "", nil, err
	}
	return f.Id, &f, nil
}

// persistedEnd parses a "bytes=0-N" acknowledgement into N. A missing header
// means the session holds nothing yet.
func persistedEnd(header string) (int64, error) {
	if header == "" {
		return -1, nil
	}
	var start, end int64
	if _, err := fmt.Sscanf(header, "bytes=%d-%d", &start, &end); err != nil || start != 0 || end < 0 {
		return 0, errors.Upload(fmt.Sprintf("invalid upload range %q", header), http.StatusBadGateway)
	}
	return end, nil
}

func (r *resumable) Finalize(ctx context.Context, token string, parts []upload.CompletedPart, final *drive.File) (drive.File, error) {
	if final == nil {
		return drive.File{}, errors.Upload("upload session ended without a file", http.StatusBadGateway)
	}
	return *final, nil
}

// Abort cancels the session. Drive answers 499 for a cancelled session.
func (r *resumable) Abort(ctx context.Context, token string) error {
	resp, err := r.p.client.Do(ctx, transport.Request{
		Method:  http.MethodDelete,
		URL:     token,
		Expects: []int{http.StatusNoContent, 499, http.StatusNotFound},
		Throws:  errors.Upload,
	})
	if err != nil {
		return err
	}
	resp.Release()
	return nil
}
