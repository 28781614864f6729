package googledrive

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"

	"github.com/west1636/RDM-waterbutler/internal/reconcile"
)

const (
	testToken    = "drive-token"
	testModified = "2026-01-02T03:04:05.000Z"
)

// fakeFile is one entry of the in-memory drive.
type fakeFile struct {
	ID       string
	Name     string
	MimeType string
	Parents  []string
	Content  []byte
	Version  int64
	CanEdit  bool

	Revisions       []*drive.Revision
	RevisionContent map[string][]byte
	// RevisionsStatus fails revision listing with this status when set.
	RevisionsStatus int
	// Exports maps an export mime type to the converted content.
	Exports map[string][]byte
}

type fakeSession struct {
	fileID   string
	name     string
	parentID string
	mime     string
	data     []byte
	aborted  bool
}

// fakeDrive serves the subset of the Drive v3 REST API the provider uses.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	files    map[string]*fakeFile
	order    []string
	sessions map[string]*fakeSession
	nextID   int
	queries  []string
	calls    []string

	// CreateStatus fails folder creation with this status when set.
	CreateStatus int
	// FailChunk fails the n-th upload chunk with a 500.
	FailChunk int
	// CorruptMD5 reports a wrong checksum for uploads.
	CorruptMD5 bool
	// ShortChunk persists only the first half of the n-th upload chunk.
	ShortChunk int
	chunks     int
}

func newFakeDrive(t *testing.T) *fakeDrive {
	d := &fakeDrive{
		t:        t,
		files:    map[string]*fakeFile{},
		sessions: map[string]*fakeSession{},
	}
	d.srv = httptest.NewServer(d)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDrive) add(f *fakeFile) *fakeFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.ID == "" {
		d.nextID++
		f.ID = fmt.Sprintf("id-%d", d.nextID)
	}
	if f.MimeType == "" {
		f.MimeType = "text/plain"
	}
	if f.Version == 0 {
		f.Version = 1
	}
	d.files[f.ID] = f
	d.order = append(d.order, f.ID)
	return f
}

func (d *fakeDrive) get(id string) *fakeFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[id]
}

// children returns the entries under parentID named name.
func (d *fakeDrive) children(parentID, name string) []*fakeFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeFile
	for _, id := range d.order {
		f := d.files[id]
		if f != nil && contains(f.Parents, parentID) && (name == "" || f.Name == name) {
			out = append(out, f)
		}
	}
	return out
}

func (d *fakeDrive) callCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDrive) recordedQueries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

func (d *fakeDrive) isDoc(f *fakeFile) bool {
	return reconcile.DocsFormats.IsConvertible(f.MimeType)
}

func (d *fakeDrive) toDrive(f *fakeFile) *drive.File {
	out := &drive.File{
		Id:           f.ID,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Parents:      f.Parents,
		Version:      f.Version,
		ModifiedTime: testModified,
		CreatedTime:  testModified,
		WebViewLink:  "https://drive.example.com/" + f.ID,
		Capabilities: &drive.FileCapabilities{CanEdit: f.CanEdit},
	}
	if f.MimeType != reconcile.MimeFolder && !d.isDoc(f) {
		out.Size = int64(len(f.Content))
		sum := md5.Sum(f.Content)
		out.Md5Checksum = hex.EncodeToString(sum[:])
	}
	if len(f.Exports) > 0 {
		out.ExportLinks = map[string]string{}
		for mime := range f.Exports {
			out.ExportLinks[mime] = d.srv.URL + "/export/" + f.ID + "?mimeType=" + url.QueryEscape(mime)
		}
	}
	return out
}

var (
	nameRe   = regexp.MustCompile(`^name = '((?:[^'\\]|\\.)*)'`)
	parentRe = regexp.MustCompile(`'([^']+)' in parents`)
	mimeEqRe = regexp.MustCompile(`mimeType = '([^']+)'`)
	mimeNeRe = regexp.MustCompile(`mimeType != '([^']+)'`)
)

func unescapeQuery(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (d *fakeDrive) match(q string, f *fakeFile) bool {
	if m := parentRe.FindStringSubmatch(q); m == nil || !contains(f.Parents, m[1]) {
		return false
	}
	if m := nameRe.FindStringSubmatch(q); m != nil && unescapeQuery(m[1]) != f.Name {
		return false
	}
	for _, m := range mimeEqRe.FindAllStringSubmatch(q, -1) {
		if f.MimeType != m[1] {
			return false
		}
	}
	for _, m := range mimeNeRe.FindAllStringSubmatch(q, -1) {
		if f.MimeType == m[1] {
			return false
		}
	}
	return true
}

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, r.Method+" "+r.URL.Path)

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files"):
		d.serveUpload(w, r, strings.Trim(strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files"), "/"))
	case strings.HasPrefix(r.URL.Path, "/export/"):
		d.serveExport(w, r, strings.TrimPrefix(r.URL.Path, "/export/"))
	case strings.HasPrefix(r.URL.Path, "/drive/v3/files"):
		d.serveFiles(w, r, strings.Trim(strings.TrimPrefix(r.URL.Path, "/drive/v3/files"), "/"))
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDrive) serveFiles(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		d.list(w, r)
	case rest == "" && r.Method == http.MethodPost:
		d.create(w, r)
	case len(parts) == 1:
		f := d.files[parts[0]]
		if f == nil {
			writeError(w, http.StatusNotFound, "File not found: "+parts[0])
			return
		}
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("alt") == "media" {
				writeContent(w, r, f.Content)
				return
			}
			writeJSON(w, http.StatusOK, d.toDrive(f))
		case http.MethodPatch:
			d.update(w, r, f)
		case http.MethodDelete:
			d.remove(f.ID)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "copy" && r.Method == http.MethodPost:
		d.copyFile(w, r, parts[0])
	case len(parts) >= 2 && parts[1] == "revisions":
		d.serveRevisions(w, r, parts[0], parts[2:])
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	d.queries = append(d.queries, q)

	var matched []*drive.File
	for _, id := range d.order {
		if f := d.files[id]; f != nil && d.match(q, f) {
			matched = append(matched, d.toDrive(f))
		}
	}

	start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if size <= 0 {
		size = len(matched) + 1
	}
	end := start + size
	out := &drive.FileList{}
	if end < len(matched) {
		out.NextPageToken = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	if start < end {
		out.Files = matched[start:end]
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	if d.CreateStatus != 0 {
		writeError(w, d.CreateStatus, "cannot create")
		return
	}
	var in drive.File
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.nextID++
	f := &fakeFile{
		ID:       fmt.Sprintf("id-%d", d.nextID),
		Name:     in.Name,
		MimeType: in.MimeType,
		Parents:  in.Parents,
		Version:  1,
	}
	d.files[f.ID] = f
	d.order = append(d.order, f.ID)
	writeJSON(w, http.StatusOK, d.toDrive(f))
}

func (d *fakeDrive) update(w http.ResponseWriter, r *http.Request, f *fakeFile) {
	var in drive.File
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Name != "" {
		f.Name = in.Name
	}
	q := r.URL.Query()
	if remove := q.Get("removeParents"); remove != "" {
		var kept []string
		for _, p := range f.Parents {
			if p != remove {
				kept = append(kept, p)
			}
		}
		f.Parents = kept
	}
	if add := q.Get("addParents"); add != "" {
		f.Parents = append(f.Parents, add)
	}
	f.Version++
	writeJSON(w, http.StatusOK, d.toDrive(f))
}

func (d *fakeDrive) copyFile(w http.ResponseWriter, r *http.Request, id string) {
	src := d.files[id]
	if src == nil {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	var in drive.File
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.nextID++
	f := *src
	f.ID = fmt.Sprintf("id-%d", d.nextID)
	f.Version = 1
	if in.Name != "" {
		f.Name = in.Name
	}
	if len(in.Parents) > 0 {
		f.Parents = in.Parents
	}
	d.files[f.ID] = &f
	d.order = append(d.order, f.ID)
	writeJSON(w, http.StatusOK, d.toDrive(&f))
}

func (d *fakeDrive) remove(id string) {
	delete(d.files, id)
	for childID, f := range d.files {
		if contains(f.Parents, id) {
			d.remove(childID)
		}
	}
}

func (d *fakeDrive) serveRevisions(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	f := d.files[id]
	if f == nil {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	if len(rest) == 0 {
		if f.RevisionsStatus != 0 {
			writeError(w, f.RevisionsStatus, "The authenticated user does not have the required access")
			return
		}
		writeJSON(w, http.StatusOK, &drive.RevisionList{Revisions: f.Revisions})
		return
	}
	for _, rev := range f.Revisions {
		if rev.Id != rest[0] {
			continue
		}
		if r.URL.Query().Get("alt") == "media" {
			writeContent(w, r, f.RevisionContent[rev.Id])
			return
		}
		writeJSON(w, http.StatusOK, rev)
		return
	}
	writeError(w, http.StatusNotFound, "Revision not found: "+rest[0])
}

func (d *fakeDrive) serveExport(w http.ResponseWriter, r *http.Request, id string) {
	f := d.files[id]
	if f == nil {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	body, ok := f.Exports[r.URL.Query().Get("mimeType")]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported export")
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func (d *fakeDrive) serveUpload(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPost, http.MethodPatch:
		if r.URL.Query().Get("uploadType") != "resumable" {
			writeError(w, http.StatusBadRequest, "expected a resumable upload")
			return
		}
		var in drive.File
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s := &fakeSession{fileID: id, name: in.Name, mime: r.Header.Get("X-Upload-Content-Type")}
		if len(in.Parents) > 0 {
			s.parentID = in.Parents[0]
		}
		token := fmt.Sprintf("session-%d", len(d.sessions)+1)
		d.sessions[token] = s
		w.Header().Set("Location", d.srv.URL+"/upload/drive/v3/files?uploadType=resumable&upload_id="+token)
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		d.putChunk(w, r)
	case http.MethodDelete:
		if s := d.sessions[r.URL.Query().Get("upload_id")]; s != nil {
			s.aborted = true
		}
		w.WriteHeader(499)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *fakeDrive) putChunk(w http.ResponseWriter, r *http.Request) {
	s := d.sessions[r.URL.Query().Get("upload_id")]
	if s == nil || s.aborted {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	d.chunks++
	if d.FailChunk != 0 && d.chunks == d.FailChunk {
		writeError(w, http.StatusInternalServerError, "backend error")
		return
	}

	contentRange := r.Header.Get("Content-Range")
	var start int
	if _, err := fmt.Sscanf(contentRange, "bytes %d-", &start); err == nil && start != len(s.data) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("chunk starts at %d, session holds %d", start, len(s.data)))
		return
	}

	body, _ := io.ReadAll(r.Body)
	if d.ShortChunk != 0 && d.chunks == d.ShortChunk && len(body) > 1 {
		body = body[:len(body)/2]
	}
	s.data = append(s.data, body...)

	total := contentRange[strings.LastIndex(contentRange, "/")+1:]
	if total == "*" || strconv.Itoa(len(s.data)) != total {
		if len(s.data) > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(s.data)-1))
		}
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}

	var f *fakeFile
	if s.fileID != "" {
		f = d.files[s.fileID]
		f.Content = s.data
		f.Version++
	} else {
		d.nextID++
		f = &fakeFile{
			ID:       fmt.Sprintf("id-%d", d.nextID),
			Name:     s.name,
			MimeType: s.mime,
			Parents:  []string{s.parentID},
			Content:  s.data,
			Version:  1,
		}
		if f.MimeType == "" {
			f.MimeType = "application/octet-stream"
		}
		d.files[f.ID] = f
		d.order = append(d.order, f.ID)
	}
	out := d.toDrive(f)
	if d.CorruptMD5 {
		out.Md5Checksum = "00000000000000000000000000000000"
	}
	writeJSON(w, http.StatusOK, out)
}

func writeContent(w http.ResponseWriter, r *http.Request, body []byte) {
	var start, end int
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err == nil {
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[start : end+1])
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{"code": status, "message": message},
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
