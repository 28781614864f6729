package s3compat

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/west1636/RDM-waterbutler/internal/provider"
	"github.com/west1636/RDM-waterbutler/internal/reconcile"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
	"github.com/west1636/RDM-waterbutler/pkg/metadata"
	"github.com/west1636/RDM-waterbutler/pkg/path"
	"github.com/west1636/RDM-waterbutler/pkg/retry"
)

var ctx = context.Background()

var testCreds = Credentials{AccessKey: "AKIA", SecretKey: "secret", Host: "s3.example.com"}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ContiguousLimit = 8
	cfg.ChunkSize = 4
	cfg.DeleteConcurrency = 2
	cfg.Retry = retry.Config{MaxAttempts: 1}
	return cfg
}

func newTestProvider(t *testing.T, api API, settings Settings, cfg Config) *Provider {
	t.Helper()
	p, err := NewWithAPI(api, testCreds, settings, cfg)
	require.NoError(t, err)
	return p
}

func mustPath(t *testing.T, p *Provider, raw string) *path.Path {
	t.Helper()
	wb, err := p.ValidatePath(ctx, raw)
	require.NoError(t, err)
	return wb
}

func stream(body string) *provider.Stream {
	return provider.NewStream(strings.NewReader(body), int64(len(body)))
}

func TestCredentialsEndpoint(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"s3.example.com", "https://s3.example.com"},
		{"s3.example.com:443", "https://s3.example.com"},
		{"minio.local:9000", "http://minio.local:9000"},
		{"http://minio.local:9000/", "http://minio.local:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, Credentials{Host: tt.host}.Endpoint())
		})
	}
}

func TestParseCredentialsAndSettings(t *testing.T) {
	_, err := ParseCredentials(json.RawMessage(`{"access_key":"a"}`))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
	assert.Contains(t, err.Error(), "secret_key, host")

	creds, err := ParseCredentials(json.RawMessage(`{"access_key":"a","secret_key":"b","host":"h:8080"}`))
	require.NoError(t, err)
	assert.Equal(t, "http://h:8080", creds.Endpoint())

	_, err = ParseSettings(json.RawMessage(`{"prefix":"x"}`))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	settings, err := ParseSettings(json.RawMessage(`{"bucket":"b","encrypt_uploads":true}`))
	require.NoError(t, err)
	p := newTestProvider(t, newFakeS3(), settings, testConfig())
	assert.True(t, p.encrypt)
}

func TestValidatePathKeepsPrefixOutOfMaterialized(t *testing.T) {
	p := newTestProvider(t, newFakeS3(), Settings{Bucket: "b", Prefix: "/pre/"}, testConfig())
	wb := mustPath(t, p, "/docs/a.txt")
	assert.Equal(t, "/docs/a.txt", wb.String())
	assert.Equal(t, "pre/docs/a.txt", objectKey(wb))
	assert.Equal(t, "pre/", objectKey(mustPath(t, p, "/")))
}

func TestValidateV1Path(t *testing.T) {
	api := newFakeS3().
		put("b", "a.txt", "a").
		put("b", "marker/", "").
		put("b", "implied/child.txt", "c")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	for _, raw := range []string{"/", "/a.txt", "/marker/", "/implied/"} {
		_, err := p.ValidateV1Path(ctx, raw)
		assert.NoError(t, err, raw)
	}
	for _, raw := range []string{"/missing.txt", "/missing/", "/a.txt/", "/marker"} {
		_, err := p.ValidateV1Path(ctx, raw)
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), raw)
	}
}

func TestValidateV1PathHiddenMarker(t *testing.T) {
	api := newFakeS3().put("b", "empty/", "")
	api.hideMarkers = true
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	_, err := p.ValidateV1Path(ctx, "/empty/")
	assert.NoError(t, err)
}

func TestMetadataFile(t *testing.T) {
	api := newFakeS3().put("b", "pre/a.txt", "hello")
	p := newTestProvider(t, api, Settings{Bucket: "b", Prefix: "pre"}, testConfig())

	md, err := p.Metadata(ctx, mustPath(t, p, "/a.txt"), provider.MetadataOptions{})
	require.NoError(t, err)
	file := md.(*metadata.File)
	size, ok := file.Size()
	assert.True(t, ok)
	assert.EqualValues(t, 5, size)
	assert.Equal(t, "/a.txt", file.MaterializedPath())
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", file.Hashes()["md5"])
	assert.Equal(t, "s3compat", file.Provider())
	assert.True(t, strings.HasSuffix(file.Extra()["version"].(string), reconcile.IgnoreVersion))

	_, err = p.Metadata(ctx, mustPath(t, p, "/nope.txt"), provider.MetadataOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Equal(t, 404, errors.StatusCode(err))
}

func TestMetadataFolderListsImmediateChildren(t *testing.T) {
	api := newFakeS3().
		put("b", "docs/", "").
		put("b", "docs/a.txt", "aaa").
		put("b", "docs/c.txt", "c").
		put("b", "docs/sub/", "").
		put("b", "docs/sub/b.txt", "b").
		put("b", "docs/implied/deep/x.txt", "x")
	api.pageSize = 2
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	md, err := p.Metadata(ctx, mustPath(t, p, "/docs/"), provider.MetadataOptions{})
	require.NoError(t, err)
	folder := md.(*metadata.Folder)
	assert.True(t, folder.Listed())
	assert.Equal(t, "/docs/", folder.MaterializedPath())

	var names []string
	for _, child := range folder.Children() {
		names = append(names, child.MaterializedPath())
	}
	assert.Equal(t, []string{"/docs/a.txt", "/docs/c.txt", "/docs/implied/", "/docs/sub/"}, names)
	assert.Equal(t, metadata.KindFolder, folder.Children()[2].Kind())
}

func TestMetadataFolderMissingAndEmpty(t *testing.T) {
	api := newFakeS3().put("b", "empty/", "")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	md, err := p.Metadata(ctx, mustPath(t, p, "/empty/"), provider.MetadataOptions{})
	require.NoError(t, err)
	assert.Empty(t, provider.Children(md))

	_, err = p.Metadata(ctx, mustPath(t, p, "/missing/"), provider.MetadataOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	root, err := p.Metadata(ctx, mustPath(t, p, "/"), provider.MetadataOptions{})
	require.NoError(t, err)
	assert.Len(t, provider.Children(root), 1)
}

func TestDownload(t *testing.T) {
	api := newFakeS3().put("b", "two.bin", "ab")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	s, err := p.Download(ctx, mustPath(t, p, "/two.bin"), provider.DownloadOptions{Range: &provider.Range{Start: 0, End: 1}})
	require.NoError(t, err)
	body, err := io.ReadAll(s)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "a", string(body))
	assert.True(t, s.Partial)

	s, err = p.Download(ctx, mustPath(t, p, "/two.bin"), provider.DownloadOptions{Revision: "latest"})
	require.NoError(t, err)
	assert.False(t, s.Partial)
	assert.EqualValues(t, 2, s.Size)

	_, err = p.Download(ctx, mustPath(t, p, "/dir/"), provider.DownloadOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDownload))
	assert.Equal(t, 400, errors.StatusCode(err))

	_, err = p.Download(ctx, mustPath(t, p, "/missing.bin"), provider.DownloadOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestUploadContiguous(t *testing.T) {
	api := newFakeS3()
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())
	wb := mustPath(t, p, "/a.txt")

	md, created, err := p.Upload(ctx, stream("one"), wb, provider.UploadOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/a.txt", md.MaterializedPath())

	_, created, err = p.Upload(ctx, stream("two"), wb, provider.UploadOptions{Conflict: provider.ConflictReplace})
	require.NoError(t, err)
	assert.False(t, created)
	obj, _ := api.get("b", "a.txt")
	assert.Equal(t, "two", string(obj.body))

	md, created, err = p.Upload(ctx, stream("three"), wb, provider.UploadOptions{Conflict: provider.ConflictKeep})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/a (1).txt", md.MaterializedPath())

	_, _, err = p.Upload(ctx, stream("four"), wb, provider.UploadOptions{Conflict: provider.ConflictWarn})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNamingConflict))
	assert.Equal(t, 409, errors.StatusCode(err))
	assert.Equal(t, 0, api.count("CreateMultipartUpload"))
}

func TestUploadChecksumMismatch(t *testing.T) {
	api := newFakeS3()
	api.badETag = true
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	_, _, err := p.Upload(ctx, stream("data"), mustPath(t, p, "/a.txt"), provider.UploadOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataIntegrity))
}

func TestUploadEncrypted(t *testing.T) {
	api := newFakeS3()
	api.badETag = true
	encrypt := true
	p := newTestProvider(t, api, Settings{Bucket: "b", EncryptUploads: &encrypt}, testConfig())

	md, _, err := p.Upload(ctx, stream("data"), mustPath(t, p, "/a.txt"), provider.UploadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "AES256", md.Extra()["encryption"])
}

func TestUploadMultipart(t *testing.T) {
	api := newFakeS3()
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	_, created, err := p.Upload(ctx, stream("0123456789"), mustPath(t, p, "/big.bin"), provider.UploadOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 3, api.count("UploadPart"))
	obj, ok := api.get("b", "big.bin")
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(obj.body))
	assert.Equal(t, 0, api.count("PutObject"))
}

func TestUploadMultipartAbortsOnFailure(t *testing.T) {
	api := newFakeS3()
	api.failPart = 2
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	_, _, err := p.Upload(ctx, stream("0123456789"), mustPath(t, p, "/big.bin"), provider.UploadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUpload))
	assert.Len(t, api.aborted, 1)
	_, ok := api.get("b", "big.bin")
	assert.False(t, ok)
}

func TestUploadUnknownSize(t *testing.T) {
	api := newFakeS3()
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	s := provider.NewStream(io.NopCloser(strings.NewReader("streamed body")), -1)
	_, created, err := p.Upload(ctx, s, mustPath(t, p, "/s.txt"), provider.UploadOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	obj, ok := api.get("b", "s.txt")
	require.True(t, ok)
	assert.Equal(t, "streamed body", string(obj.body))
}

func TestUploadTooLarge(t *testing.T) {
	api := newFakeS3()
	cfg := testConfig()
	cfg.MaxUploadSize = 3
	p := newTestProvider(t, api, Settings{Bucket: "b"}, cfg)

	_, _, err := p.Upload(ctx, stream("four"), mustPath(t, p, "/a.txt"), provider.UploadOptions{})
	assert.Equal(t, 413, errors.StatusCode(err))
	assert.Zero(t, api.count("HeadObject"))
	assert.Zero(t, api.count("PutObject"))
}

func TestDeleteFile(t *testing.T) {
	api := newFakeS3().put("b", "a.txt", "a")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	err := p.Delete(ctx, mustPath(t, p, "/missing.txt"), provider.DeleteOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Zero(t, api.count("DeleteObject"))

	require.NoError(t, p.Delete(ctx, mustPath(t, p, "/a.txt"), provider.DeleteOptions{}))
	_, ok := api.get("b", "a.txt")
	assert.False(t, ok)
}

func TestDeleteFolder(t *testing.T) {
	api := newFakeS3().
		put("b", "pre/dir/", "").
		put("b", "pre/dir/a.txt", "a").
		put("b", "pre/dir/sub/b.txt", "b").
		put("b", "pre/dirt.txt", "keep")
	p := newTestProvider(t, api, Settings{Bucket: "b", Prefix: "pre"}, testConfig())

	require.NoError(t, p.Delete(ctx, mustPath(t, p, "/dir/"), provider.DeleteOptions{}))
	assert.ElementsMatch(t, []string{"pre/dir/", "pre/dir/a.txt", "pre/dir/sub/b.txt"}, api.deleted)
	_, ok := api.get("b", "pre/dirt.txt")
	assert.True(t, ok)
}

func TestDeleteFolderMarkerFallback(t *testing.T) {
	api := newFakeS3().put("b", "empty/", "")
	api.hideMarkers = true
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	require.NoError(t, p.Delete(ctx, mustPath(t, p, "/empty/"), provider.DeleteOptions{}))
	assert.Equal(t, []string{"empty/"}, api.deleted)

	err := p.Delete(ctx, mustPath(t, p, "/missing/"), provider.DeleteOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	assert.Len(t, api.deleted, 1)
}

func TestDeleteRootRequiresConfirm(t *testing.T) {
	api := newFakeS3().put("b", "a.txt", "a")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	err := p.Delete(ctx, mustPath(t, p, "/"), provider.DeleteOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDelete))
	assert.Equal(t, 400, errors.StatusCode(err))
	assert.Zero(t, api.count("DeleteObject"))

	require.NoError(t, p.Delete(ctx, mustPath(t, p, "/"), provider.DeleteOptions{Confirm: true}))
	assert.Equal(t, []string{"a.txt"}, api.deleted)
}

func TestCreateFolder(t *testing.T) {
	api := newFakeS3()
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	folder, err := p.CreateFolder(ctx, mustPath(t, p, "/new/"), provider.CreateFolderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/new/", folder.MaterializedPath())
	_, ok := api.get("b", "new/")
	assert.True(t, ok)

	_, err = p.CreateFolder(ctx, mustPath(t, p, "/new/"), provider.CreateFolderOptions{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeFolderNamingConflict))
	assert.Equal(t, 409, errors.StatusCode(err))

	_, err = p.CreateFolder(ctx, mustPath(t, p, "/new/"), provider.CreateFolderOptions{SkipPrecheck: true})
	assert.NoError(t, err)

	_, err = p.CreateFolder(ctx, mustPath(t, p, "/file"), provider.CreateFolderOptions{})
	assert.Equal(t, 400, errors.StatusCode(err))
}

func TestRevisions(t *testing.T) {
	api := newFakeS3()
	api.versioned = true
	api.put("b", "a.txt", "1").put("b", "a.txt", "2").put("b", "a.txt.bak", "x")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	revs, err := p.Revisions(ctx, mustPath(t, p, "/a.txt"))
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, "v2", revs[0].Version())
	assert.Equal(t, "v1", revs[1].Version())

	md, err := p.Metadata(ctx, mustPath(t, p, "/a.txt"), provider.MetadataOptions{Revision: "v1"})
	require.NoError(t, err)
	size, _ := md.(*metadata.File).Size()
	assert.EqualValues(t, 1, size)
}

func TestRevisionsUnversioned(t *testing.T) {
	api := newFakeS3().put("b", "a.txt", "1")
	p := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())

	revs, err := p.Revisions(ctx, mustPath(t, p, "/a.txt"))
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.True(t, strings.HasSuffix(revs[0].Version(), reconcile.IgnoreVersion))

	api.noVersions = true
	revs, err = p.Revisions(ctx, mustPath(t, p, "/a.txt"))
	require.NoError(t, err)
	assert.Empty(t, revs)
}

func TestIntraCopyAndMove(t *testing.T) {
	api := newFakeS3().put("src", "a.txt", "payload")
	src := newTestProvider(t, api, Settings{Bucket: "src"}, testConfig())
	dst := newTestProvider(t, api, Settings{Bucket: "dst", Prefix: "in"}, testConfig())

	srcPath := mustPath(t, src, "/a.txt")
	assert.True(t, src.CanIntraCopy(dst, srcPath))
	assert.False(t, src.CanIntraCopy(dst, mustPath(t, src, "/dir/")))
	assert.False(t, src.SharesStorageRoot(dst))

	md, created, err := src.IntraCopy(ctx, dst, srcPath, mustPath(t, dst, "/b.txt"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/b.txt", md.MaterializedPath())
	obj, ok := api.get("dst", "in/b.txt")
	require.True(t, ok)
	assert.Equal(t, "payload", string(obj.body))

	_, created, err = src.IntraMove(ctx, dst, srcPath, mustPath(t, dst, "/b.txt"))
	require.NoError(t, err)
	assert.False(t, created)
	_, ok = api.get("src", "a.txt")
	assert.False(t, ok)
}

func TestCanIntraCopyNeedsSameCredentials(t *testing.T) {
	api := newFakeS3()
	a := newTestProvider(t, api, Settings{Bucket: "b"}, testConfig())
	other, err := NewWithAPI(api, Credentials{AccessKey: "OTHER", SecretKey: "s", Host: testCreds.Host}, Settings{Bucket: "b"}, testConfig())
	require.NoError(t, err)

	assert.False(t, a.CanIntraCopy(other, mustPath(t, a, "/a.txt")))
	assert.True(t, a.SharesStorageRoot(other))
}

func TestCopyFolderAcrossBuckets(t *testing.T) {
	api := newFakeS3().
		put("src", "dir/", "").
		put("src", "dir/a.txt", "a").
		put("src", "dir/sub/b.txt", "b")
	src := newTestProvider(t, api, Settings{Bucket: "src"}, testConfig())
	dst, err := NewWithAPI(api, Credentials{AccessKey: "OTHER", SecretKey: "s", Host: "other.example.com"}, Settings{Bucket: "dst"}, testConfig())
	require.NoError(t, err)

	md, created, err := provider.Copy(ctx, src, dst, mustPath(t, src, "/dir/"), mustPath(t, dst, "/"), provider.CopyOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "/dir/", md.MaterializedPath())

	for _, key := range []string{"dir/", "dir/a.txt", "dir/sub/", "dir/sub/b.txt"} {
		_, ok := api.get("dst", key)
		assert.True(t, ok, key)
	}
	assert.Zero(t, api.count("CopyObject"))
}
