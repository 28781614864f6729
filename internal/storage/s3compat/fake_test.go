package s3compat

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type fakeObject struct {
	body     []byte
	etag     string
	modified time.Time
	sse      s3types.ServerSideEncryption
	version  string
}

// fakeS3 is an in-memory S3 keyed by "bucket/key".
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	history map[string][]*fakeObject

	// versioned assigns v1, v2, ... instead of "null".
	versioned bool
	// noVersions makes ListObjectVersions fail like MinIO.
	noVersions bool
	// hideMarkers omits "/" keys from prefix listings.
	hideMarkers bool
	// badETag corrupts the ETag returned by PutObject.
	badETag bool
	// pageSize splits listings into pages when set.
	pageSize int
	// failPart fails that multipart part number.
	failPart int32

	uploads map[string]map[int32][]byte
	nextID  int
	aborted []string
	deleted []string
	calls   map[string]int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: map[string]*fakeObject{},
		history: map[string][]*fakeObject{},
		uploads: map[string]map[int32][]byte{},
		calls:   map[string]int{},
	}
}

func (f *fakeS3) put(bucket, key, body string) *fakeS3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(bucket, key, []byte(body), "")
	return f
}

func (f *fakeS3) store(bucket, key string, body []byte, sse s3types.ServerSideEncryption) *fakeObject {
	sum := md5.Sum(body)
	obj := &fakeObject{
		body:     append([]byte(nil), body...),
		etag:     `"` + hex.EncodeToString(sum[:]) + `"`,
		modified: time.Date(2026, 3, 1, 12, 0, len(f.history[bucket+"/"+key]), 0, time.UTC),
		sse:      sse,
		version:  "null",
	}
	if f.versioned {
		f.nextID++
		obj.version = "v" + strconv.Itoa(f.nextID)
	}
	f.objects[bucket+"/"+key] = obj
	f.history[bucket+"/"+key] = append(f.history[bucket+"/"+key], obj)
	return obj
}

func (f *fakeS3) get(bucket, key string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj, ok
}

func (f *fakeS3) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeS3) called(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func httpError(status int, err error) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      err,
	}
}

func noSuchKey() error {
	return httpError(404, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")})
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.called("HeadObject")
	obj, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if ok && in.VersionId != nil {
		obj, ok = f.version(aws.ToString(in.Bucket), aws.ToString(in.Key), *in.VersionId)
	}
	if !ok {
		return nil, httpError(404, &s3types.NotFound{})
	}
	return &s3.HeadObjectOutput{
		ContentLength:        aws.Int64(int64(len(obj.body))),
		ContentType:          aws.String(detectContentType(aws.ToString(in.Key))),
		ETag:                 aws.String(obj.etag),
		LastModified:         aws.Time(obj.modified),
		ServerSideEncryption: obj.sse,
		VersionId:            aws.String(obj.version),
	}, nil
}

func (f *fakeS3) version(bucket, key, id string) (*fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range f.history[bucket+"/"+key] {
		if obj.version == id {
			return obj, true
		}
	}
	return nil, false
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.called("GetObject")
	obj, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, noSuchKey()
	}
	body := obj.body
	out := &s3.GetObjectOutput{ContentType: aws.String("application/octet-stream")}
	if in.Range != nil {
		value := strings.TrimPrefix(*in.Range, "bytes=")
		from, to, _ := strings.Cut(value, "-")
		start, _ := strconv.Atoi(from)
		end := len(body) - 1
		if to != "" {
			end, _ = strconv.Atoi(to)
		}
		out.ContentRange = aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		body = body[start : end+1]
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = aws.Int64(int64(len(body)))
	return out, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.called("PutObject")
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentLength != nil && *in.ContentLength != int64(len(body)) {
		return nil, httpError(400, &smithy.GenericAPIError{Code: "IncompleteBody"})
	}
	f.mu.Lock()
	obj := f.store(aws.ToString(in.Bucket), aws.ToString(in.Key), body, in.ServerSideEncryption)
	f.mu.Unlock()
	etag := obj.etag
	if f.badETag {
		etag = `"00000000000000000000000000000000"`
	}
	return &s3.PutObjectOutput{ETag: aws.String(etag), VersionId: aws.String(obj.version)}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.called("DeleteObject")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.called("CopyObject")
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	bucket, key, _ := strings.Cut(source, "/")
	obj, ok := f.get(bucket, key)
	if !ok {
		return nil, noSuchKey()
	}
	f.mu.Lock()
	f.store(aws.ToString(in.Bucket), aws.ToString(in.Key), obj.body, in.ServerSideEncryption)
	f.mu.Unlock()
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) keys(bucket, prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.called("ListObjectsV2")
	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}

	limit := f.pageSize
	if in.MaxKeys != nil && (limit == 0 || int(*in.MaxKeys) < limit) {
		limit = int(*in.MaxKeys)
	}
	after := aws.ToString(in.ContinuationToken)

	for _, key := range f.keys(aws.ToString(in.Bucket), prefix) {
		if delimiter != "" {
			if i := strings.Index(key[len(prefix):], delimiter); i >= 0 {
				cp := key[:len(prefix)+i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		if f.hideMarkers && strings.HasSuffix(key, "/") {
			continue
		}
		if after != "" && key <= after {
			continue
		}
		if limit > 0 && len(out.Contents) == limit {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = out.Contents[len(out.Contents)-1].Key
			break
		}
		obj, _ := f.get(aws.ToString(in.Bucket), key)
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.body))),
			ETag:         aws.String(obj.etag),
			LastModified: aws.Time(obj.modified),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents) + len(out.CommonPrefixes)))
	return out, nil
}

func (f *fakeS3) ListObjectVersions(ctx context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.called("ListObjectVersions")
	if f.noVersions {
		return nil, httpError(501, &smithy.GenericAPIError{Code: "NotImplemented", Message: "A header you provided implies functionality that is not implemented"})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectVersionsOutput{IsTruncated: aws.Bool(false)}
	var names []string
	for k := range f.history {
		b, key, _ := strings.Cut(k, "/")
		if b == aws.ToString(in.Bucket) && strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	for _, key := range names {
		history := f.history[aws.ToString(in.Bucket)+"/"+key]
		for i := len(history) - 1; i >= 0; i-- {
			out.Versions = append(out.Versions, s3types.ObjectVersion{
				Key:          aws.String(key),
				VersionId:    aws.String(history[i].version),
				ETag:         aws.String(history[i].etag),
				LastModified: aws.Time(history[i].modified),
				IsLatest:     aws.Bool(i == len(history)-1),
			})
		}
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.called("CreateMultipartUpload")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "upload-" + strconv.Itoa(f.nextID)
	f.uploads[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.called("UploadPart")
	number := aws.ToInt32(in.PartNumber)
	if f.failPart != 0 && number == f.failPart {
		return nil, httpError(400, &smithy.GenericAPIError{Code: "InvalidPart"})
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, httpError(404, &s3types.NoSuchUpload{})
	}
	parts[number] = body
	sum := md5.Sum(body)
	return &s3.UploadPartOutput{ETag: aws.String(`"` + hex.EncodeToString(sum[:]) + `"`)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.called("CompleteMultipartUpload")
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, httpError(404, &s3types.NoSuchUpload{})
	}
	var body []byte
	for _, part := range in.MultipartUpload.Parts {
		body = append(body, parts[aws.ToInt32(part.PartNumber)]...)
	}
	delete(f.uploads, aws.ToString(in.UploadId))
	obj := f.store(aws.ToString(in.Bucket), aws.ToString(in.Key), body, "")
	obj.etag = fmt.Sprintf(`"%s-%d"`, strings.Trim(obj.etag, `"`), len(in.MultipartUpload.Parts))
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(obj.etag)}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.called("AbortMultipartUpload")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.aborted = append(f.aborted, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}
