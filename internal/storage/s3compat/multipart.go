package s3compat

import (
	"bytes"
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/west1636/RDM-waterbutler/internal/upload"
	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

// multipart drives an S3 multipart upload as a resumable session. The
// session token is the UploadId; the result is the object ETag.
type multipart struct {
	p           *Provider
	key         string
	contentType string
}

var _ upload.Protocol[string] = (*multipart)(nil)

func (m *multipart) Open(ctx context.Context) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(m.p.bucket),
		Key:         aws.String(m.key),
		ContentType: aws.String(m.contentType),
	}
	if m.p.encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	out, err := m.p.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", m.p.translateError(err, errors.Upload, m.key)
	}
	return aws.ToString(out.UploadId), nil
}

func (m *multipart) UploadPart(ctx context.Context, token string, part upload.Part) (string, *string, error) {
	out, err := m.p.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(m.p.bucket),
		Key:           aws.String(m.key),
		UploadId:      aws.String(token),
		PartNumber:    aws.Int32(int32(part.Number)),
		Body:          bytes.NewReader(part.Data),
		ContentLength: aws.Int64(int64(len(part.Data))),
	})
	if err != nil {
		if isErrorType[*s3types.NoSuchUpload](err) || apiCode(err) == "NoSuchUpload" {
			return "", nil, errors.NewError(errors.ErrCodeUploadSessionExpired, "multipart upload "+token+" no longer exists").WithCause(err)
		}
		return "", nil, m.p.translateError(err, errors.Upload, m.key)
	}
	return aws.ToString(out.ETag), nil, nil
}

func (m *multipart) Finalize(ctx context.Context, token string, parts []upload.CompletedPart, _ *string) (string, error) {
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	completed := make([]s3types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.Number)),
		}
	}
	out, err := m.p.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(m.p.bucket),
		Key:             aws.String(m.key),
		UploadId:        aws.String(token),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", m.p.translateError(err, errors.Upload, m.key)
	}
	return aws.ToString(out.ETag), nil
}

func (m *multipart) Abort(ctx context.Context, token string) error {
	_, err := m.p.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(m.p.bucket),
		Key:      aws.String(m.key),
		UploadId: aws.String(token),
	})
	if err != nil && !isErrorType[*s3types.NoSuchUpload](err) {
		return m.p.translateError(err, errors.Upload, m.key)
	}
	return nil
}
