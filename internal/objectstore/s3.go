package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config carries the connection settings for the store endpoint.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

type s3Store struct {
	svc *s3.S3
}

// NewS3 builds a Store backed by an S3-compatible endpoint.
func NewS3(cfg S3Config) (Store, error) {
	creds := credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	if _, err := creds.Get(); err != nil {
		return nil, fmt.Errorf("bad credentials: %w", err)
	}
	sess, err := session.NewSession(&aws.Config{
		Credentials:      creds,
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 session: %w", err)
	}
	return &s3Store{svc: s3.New(sess)}, nil
}

func (st *s3Store) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	out, err := st.svc.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.UploadId), nil
}

func (st *s3Store) PresignUploadPart(up Upload, partNumber int, expiry time.Duration) (string, error) {
	req, _ := st.svc.UploadPartRequest(&s3.UploadPartInput{
		Bucket:     aws.String(up.Bucket),
		Key:        aws.String(up.Key),
		UploadId:   aws.String(up.UploadID),
		PartNumber: aws.Int64(int64(partNumber)),
	})
	return req.Presign(expiry)
}

func (st *s3Store) UploadPart(ctx context.Context, up Upload, partNumber int, body io.ReadSeeker) (string, error) {
	out, err := st.svc.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(up.Bucket),
		Key:        aws.String(up.Key),
		UploadId:   aws.String(up.UploadID),
		PartNumber: aws.Int64(int64(partNumber)),
		Body:       aws.ReadSeekCloser(body),
	})
	if err != nil {
		return "", err
	}
	return NormalizeETag(aws.StringValue(out.ETag)), nil
}

func (st *s3Store) ListParts(ctx context.Context, up Upload) ([]PartInfo, error) {
	var parts []PartInfo
	input := &s3.ListPartsInput{
		Bucket:   aws.String(up.Bucket),
		Key:      aws.String(up.Key),
		UploadId: aws.String(up.UploadID),
	}
	err := st.svc.ListPartsPagesWithContext(ctx, input, func(page *s3.ListPartsOutput, _ bool) bool {
		for _, p := range page.Parts {
			parts = append(parts, PartInfo{
				Number: int(aws.Int64Value(p.PartNumber)),
				ETag:   NormalizeETag(aws.StringValue(p.ETag)),
				Size:   aws.Int64Value(p.Size),
			})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

func (st *s3Store) CompleteMultipartUpload(ctx context.Context, up Upload, parts []CompletedPart) (string, error) {
	completed := make([]*s3.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int64(int64(p.Number)),
		})
	}
	out, err := st.svc.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(up.Bucket),
		Key:             aws.String(up.Key),
		UploadId:        aws.String(up.UploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.Location), nil
}

func (st *s3Store) AbortMultipartUpload(ctx context.Context, up Upload) error {
	_, err := st.svc.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(up.Bucket),
		Key:      aws.String(up.Key),
		UploadId: aws.String(up.UploadID),
	})
	return err
}

// NormalizeETag strips the surrounding quotes S3 wraps ETags in.
func NormalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
