// Package objectstore is the boundary to the S3-compatible object
// store. The coordinator depends on the Store interface only; the S3
// implementation lives in s3.go.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Upload identifies one multipart upload at the object store.
type Upload struct {
	Bucket   string
	Key      string
	UploadID string
}

// PartInfo describes one uploaded part from the store's authoritative
// listing.
type PartInfo struct {
	Number int
	ETag   string
	Size   int64
}

// CompletedPart is one entry of a finalize request.
type CompletedPart struct {
	Number int
	ETag   string
}

// Store abstracts the multipart-upload protocol of the object store.
type Store interface {
	// CreateMultipartUpload opens an upload and returns its upload id.
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)

	// PresignUploadPart mints a time-limited PUT URL for one part.
	PresignUploadPart(up Upload, partNumber int, expiry time.Duration) (string, error)

	// UploadPart transfers part bytes through this process and returns
	// the confirmed ETag.
	UploadPart(ctx context.Context, up Upload, partNumber int, body io.ReadSeeker) (string, error)

	// ListParts returns the authoritative list of received parts.
	ListParts(ctx context.Context, up Upload) ([]PartInfo, error)

	// CompleteMultipartUpload finalizes the upload; parts must be
	// sorted ascending by part number. Returns the object location.
	CompleteMultipartUpload(ctx context.Context, up Upload, parts []CompletedPart) (string, error)

	// AbortMultipartUpload discards the upload and any received parts.
	AbortMultipartUpload(ctx context.Context, up Upload) error
}
