package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Store used by tests across packages. It keeps
// the uploads it has opened and the parts it has received, and can be
// told to fail specific operations.
type Fake struct {
	mu sync.Mutex

	uploads map[string]*fakeUpload
	nextID  int

	// Failure injection. A non-nil error makes the operation fail.
	CreateErr   error
	UploadErr   error
	ListErr     error
	CompleteErr error
	AbortErr    error

	Aborted   []Upload
	Completed []Upload
}

type fakeUpload struct {
	up          Upload
	contentType string
	parts       map[int]PartInfo
	done        bool
}

// NewFake returns an empty fake store.
func NewFake() *Fake {
	return &Fake{uploads: make(map[string]*fakeUpload)}
}

func (f *Fake) key(up Upload) string {
	return up.Bucket + "/" + up.Key + "/" + up.UploadID
}

func (f *Fake) CreateMultipartUpload(_ context.Context, bucket, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	uploadID := fmt.Sprintf("fake-upload-%d", f.nextID)
	up := Upload{Bucket: bucket, Key: key, UploadID: uploadID}
	f.uploads[f.key(up)] = &fakeUpload{
		up:          up,
		contentType: contentType,
		parts:       make(map[int]PartInfo),
	}
	return uploadID, nil
}

func (f *Fake) PresignUploadPart(up Upload, partNumber int, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://fake.store/%s/%s?uploadId=%s&partNumber=%d&expires=%d",
		up.Bucket, up.Key, up.UploadID, partNumber, int(expiry.Seconds())), nil
}

func (f *Fake) UploadPart(_ context.Context, up Upload, partNumber int, body io.ReadSeeker) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	u, ok := f.uploads[f.key(up)]
	if !ok {
		return "", fmt.Errorf("NoSuchUpload: %s", up.UploadID)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	u.parts[partNumber] = PartInfo{Number: partNumber, ETag: etag, Size: int64(len(data))}
	return etag, nil
}

// PutPart records a part without going through UploadPart, for tests
// exercising the presigned flow where bytes bypass the coordinator.
func (f *Fake) PutPart(up Upload, partNumber int, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[f.key(up)]
	if !ok {
		return ""
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	u.parts[partNumber] = PartInfo{Number: partNumber, ETag: etag, Size: int64(len(data))}
	return etag
}

func (f *Fake) ListParts(_ context.Context, up Upload) ([]PartInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	u, ok := f.uploads[f.key(up)]
	if !ok {
		return nil, fmt.Errorf("NoSuchUpload: %s", up.UploadID)
	}
	parts := make([]PartInfo, 0, len(u.parts))
	for _, p := range u.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

func (f *Fake) CompleteMultipartUpload(_ context.Context, up Upload, parts []CompletedPart) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CompleteErr != nil {
		return "", f.CompleteErr
	}
	u, ok := f.uploads[f.key(up)]
	if !ok {
		return "", fmt.Errorf("NoSuchUpload: %s", up.UploadID)
	}
	for i, p := range parts {
		if i > 0 && parts[i-1].Number >= p.Number {
			return "", fmt.Errorf("InvalidPartOrder: part %d after %d", p.Number, parts[i-1].Number)
		}
		got, ok := u.parts[p.Number]
		if !ok || got.ETag != p.ETag {
			return "", fmt.Errorf("InvalidPart: part %d", p.Number)
		}
	}
	u.done = true
	f.Completed = append(f.Completed, up)
	return fmt.Sprintf("https://fake.store/%s/%s", up.Bucket, up.Key), nil
}

func (f *Fake) AbortMultipartUpload(_ context.Context, up Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted = append(f.Aborted, up)
	if f.AbortErr != nil {
		return f.AbortErr
	}
	delete(f.uploads, f.key(up))
	return nil
}

// UploadCount reports how many uploads are still open.
func (f *Fake) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}
