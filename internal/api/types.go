// Package api holds the wire types shared by the coordinator's HTTP
// surface and the client uploader.
package api

// InitResponse is returned when a new upload session is opened.
type InitResponse struct {
	SessionID string `json:"sessionId"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	UploadID  string `json:"uploadId"`
	// Server hints the client is free to ignore.
	PartSize    int64 `json:"partSize"`
	Concurrency int   `json:"concurrency"`
}

// SignedPart is one authorized part: either a presigned store URL or a
// coordinator endpoint, depending on the transport variant.
type SignedPart struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
	Method     string `json:"method"`
}

// SignResponse lists the authorized parts. An empty Parts slice with a
// 200 status means the session is already gone (presigned variant
// only); callers finishing a cancellation treat it as benign.
type SignResponse struct {
	SessionID string       `json:"sessionId"`
	UploadID  string       `json:"uploadId"`
	Parts     []SignedPart `json:"parts"`
}

// ListedPart is one entry of the authoritative part listing.
type ListedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// ListPartsResponse reports the parts the object store has received.
type ListPartsResponse struct {
	SessionID string       `json:"sessionId"`
	Parts     []ListedPart `json:"parts"`
}

// CompletePart is one caller-supplied part for finalization.
type CompletePart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteRequest finalizes an upload with the full part set.
type CompleteRequest struct {
	Parts []CompletePart `json:"parts"`
}

// CompleteResponse is returned after a successful finalize.
type CompleteResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// UploadPartResponse is returned by the proxied direct-part endpoint.
type UploadPartResponse struct {
	PartNumber    int    `json:"partNumber"`
	ETag          string `json:"etag"`
	RecordedParts int    `json:"recordedParts"`
	TotalParts    int    `json:"totalParts"`
}

// AbortResponse acknowledges an abort. Aborting an absent session
// still succeeds.
type AbortResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse carries a transfer error across the wire.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
