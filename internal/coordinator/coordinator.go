// Package coordinator orchestrates the object-store multipart protocol
// for upload sessions: opening uploads, authorizing per-part writes,
// reconciling received parts, and finalizing or aborting.
//
// Two transport variants implement the same interface. The presigned
// variant hands clients time-limited store URLs so part bytes bypass
// the coordinator; the proxied variant accepts part bytes itself and
// forwards them, for clients that cannot reach the store network.
package coordinator

import (
	"context"
	"io"
	"time"

	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/session"
)

// Coordinator is the five-operation upload protocol plus the proxied
// variant's direct part endpoint. Every operation other than Init
// receives the authenticated caller identity and fails closed when it
// does not match the session owner.
type Coordinator interface {
	// Init opens a multipart upload and registers a session for it.
	Init(ctx context.Context, owner string, req *InitRequest) (*InitResult, error)

	// AuthorizeParts issues write authorizations for the parts named by
	// a range expression such as "1-5,7,9-12".
	AuthorizeParts(ctx context.Context, owner, sessionID, partExpr string) (*AuthorizeResult, error)

	// ListParts returns the object store's authoritative list of
	// received parts, which resumption must trust over local state.
	ListParts(ctx context.Context, owner, sessionID string) ([]objectstore.PartInfo, error)

	// Complete finalizes the upload with the full part set and deletes
	// the session.
	Complete(ctx context.Context, owner, sessionID string, parts []PartEntry) (*CompleteResult, error)

	// Abort discards the upload. Aborting an absent session succeeds.
	Abort(ctx context.Context, owner, sessionID string) error

	// UploadPartDirect accepts one part's bytes and forwards them to
	// the store. Only the proxied variant supports it.
	UploadPartDirect(ctx context.Context, owner, sessionID string, partNumber, totalParts int, body io.Reader) (*DirectPartResult, error)
}

// Config carries the coordinator's tunables.
type Config struct {
	Bucket string

	// PublicBaseURL is prepended to bucket/key for the final object
	// URL when the store does not report a location.
	PublicBaseURL string

	// ProxyBaseURL is the external base URL of the coordinator itself,
	// used by the proxied variant to build part endpoints.
	ProxyBaseURL string

	PartSizeHint    int64
	ConcurrencyHint int
	PresignExpiry   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PartSizeHint <= 0 {
		c.PartSizeHint = 16 * 1024 * 1024
	}
	if c.ConcurrencyHint <= 0 {
		c.ConcurrencyHint = 8
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = time.Hour
	}
	return c
}

// InitRequest names the object to create.
type InitRequest struct {
	Filename     string
	ContentType  string
	ObjectPrefix string
}

// InitResult identifies the new session and carries sizing hints.
type InitResult struct {
	SessionID   string
	Bucket      string
	Key         string
	UploadID    string
	PartSize    int64
	Concurrency int
}

// AuthorizedPart is one part-write authorization.
type AuthorizedPart struct {
	Number int
	URL    string
	Method string
}

// AuthorizeResult lists the issued authorizations. An empty Parts list
// with a nil error means the session is already gone (presigned
// variant only).
type AuthorizeResult struct {
	SessionID string
	UploadID  string
	Parts     []AuthorizedPart
}

// PartEntry is one caller-supplied part for Complete.
type PartEntry struct {
	Number int
	ETag   string
}

// CompleteResult reports the finalized object.
type CompleteResult struct {
	Bucket string
	Key    string
	URL    string
}

// DirectPartResult reports one proxied part upload.
type DirectPartResult struct {
	Number        int
	ETag          string
	RecordedParts int
	TotalParts    int
}

// Sessions is the view of the session registry the coordinator needs.
// Satisfied by *session.Store.
type Sessions interface {
	Create(s session.Session) string
	Get(id string) (session.Session, error)
	GetOwned(id, owner string) (session.Session, error)
	RecordPart(id, owner string, partNumber int, etag string, totalHint int) (session.Session, error)
	Touch(id string)
	Delete(id string)
}
