package coordinator

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/session"
	"github.com/datalift/partstream/internal/xferr"
)

// core holds the protocol logic shared by both transport variants.
// The variants differ only in AuthorizeParts, UploadPartDirect, and
// whether a failed finalize aborts the remote upload.
type core struct {
	cfg      Config
	sessions Sessions
	store    objectstore.Store

	// abortOnCompleteFailure is set for the presigned variant: its
	// failed finalize compensates by aborting the remote upload. The
	// proxied variant leaves the upload for an explicit abort or the
	// sweeper, so a transient finalize failure stays retryable.
	abortOnCompleteFailure bool
}

func (c *core) Init(ctx context.Context, owner string, req *InitRequest) (*InitResult, error) {
	if req == nil || strings.TrimSpace(req.Filename) == "" {
		return nil, xferr.New(xferr.KindInvalidInput, "filename required")
	}
	key := objectKey(req.Filename, req.ObjectPrefix)

	uploadID, err := c.store.CreateMultipartUpload(ctx, c.cfg.Bucket, key, req.ContentType)
	if err != nil {
		// Surfaced immediately; the caller retries with backoff.
		return nil, xferr.Wrap(xferr.KindStoreUnavailable, err, "create multipart upload for %s", key)
	}

	sid := c.sessions.Create(session.Session{
		Bucket:   c.cfg.Bucket,
		Key:      key,
		UploadID: uploadID,
		Owner:    owner,
	})
	logger.Info().Str("session", sid).Str("key", key).Str("owner", owner).Msg("upload session opened")

	return &InitResult{
		SessionID:   sid,
		Bucket:      c.cfg.Bucket,
		Key:         key,
		UploadID:    uploadID,
		PartSize:    c.cfg.PartSizeHint,
		Concurrency: c.cfg.ConcurrencyHint,
	}, nil
}

func (c *core) ListParts(ctx context.Context, owner, sessionID string) ([]objectstore.PartInfo, error) {
	sess, err := c.sessions.GetOwned(sessionID, owner)
	if err != nil {
		return nil, err
	}
	parts, err := c.store.ListParts(ctx, upload(sess))
	if err != nil {
		return nil, xferr.Wrap(xferr.KindStoreUnavailable, err, "list parts of session %s", sessionID)
	}
	c.sessions.Touch(sessionID)
	return parts, nil
}

func (c *core) Complete(ctx context.Context, owner, sessionID string, parts []PartEntry) (*CompleteResult, error) {
	sess, err := c.sessions.GetOwned(sessionID, owner)
	if err != nil {
		return nil, err
	}

	normalized, err := normalizeParts(parts)
	if err != nil {
		return nil, err
	}

	// Completion gate: once the uploader has committed to a total, all
	// of it must be recorded before finalize is attempted.
	if sess.ExpectedParts > 0 && len(sess.Parts) < sess.ExpectedParts {
		return nil, xferr.New(xferr.KindIncompletePrecondition,
			"session %s not complete: expected=%d actual=%d", sessionID, sess.ExpectedParts, len(sess.Parts))
	}

	// Reconcile against the store's authoritative listing.
	listed, err := c.store.ListParts(ctx, upload(sess))
	if err != nil {
		return nil, xferr.Wrap(xferr.KindStoreUnavailable, err, "list parts of session %s", sessionID)
	}
	listedETags := make(map[int]string, len(listed))
	for _, p := range listed {
		listedETags[p.Number] = p.ETag
	}
	for _, p := range normalized {
		etag, ok := listedETags[p.Number]
		if !ok {
			return nil, xferr.New(xferr.KindConflict,
				"session %s: part %d was never received by the store", sessionID, p.Number)
		}
		if etag != p.ETag {
			return nil, xferr.New(xferr.KindConflict,
				"session %s: part %d etag mismatch (caller %s, store %s)", sessionID, p.Number, p.ETag, etag)
		}
	}

	completed := make([]objectstore.CompletedPart, len(normalized))
	for i, p := range normalized {
		completed[i] = objectstore.CompletedPart{Number: p.Number, ETag: p.ETag}
	}
	location, err := c.store.CompleteMultipartUpload(ctx, upload(sess), completed)

	// The local session goes away in either outcome to bound memory.
	c.sessions.Delete(sessionID)

	if err != nil {
		if c.abortOnCompleteFailure {
			if aerr := c.store.AbortMultipartUpload(ctx, upload(sess)); aerr != nil {
				logger.Warn().Err(aerr).Str("session", sessionID).Msg("compensating abort failed")
			}
		}
		return nil, xferr.Wrap(xferr.KindStoreUnavailable, err, "complete session %s", sessionID)
	}

	url := location
	if url == "" {
		url = publicURL(c.cfg.PublicBaseURL, sess.Bucket, sess.Key)
	}
	logger.Info().Str("session", sessionID).Str("key", sess.Key).Int("parts", len(normalized)).Msg("upload completed")
	return &CompleteResult{Bucket: sess.Bucket, Key: sess.Key, URL: url}, nil
}

func (c *core) Abort(ctx context.Context, owner, sessionID string) error {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		if xferr.Is(err, xferr.KindNotFound) {
			return nil // aborting a finished session is benign
		}
		return err
	}
	if sess.Owner != owner {
		return xferr.New(xferr.KindPermissionDenied, "session %s is not owned by caller", sessionID)
	}

	// Remote abort failures are logged, not surfaced; the sweeper and
	// the store's own lifecycle expiry are the backstop.
	if err := c.store.AbortMultipartUpload(ctx, upload(sess)); err != nil {
		logger.Warn().Err(err).Str("session", sessionID).Str("key", sess.Key).Msg("remote abort failed")
	}
	c.sessions.Delete(sessionID)
	logger.Info().Str("session", sessionID).Str("key", sess.Key).Msg("upload session aborted")
	return nil
}

// normalizeParts strips ETag quoting, sorts ascending by part number,
// and rejects a part number claimed with two different ETags.
func normalizeParts(parts []PartEntry) ([]PartEntry, error) {
	if len(parts) == 0 {
		return nil, xferr.New(xferr.KindInvalidInput, "no parts supplied")
	}
	byNumber := make(map[int]string, len(parts))
	for _, p := range parts {
		if p.Number < 1 {
			return nil, xferr.New(xferr.KindInvalidInput, "part number %d out of range", p.Number)
		}
		etag := objectstore.NormalizeETag(p.ETag)
		if prev, ok := byNumber[p.Number]; ok && prev != etag {
			return nil, xferr.New(xferr.KindConflict,
				"part %d supplied with conflicting etags %s and %s", p.Number, prev, etag)
		}
		byNumber[p.Number] = etag
	}
	out := make([]PartEntry, 0, len(byNumber))
	for pn, etag := range byNumber {
		out = append(out, PartEntry{Number: pn, ETag: etag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// objectKey derives a collision-resistant key from a random component
// and the sanitized filename, optionally under a prefix.
func objectKey(filename, prefix string) string {
	key := strings.ReplaceAll(uuid.NewString(), "-", "") + "__" + filepath.Base(filename)
	if p := strings.Trim(prefix, "/ "); p != "" {
		key = p + "/" + key
	}
	return key
}

func publicURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}

func upload(s session.Session) objectstore.Upload {
	return objectstore.Upload{Bucket: s.Bucket, Key: s.Key, UploadID: s.UploadID}
}
