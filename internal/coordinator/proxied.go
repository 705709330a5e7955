package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/partrange"
	"github.com/datalift/partstream/internal/xferr"
)

// Proxied accepts part bytes on the coordinator itself and forwards
// them to the store, for clients without direct store connectivity.
type Proxied struct {
	core
}

// NewProxied builds the proxied variant.
func NewProxied(cfg Config, sessions Sessions, store objectstore.Store) *Proxied {
	return &Proxied{core: core{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		store:    store,
	}}
}

// AuthorizeParts points the caller at this coordinator's part
// endpoints. Unlike the presigned variant an absent session is an
// error: these endpoints issue irreversible store writes, so a stale
// caller must be told to stop.
func (p *Proxied) AuthorizeParts(ctx context.Context, owner, sessionID, partExpr string) (*AuthorizeResult, error) {
	sess, err := p.sessions.GetOwned(sessionID, owner)
	if err != nil {
		return nil, err
	}

	numbers, err := partrange.Expand(partExpr)
	if err != nil {
		return nil, err
	}

	out := make([]AuthorizedPart, 0, len(numbers))
	for _, pn := range numbers {
		out = append(out, AuthorizedPart{
			Number: pn,
			URL:    fmt.Sprintf("%s/api/uploads/%s/parts/%d", p.cfg.ProxyBaseURL, sessionID, pn),
			Method: http.MethodPut,
		})
	}
	p.sessions.Touch(sessionID)
	return &AuthorizeResult{SessionID: sessionID, UploadID: sess.UploadID, Parts: out}, nil
}

func (p *Proxied) UploadPartDirect(ctx context.Context, owner, sessionID string, partNumber, totalParts int, body io.Reader) (*DirectPartResult, error) {
	switch {
	case partNumber < 1:
		return nil, xferr.New(xferr.KindInvalidInput, "part number %d out of range", partNumber)
	case totalParts < 1:
		return nil, xferr.New(xferr.KindInvalidInput, "total parts %d out of range", totalParts)
	case partNumber > totalParts:
		return nil, xferr.New(xferr.KindInvalidInput,
			"part number %d exceeds total parts %d", partNumber, totalParts)
	}

	sess, err := p.sessions.GetOwned(sessionID, owner)
	if err != nil {
		return nil, err
	}
	// Reject a disagreeing total before touching the store, so a
	// conflicting caller causes no remote side effects.
	if sess.ExpectedParts > 0 && sess.ExpectedParts != totalParts {
		return nil, xferr.New(xferr.KindConflict,
			"session %s total parts already fixed at %d, got %d", sessionID, sess.ExpectedParts, totalParts)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, xferr.Wrap(xferr.KindInvalidInput, err, "read part %d body", partNumber)
	}

	etag, err := p.store.UploadPart(ctx, upload(sess), partNumber, bytes.NewReader(data))
	if err != nil {
		return nil, xferr.Wrap(xferr.KindStoreUnavailable, err,
			"upload part %d of session %s", partNumber, sessionID)
	}
	etag = objectstore.NormalizeETag(etag)

	updated, err := p.sessions.RecordPart(sessionID, owner, partNumber, etag, totalParts)
	if err != nil {
		return nil, err
	}
	return &DirectPartResult{
		Number:        partNumber,
		ETag:          etag,
		RecordedParts: len(updated.Parts),
		TotalParts:    updated.ExpectedParts,
	}, nil
}
