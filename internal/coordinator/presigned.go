package coordinator

import (
	"context"
	"io"
	"net/http"

	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/partrange"
	"github.com/datalift/partstream/internal/xferr"
)

// Presigned issues time-limited store URLs so part bytes never pass
// through the coordinator.
type Presigned struct {
	core
}

// NewPresigned builds the presigned-URL variant.
func NewPresigned(cfg Config, sessions Sessions, store objectstore.Store) *Presigned {
	return &Presigned{core: core{
		cfg:                    cfg.withDefaults(),
		sessions:               sessions,
		store:                  store,
		abortOnCompleteFailure: true,
	}}
}

func (p *Presigned) AuthorizeParts(ctx context.Context, owner, sessionID, partExpr string) (*AuthorizeResult, error) {
	sess, err := p.sessions.GetOwned(sessionID, owner)
	if err != nil {
		// A vanished session here usually means the caller is finishing
		// a concurrent cancellation; answer with an empty authorization
		// list rather than an error. Ownership mismatches still fail.
		if xferr.Is(err, xferr.KindNotFound) {
			return &AuthorizeResult{SessionID: sessionID, Parts: []AuthorizedPart{}}, nil
		}
		return nil, err
	}

	numbers, err := partrange.Expand(partExpr)
	if err != nil {
		return nil, err
	}

	out := make([]AuthorizedPart, 0, len(numbers))
	for _, pn := range numbers {
		url, err := p.store.PresignUploadPart(upload(sess), pn, p.cfg.PresignExpiry)
		if err != nil {
			return nil, xferr.Wrap(xferr.KindStoreUnavailable, err, "presign part %d of session %s", pn, sessionID)
		}
		out = append(out, AuthorizedPart{Number: pn, URL: url, Method: http.MethodPut})
	}
	p.sessions.Touch(sessionID)
	return &AuthorizeResult{SessionID: sessionID, UploadID: sess.UploadID, Parts: out}, nil
}

func (p *Presigned) UploadPartDirect(context.Context, string, string, int, int, io.Reader) (*DirectPartResult, error) {
	return nil, xferr.New(xferr.KindInvalidInput, "direct part upload is not available on the presigned transport")
}
