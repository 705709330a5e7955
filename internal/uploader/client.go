package uploader

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/datalift/partstream/internal/api"
	"github.com/datalift/partstream/internal/httpapi"
	"github.com/datalift/partstream/internal/xferr"
)

// coordClient wraps the coordinator's HTTP API for the uploader.
type coordClient struct {
	c *resty.Client
}

func newCoordClient(baseURL, identity string) *coordClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader(httpapi.IdentityHeader, identity)
	return &coordClient{c: c}
}

func (cc *coordClient) init(ctx context.Context, filename, contentType, objectPrefix string) (*api.InitResponse, error) {
	var out api.InitResponse
	resp, err := cc.c.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"filename":     filename,
			"contentType":  contentType,
			"objectPrefix": objectPrefix,
		}).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Post("/api/uploads")
	if err := checkResponse(resp, err, "init"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cc *coordClient) sign(ctx context.Context, sessionID, partExpr string) (*api.SignResponse, error) {
	var out api.SignResponse
	resp, err := cc.c.R().
		SetContext(ctx).
		SetQueryParam("parts", partExpr).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Post("/api/uploads/" + sessionID + "/sign")
	if err := checkResponse(resp, err, "sign"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cc *coordClient) listParts(ctx context.Context, sessionID string) (map[int]string, error) {
	var out api.ListPartsResponse
	resp, err := cc.c.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Get("/api/uploads/" + sessionID + "/parts")
	if err := checkResponse(resp, err, "list parts"); err != nil {
		return nil, err
	}
	done := make(map[int]string, len(out.Parts))
	for _, p := range out.Parts {
		done[p.PartNumber] = p.ETag
	}
	return done, nil
}

func (cc *coordClient) uploadPart(ctx context.Context, sessionID string, partNumber, totalParts int, body *chunkReader) (string, error) {
	var out api.UploadPartResponse
	resp, err := cc.c.R().
		SetContext(ctx).
		SetQueryParam("totalParts", strconv.Itoa(totalParts)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(body).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Put(fmt.Sprintf("/api/uploads/%s/parts/%d", sessionID, partNumber))
	if err := checkResponse(resp, err, fmt.Sprintf("upload part %d", partNumber)); err != nil {
		return "", err
	}
	return out.ETag, nil
}

func (cc *coordClient) complete(ctx context.Context, sessionID string, parts []api.CompletePart) (*api.CompleteResponse, error) {
	var out api.CompleteResponse
	resp, err := cc.c.R().
		SetContext(ctx).
		SetBody(api.CompleteRequest{Parts: parts}).
		SetResult(&out).
		SetError(&api.ErrorResponse{}).
		Post("/api/uploads/" + sessionID + "/complete")
	if err := checkResponse(resp, err, "complete"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cc *coordClient) abort(ctx context.Context, sessionID string) error {
	resp, err := cc.c.R().
		SetContext(ctx).
		SetError(&api.ErrorResponse{}).
		Post("/api/uploads/" + sessionID + "/abort")
	return checkResponse(resp, err, "abort")
}

// checkResponse folds transport errors and coordinator error bodies
// into the shared taxonomy so retry decisions work across the wire.
func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return xferr.Wrap(xferr.KindStoreUnavailable, err, "%s request failed", op)
	}
	if resp.IsSuccess() {
		return nil
	}
	if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Code != "" {
		return xferr.New(xferr.FromCode(e.Code), "%s: %s", op, e.Message)
	}
	return xferr.New(xferr.KindStoreUnavailable, "%s: unexpected status %d", op, resp.StatusCode())
}
