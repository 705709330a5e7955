package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalift/partstream/internal/api"
	"github.com/datalift/partstream/internal/coordinator"
	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/session"
)

const testIdentity = "alice"

type env struct {
	server *httptest.Server
	fake   *objectstore.Fake
	store  *session.Store
}

func newEnv(t *testing.T, proxied bool) *env {
	t.Helper()
	sessions := session.NewStore()
	fake := objectstore.NewFake()
	cfg := coordinator.Config{
		Bucket:        "scidata",
		PublicBaseURL: "https://store.example.com",
		ProxyBaseURL:  "https://coord.example.com",
	}
	var coord coordinator.Coordinator
	if proxied {
		coord = coordinator.NewProxied(cfg, sessions, fake)
	} else {
		coord = coordinator.NewPresigned(cfg, sessions, fake)
	}
	srv := httptest.NewServer(NewServer(coord, sessions).Handler())
	t.Cleanup(srv.Close)
	return &env{server: srv, fake: fake, store: sessions}
}

func (e *env) do(t *testing.T, method, path, identity string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if identity != "" {
		req.Header.Set(IdentityHeader, identity)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *env) initUpload(t *testing.T) api.InitResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/uploads?filename=sample.raw&contentType=application/octet-stream", testIdentity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[api.InitResponse](t, resp)
}

func TestMissingIdentityRejected(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	resp := e.do(t, http.MethodPost, "/api/uploads?filename=x", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetricsNeedNoIdentity(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp := e.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestPresignedUploadLifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	init := e.initUpload(t)

	// Authorize all three parts in one range expression.
	resp := e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/sign?parts=1-3", testIdentity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sign := decode[api.SignResponse](t, resp)
	require.Len(t, sign.Parts, 3)
	assert.Equal(t, init.UploadID, sign.UploadID)

	// Simulate the data path: parts land at the store directly.
	up := objectstore.Upload{Bucket: init.Bucket, Key: init.Key, UploadID: init.UploadID}
	var parts []api.CompletePart
	for pn := 1; pn <= 3; pn++ {
		etag := e.fake.PutPart(up, pn, []byte(fmt.Sprintf("chunk-%d", pn)))
		parts = append(parts, api.CompletePart{PartNumber: pn, ETag: etag})
	}

	// Resumption view matches what landed.
	resp = e.do(t, http.MethodGet, "/api/uploads/"+init.SessionID+"/parts", testIdentity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[api.ListPartsResponse](t, resp)
	assert.Len(t, listed.Parts, 3)

	body, err := json.Marshal(api.CompleteRequest{Parts: parts})
	require.NoError(t, err)
	resp = e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/complete", testIdentity, bytes.NewReader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[api.CompleteResponse](t, resp)
	assert.Equal(t, init.Key, done.Key)
	assert.NotEmpty(t, done.URL)

	// The session is gone: listing now 404s, but signing stays benign
	// on the presigned transport and returns an empty part list.
	resp = e.do(t, http.MethodGet, "/api/uploads/"+init.SessionID+"/parts", testIdentity, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/sign?parts=1-3", testIdentity, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sign = decode[api.SignResponse](t, resp)
	assert.Empty(t, sign.Parts)
}

func TestProxiedUploadLifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t, true)
	init := e.initUpload(t)

	var parts []api.CompletePart
	for pn := 1; pn <= 2; pn++ {
		path := fmt.Sprintf("/api/uploads/%s/parts/%d?totalParts=2", init.SessionID, pn)
		resp := e.do(t, http.MethodPut, path, testIdentity, bytes.NewReader([]byte(fmt.Sprintf("chunk-%d", pn))))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode[api.UploadPartResponse](t, resp)
		assert.Equal(t, pn, out.PartNumber)
		assert.Equal(t, pn, out.RecordedParts)
		assert.Equal(t, 2, out.TotalParts)
		parts = append(parts, api.CompletePart{PartNumber: out.PartNumber, ETag: out.ETag})
	}

	body, err := json.Marshal(api.CompleteRequest{Parts: parts})
	require.NoError(t, err)
	resp := e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/complete", testIdentity, bytes.NewReader(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestProxiedErrorMapping(t *testing.T) {
	t.Parallel()

	e := newEnv(t, true)
	init := e.initUpload(t)

	// First part fixes the total at 3.
	resp := e.do(t, http.MethodPut,
		fmt.Sprintf("/api/uploads/%s/parts/1?totalParts=3", init.SessionID),
		testIdentity, bytes.NewReader([]byte("a")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	tests := []struct {
		name     string
		method   string
		path     string
		identity string
		body     []byte
		want     int
		wantCode string
	}{
		{
			"total parts mismatch", http.MethodPut,
			fmt.Sprintf("/api/uploads/%s/parts/2?totalParts=5", init.SessionID),
			testIdentity, []byte("b"), http.StatusConflict, "Conflict",
		},
		{
			"unknown session on sign", http.MethodPost,
			"/api/uploads/nope/sign?parts=1", testIdentity, nil,
			http.StatusNotFound, "NotFound",
		},
		{
			"foreign identity", http.MethodPost,
			"/api/uploads/" + init.SessionID + "/abort", "mallory", nil,
			http.StatusForbidden, "PermissionDenied",
		},
		{
			"bad range expression", http.MethodPost,
			"/api/uploads/" + init.SessionID + "/sign?parts=x", testIdentity, nil,
			http.StatusBadRequest, "InvalidInput",
		},
		{
			"missing totalParts", http.MethodPut,
			fmt.Sprintf("/api/uploads/%s/parts/2", init.SessionID),
			testIdentity, []byte("b"), http.StatusBadRequest, "InvalidInput",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != nil {
				body = bytes.NewReader(tc.body)
			}
			resp := e.do(t, tc.method, tc.path, tc.identity, body)
			require.Equal(t, tc.want, resp.StatusCode)
			got := decode[api.ErrorResponse](t, resp)
			assert.Equal(t, tc.wantCode, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestIncompleteCompleteReportsCounts(t *testing.T) {
	t.Parallel()

	e := newEnv(t, true)
	init := e.initUpload(t)

	resp := e.do(t, http.MethodPut,
		fmt.Sprintf("/api/uploads/%s/parts/1?totalParts=3", init.SessionID),
		testIdentity, bytes.NewReader([]byte("a")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	part := decode[api.UploadPartResponse](t, resp)

	body, err := json.Marshal(api.CompleteRequest{Parts: []api.CompletePart{
		{PartNumber: 1, ETag: part.ETag},
	}})
	require.NoError(t, err)
	resp = e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/complete", testIdentity, bytes.NewReader(body))
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	got := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "IncompletePrecondition", got.Code)
	assert.Contains(t, got.Message, "expected=3")
	assert.Contains(t, got.Message, "actual=1")
}

func TestAbortIdempotentOverHTTP(t *testing.T) {
	t.Parallel()

	e := newEnv(t, false)
	init := e.initUpload(t)

	for i := 0; i < 2; i++ {
		resp := e.do(t, http.MethodPost, "/api/uploads/"+init.SessionID+"/abort", testIdentity, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "abort attempt %d", i+1)
		out := decode[api.AbortResponse](t, resp)
		assert.True(t, out.OK)
	}
	assert.Len(t, e.fake.Aborted, 1)
}
