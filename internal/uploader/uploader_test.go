package uploader

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalift/partstream/internal/coordinator"
	"github.com/datalift/partstream/internal/httpapi"
	"github.com/datalift/partstream/internal/objectstore"
	"github.com/datalift/partstream/internal/planner"
	"github.com/datalift/partstream/internal/retry"
	"github.com/datalift/partstream/internal/session"
	"github.com/datalift/partstream/internal/xferr"
)

// presignableStore redirects presigned URLs at a local test server so
// the uploader's direct PUTs land in the fake store.
type presignableStore struct {
	*objectstore.Fake
	baseURL string
}

func (s *presignableStore) PresignUploadPart(up objectstore.Upload, partNumber int, _ time.Duration) (string, error) {
	return fmt.Sprintf("%s/put?bucket=%s&key=%s&uploadId=%s&part=%d",
		s.baseURL, up.Bucket, up.Key, up.UploadID, partNumber), nil
}

type uploaderEnv struct {
	fake      *objectstore.Fake
	sessions  *session.Store
	coordSrv  *httptest.Server
	storeSrv  *httptest.Server
	storeHits atomic.Int64
	storeFail atomic.Bool
}

// newUploaderEnv wires a coordinator API server plus, for the
// presigned transport, a stand-in object store endpoint that accepts
// part PUTs and answers with the part's etag.
func newUploaderEnv(t *testing.T, transport Transport) *uploaderEnv {
	t.Helper()
	env := &uploaderEnv{
		fake:     objectstore.NewFake(),
		sessions: session.NewStore(),
	}
	env.storeSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.storeHits.Add(1)
		if env.storeFail.Load() {
			http.Error(w, "backend unavailable", http.StatusInternalServerError)
			return
		}
		q := r.URL.Query()
		pn, err := strconv.Atoi(q.Get("part"))
		if err != nil {
			http.Error(w, "bad part number", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if want := r.Header.Get("Content-MD5"); want != "" {
			sum := md5.Sum(data)
			if base64.StdEncoding.EncodeToString(sum[:]) != want {
				http.Error(w, "content digest mismatch", http.StatusBadRequest)
				return
			}
		}
		etag := env.fake.PutPart(objectstore.Upload{
			Bucket:   q.Get("bucket"),
			Key:      q.Get("key"),
			UploadID: q.Get("uploadId"),
		}, pn, data)
		if etag == "" {
			http.Error(w, "no such upload", http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"`+etag+`"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(env.storeSrv.Close)

	cfg := coordinator.Config{
		Bucket:        "vault",
		PublicBaseURL: "https://cdn.example.com",
	}
	var coord coordinator.Coordinator
	if transport == TransportProxied {
		cfg.ProxyBaseURL = "http://placeholder"
		coord = coordinator.NewProxied(cfg, env.sessions, env.fake)
	} else {
		coord = coordinator.NewPresigned(cfg, env.sessions, &presignableStore{
			Fake:    env.fake,
			baseURL: env.storeSrv.URL,
		})
	}

	srv := httpapi.NewServer(coord, env.sessions)
	env.coordSrv = httptest.NewServer(srv.Handler())
	t.Cleanup(env.coordSrv.Close)
	return env
}

func (env *uploaderEnv) uploader(transport Transport, partSize int64) *Uploader {
	return New(Config{
		BaseURL:     env.coordSrv.URL,
		Identity:    "alice",
		PartSize:    partSize,
		Concurrency: 3,
		Transport:   transport,
		SendMD5:     transport == TransportPresigned,
		Retry:       retry.Policy{Attempts: 2, BaseDelay: time.Millisecond},
	})
}

// writeTestFile produces a deterministic file spanning three parts at
// the given part size.
func writeTestFile(t *testing.T, partSize int64) string {
	t.Helper()
	size := 2*partSize + 1234
	data := make([]byte, size)
	rand.New(rand.NewSource(42)).Read(data)
	path := filepath.Join(t.TempDir(), "report.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploadPresignedEndToEnd(t *testing.T) {
	env := newUploaderEnv(t, TransportPresigned)
	path := writeTestFile(t, planner.MinPartSize)
	u := env.uploader(TransportPresigned, planner.MinPartSize)

	url, err := u.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, url, "/vault/")

	assert.EqualValues(t, 3, env.storeHits.Load())
	assert.Len(t, env.fake.Completed, 1)
	assert.Empty(t, env.fake.Aborted)
	assert.Equal(t, 0, env.sessions.Len(), "session released after completion")
	// All bytes went straight to the store.
	assert.Equal(t, 0, env.fake.UploadCount())
}

func TestUploadProxiedEndToEnd(t *testing.T) {
	env := newUploaderEnv(t, TransportProxied)
	path := writeTestFile(t, planner.MinPartSize)
	u := env.uploader(TransportProxied, planner.MinPartSize)

	url, err := u.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, url, "/vault/")

	assert.Equal(t, 3, env.fake.UploadCount())
	assert.Len(t, env.fake.Completed, 1)
	assert.Equal(t, 0, env.sessions.Len())
	assert.EqualValues(t, 0, env.storeHits.Load(), "proxied transport never touches presigned URLs")
}

func TestResumeSkipsAcknowledgedParts(t *testing.T) {
	env := newUploaderEnv(t, TransportPresigned)
	path := writeTestFile(t, planner.MinPartSize)
	u := env.uploader(TransportPresigned, planner.MinPartSize)

	cc := newCoordClient(env.coordSrv.URL, "alice")
	init, err := cc.init(context.Background(), "report.bin", "application/octet-stream", "")
	require.NoError(t, err)

	// Simulate a prior run that got part 1 to the store before dying.
	sess, err := env.sessions.Get(init.SessionID)
	require.NoError(t, err)
	first := make([]byte, planner.MinPartSize)
	f, err := os.Open(path)
	require.NoError(t, err)
	_, err = io.ReadFull(f, first)
	require.NoError(t, err)
	f.Close()
	env.fake.PutPart(objectstore.Upload{
		Bucket: sess.Bucket, Key: sess.Key, UploadID: sess.UploadID,
	}, 1, first)

	url, err := u.Resume(context.Background(), path, init.SessionID)
	require.NoError(t, err)
	assert.Contains(t, url, "/vault/")

	assert.EqualValues(t, 2, env.storeHits.Load(), "only the missing parts travel")
	assert.Len(t, env.fake.Completed, 1)
	assert.Equal(t, 0, env.sessions.Len())
}

func TestUploadRetryExhaustionPreservesSession(t *testing.T) {
	env := newUploaderEnv(t, TransportPresigned)
	env.storeFail.Store(true)
	path := writeTestFile(t, planner.MinPartSize)
	u := env.uploader(TransportPresigned, planner.MinPartSize)

	_, err := u.Upload(context.Background(), path)
	require.Error(t, err)
	assert.True(t, xferr.Is(err, xferr.KindTransferFailed), "got %v", err)

	assert.Equal(t, 1, env.sessions.Len(), "session survives for a later resume")
	assert.Empty(t, env.fake.Aborted)
}

func TestResumeUnknownSessionFails(t *testing.T) {
	env := newUploaderEnv(t, TransportPresigned)
	path := writeTestFile(t, planner.MinPartSize)
	u := env.uploader(TransportPresigned, planner.MinPartSize)

	_, err := u.Resume(context.Background(), path, "no-such-session")
	require.Error(t, err)
	assert.True(t, xferr.Is(err, xferr.KindNotFound), "got %v", err)
}

func TestAbortReleasesSession(t *testing.T) {
	env := newUploaderEnv(t, TransportPresigned)
	u := env.uploader(TransportPresigned, planner.MinPartSize)

	cc := newCoordClient(env.coordSrv.URL, "alice")
	init, err := cc.init(context.Background(), "report.bin", "", "")
	require.NoError(t, err)

	require.NoError(t, u.Abort(context.Background(), init.SessionID))
	assert.Equal(t, 0, env.sessions.Len())
	assert.Len(t, env.fake.Aborted, 1)
}
