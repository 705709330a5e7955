// Package uploader drives one file transfer end to end against the
// upload coordinator: plan, init, resume discovery, bounded parallel
// part transfer with retries, and completion.
package uploader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/datalift/partstream/internal/api"
	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/planner"
	"github.com/datalift/partstream/internal/partrange"
	"github.com/datalift/partstream/internal/retry"
	"github.com/datalift/partstream/internal/xferr"
)

// Transport selects how part bytes reach the object store.
type Transport string

const (
	// TransportPresigned PUTs bytes straight to store URLs.
	TransportPresigned Transport = "presigned"
	// TransportProxied relays bytes through the coordinator.
	TransportProxied Transport = "proxied"
)

// signBatchSize bounds how many parts one sign request covers.
const signBatchSize = 100

// Config tunes one uploader.
type Config struct {
	BaseURL      string
	Identity     string
	ObjectPrefix string
	PartSize     int64
	Concurrency  int
	Transport    Transport

	// SendMD5 attaches a Content-MD5 header to presigned part PUTs so
	// the store verifies each part's integrity.
	SendMD5 bool

	Retry       retry.Policy
	PartTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PartSize <= 0 {
		c.PartSize = 16 * 1024 * 1024
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Transport == "" {
		c.Transport = TransportPresigned
	}
	if c.Retry.Attempts == 0 {
		c.Retry = retry.DefaultPolicy
	}
	if c.PartTimeout <= 0 {
		c.PartTimeout = 10 * time.Minute
	}
	return c
}

// Uploader transfers files through an upload coordinator.
type Uploader struct {
	cfg   Config
	coord *coordClient
	http  *http.Client
}

// New builds an uploader for the coordinator at cfg.BaseURL.
func New(cfg Config) *Uploader {
	cfg = cfg.withDefaults()
	return &Uploader{
		cfg:   cfg,
		coord: newCoordClient(cfg.BaseURL, cfg.Identity),
		http:  &http.Client{Timeout: cfg.PartTimeout},
	}
}

// Upload transfers the file as a fresh session and returns the final
// object URL.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	src, err := openSource(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	plan, err := planner.Plan(src.size, u.cfg.PartSize)
	if err != nil {
		return "", err
	}

	var init *api.InitResponse
	err = u.cfg.Retry.Do(ctx, func() error {
		var ierr error
		init, ierr = u.coord.init(ctx, src.name, src.contentType, u.cfg.ObjectPrefix)
		return stopUnlessTransient(ierr)
	})
	if err != nil {
		return "", err
	}
	logger.Info().Str("session", init.SessionID).Str("key", init.Key).
		Int64("size", src.size).Int("parts", len(plan)).Msg("upload session opened")

	return u.run(ctx, src, plan, init.SessionID)
}

// Resume continues an interrupted transfer. The caller supplies the
// session id of the original attempt; already-acknowledged parts are
// discovered from the store's authoritative listing, never from local
// memory, and are not re-uploaded.
func (u *Uploader) Resume(ctx context.Context, path, sessionID string) (string, error) {
	src, err := openSource(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	// The same file and part size recompute the identical plan the
	// original attempt used.
	plan, err := planner.Plan(src.size, u.cfg.PartSize)
	if err != nil {
		return "", err
	}
	return u.run(ctx, src, plan, sessionID)
}

// Abort cancels a session explicitly, discarding its partial progress.
func (u *Uploader) Abort(ctx context.Context, sessionID string) error {
	return u.coord.abort(ctx, sessionID)
}

func (u *Uploader) run(ctx context.Context, src *source, plan []planner.Part, sessionID string) (string, error) {
	var done map[int]string
	err := u.cfg.Retry.Do(ctx, func() error {
		var lerr error
		done, lerr = u.coord.listParts(ctx, sessionID)
		return stopUnlessTransient(lerr)
	})
	if err != nil {
		return "", err
	}

	var todo []planner.Part
	for _, p := range plan {
		if _, ok := done[p.Number]; !ok {
			todo = append(todo, p)
		}
	}
	if len(done) > 0 {
		logger.Info().Str("session", sessionID).
			Int("already_uploaded", len(done)).Int("remaining", len(todo)).Msg("resuming upload")
	}

	if len(todo) > 0 {
		results, err := u.uploadParts(ctx, src, sessionID, todo, len(plan))
		if err != nil {
			// Retry exhaustion leaves the session for a later Resume;
			// anything else is unrecoverable, so release the session
			// and the remote upload now.
			if !xferr.Is(err, xferr.KindTransferFailed) {
				if aerr := u.coord.abort(ctx, sessionID); aerr != nil {
					logger.Warn().Err(aerr).Str("session", sessionID).Msg("abort after failure failed")
				}
			}
			return "", err
		}
		for pn, etag := range results {
			done[pn] = etag
		}
	}

	parts := make([]api.CompletePart, 0, len(plan))
	for _, p := range plan {
		etag, ok := done[p.Number]
		if !ok {
			return "", xferr.New(xferr.KindIncompletePrecondition,
				"part %d has no recorded etag", p.Number)
		}
		parts = append(parts, api.CompletePart{PartNumber: p.Number, ETag: etag})
	}

	res, err := u.coord.complete(ctx, sessionID, parts)
	if err != nil {
		return "", err
	}
	logger.Info().Str("session", sessionID).Str("url", res.URL).Msg("upload completed")
	return res.URL, nil
}

// uploadParts transfers todo through a bounded worker pool. The first
// part failure cancels the remaining work.
func (u *Uploader) uploadParts(ctx context.Context, src *source, sessionID string, todo []planner.Part, totalParts int) (map[int]string, error) {
	urls, err := u.signTodo(ctx, sessionID, todo)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan planner.Part)
	results := make(map[int]string, len(todo))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		finished int
	)
	workers := u.cfg.Concurrency
	if workers > len(todo) {
		workers = len(todo)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range tasks {
				if ctx.Err() != nil {
					continue
				}
				etag, err := u.transferPart(ctx, src, sessionID, p, totalParts, urls[p.Number])
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					continue
				}
				results[p.Number] = etag
				finished++
				n := finished
				mu.Unlock()
				if n%10 == 0 || n == len(todo) {
					logger.Info().Str("session", sessionID).
						Int("uploaded", n).Int("total", len(todo)).
						Int64("bytes", src.sent.Load()).Msg("upload progress")
				}
			}
		}()
	}

	for _, p := range todo {
		tasks <- p
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// signTodo fetches presigned URLs for the pending parts in batches.
// The proxied transport needs no URLs; parts go to the coordinator.
func (u *Uploader) signTodo(ctx context.Context, sessionID string, todo []planner.Part) (map[int]string, error) {
	if u.cfg.Transport != TransportPresigned {
		return nil, nil
	}
	urls := make(map[int]string, len(todo))
	for start := 0; start < len(todo); start += signBatchSize {
		end := start + signBatchSize
		if end > len(todo) {
			end = len(todo)
		}
		numbers := make([]int, 0, end-start)
		for _, p := range todo[start:end] {
			numbers = append(numbers, p.Number)
		}

		var signed *api.SignResponse
		err := u.cfg.Retry.Do(ctx, func() error {
			var serr error
			signed, serr = u.coord.sign(ctx, sessionID, partrange.Compact(numbers))
			return stopUnlessTransient(serr)
		})
		if err != nil {
			return nil, err
		}
		for _, p := range signed.Parts {
			urls[p.PartNumber] = p.URL
		}
	}
	// An empty or short sign response means the session vanished,
	// typically because a concurrent cancellation finished first.
	if len(urls) < len(todo) {
		return nil, xferr.New(xferr.KindNotFound,
			"session %s no longer authorizes uploads; it was likely aborted", sessionID)
	}
	return urls, nil
}

// transferPart uploads one part with the configured retry budget.
func (u *Uploader) transferPart(ctx context.Context, src *source, sessionID string, p planner.Part, totalParts int, url string) (string, error) {
	var etag string
	err := u.cfg.Retry.Do(ctx, func() error {
		// Every attempt reads the range from scratch.
		reader := src.reader(p)
		var terr error
		if u.cfg.Transport == TransportPresigned {
			etag, terr = u.putPresigned(ctx, url, reader)
		} else {
			etag, terr = u.coord.uploadPart(ctx, sessionID, p.Number, totalParts, reader)
		}
		return stopUnlessTransient(terr)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		// Only exhausted transient failures become TransferFailed;
		// protocol errors keep their kind so the caller can abort.
		switch xferr.KindOf(err) {
		case xferr.KindUnknown, xferr.KindStoreUnavailable:
			return "", xferr.Wrap(xferr.KindTransferFailed, err,
				"part %d failed after %d attempts", p.Number, u.cfg.Retry.Attempts)
		}
		return "", err
	}
	return etag, nil
}

// putPresigned PUTs one chunk directly to the object store.
func (u *Uploader) putPresigned(ctx context.Context, url string, reader *chunkReader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, reader)
	if err != nil {
		return "", err
	}
	req.ContentLength = reader.Size()
	if u.cfg.SendMD5 {
		sum, err := reader.md5Base64()
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-MD5", sum)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("store returned %s", resp.Status)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("store response missing ETag")
	}
	return trimQuotes(etag), nil
}

// stopUnlessTransient marks errors whose kind cannot heal as permanent
// so the retry loop surfaces them immediately.
func stopUnlessTransient(err error) error {
	if err == nil {
		return nil
	}
	switch xferr.KindOf(err) {
	case xferr.KindStoreUnavailable, xferr.KindUnknown:
		return err
	default:
		return retry.Permanent(err)
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
