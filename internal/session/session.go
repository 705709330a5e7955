// Package session holds coordinator-side bookkeeping for in-flight
// multipart transfers: the session registry and its expiry sweeper.
package session

import (
	"time"
)

// Session tracks one in-progress multipart upload. The Parts map holds
// only parts whose ETag the object store has confirmed.
type Session struct {
	ID           string
	Bucket       string
	Key          string
	UploadID     string
	Owner        string
	CreatedAt    time.Time
	LastActiveAt time.Time

	// ExpectedParts is 0 until the uploader commits to a total; once
	// set it is immutable for the life of the session.
	ExpectedParts int

	Parts map[int]string // part number -> ETag
}

func (s *Session) clone() Session {
	out := *s
	out.Parts = make(map[int]string, len(s.Parts))
	for pn, etag := range s.Parts {
		out.Parts[pn] = etag
	}
	return out
}
