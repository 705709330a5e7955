package session

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datalift/partstream/internal/xferr"
)

const numShards = 32

// Store is a concurrency-safe session registry. Keys are sharded so
// operations on distinct sessions do not contend; mutations of the
// same session serialize on its entry lock. Stores are constructed at
// process start and injected, never shared through package state.
type Store struct {
	shards [numShards]shard

	now func() time.Time
}

type shard struct {
	sync.RWMutex
	m map[string]*entry
}

type entry struct {
	mu sync.Mutex
	s  Session
}

// NewStore creates an empty registry.
func NewStore() *Store {
	st := &Store{now: time.Now}
	for i := range st.shards {
		st.shards[i].m = make(map[string]*entry)
	}
	return st
}

func (st *Store) shard(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &st.shards[h.Sum32()%numShards]
}

// Create inserts the session and returns its generated identifier.
func (st *Store) Create(s Session) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := st.now()
	s.ID = id
	s.CreatedAt = now
	s.LastActiveAt = now
	if s.Parts == nil {
		s.Parts = make(map[int]string)
	}

	sh := st.shard(id)
	sh.Lock()
	sh.m[id] = &entry{s: s}
	sh.Unlock()
	return id
}

// Get returns a snapshot of the session.
func (st *Store) Get(id string) (Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone(), nil
}

// GetOwned returns a snapshot after verifying the caller owns the
// session. Ownership mismatches fail closed.
func (st *Store) GetOwned(id, owner string) (Session, error) {
	e, err := st.lookup(id)
	if err != nil {
		return Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Owner != owner {
		return Session{}, xferr.New(xferr.KindPermissionDenied,
			"session %s is not owned by caller", id)
	}
	return e.s.clone(), nil
}

// RecordPart upserts a confirmed part ETag and refreshes the session's
// activity time. The first non-zero totalHint fixes ExpectedParts; any
// later differing hint is a conflict. Returns the updated snapshot.
func (st *Store) RecordPart(id, owner string, partNumber int, etag string, totalHint int) (Session, error) {
	if partNumber < 1 {
		return Session{}, xferr.New(xferr.KindInvalidInput, "part number %d out of range", partNumber)
	}
	e, err := st.lookup(id)
	if err != nil {
		return Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Owner != owner {
		return Session{}, xferr.New(xferr.KindPermissionDenied,
			"session %s is not owned by caller", id)
	}
	if totalHint > 0 {
		if e.s.ExpectedParts == 0 {
			e.s.ExpectedParts = totalHint
		} else if e.s.ExpectedParts != totalHint {
			return Session{}, xferr.New(xferr.KindConflict,
				"session %s total parts already fixed at %d, got %d", id, e.s.ExpectedParts, totalHint)
		}
	}
	e.s.Parts[partNumber] = etag
	e.s.LastActiveAt = st.now()
	return e.s.clone(), nil
}

// Touch refreshes the session's activity time.
func (st *Store) Touch(id string) {
	e, err := st.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.s.LastActiveAt = st.now()
	e.mu.Unlock()
}

// Delete removes the session. Deleting an absent session is not an
// error.
func (st *Store) Delete(id string) {
	sh := st.shard(id)
	sh.Lock()
	delete(sh.m, id)
	sh.Unlock()
}

// SweepExpired removes and returns every session whose last activity
// is older than ttl.
func (st *Store) SweepExpired(now time.Time, ttl time.Duration) []Session {
	var swept []Session
	cutoff := now.Add(-ttl)
	for i := range st.shards {
		sh := &st.shards[i]
		sh.Lock()
		for id, e := range sh.m {
			e.mu.Lock()
			if e.s.LastActiveAt.Before(cutoff) {
				swept = append(swept, e.s.clone())
				delete(sh.m, id)
			}
			e.mu.Unlock()
		}
		sh.Unlock()
	}
	return swept
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.RLock()
		n += len(sh.m)
		sh.RUnlock()
	}
	return n
}

func (st *Store) lookup(id string) (*entry, error) {
	sh := st.shard(id)
	sh.RLock()
	e, ok := sh.m[id]
	sh.RUnlock()
	if !ok {
		return nil, xferr.New(xferr.KindNotFound, "session %s not found", id)
	}
	return e, nil
}
