package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/datalift/partstream/internal/logger"
	"github.com/datalift/partstream/internal/objectstore"
)

// Sweeper reclaims idle sessions: on a fixed schedule it removes every
// session past the TTL and aborts its multipart upload at the object
// store. Its job is to bound local memory growth; a remote abort that
// fails is logged and left to the store's own lifecycle expiration.
type Sweeper struct {
	store   *Store
	objects objectstore.Store
	ttl     time.Duration

	cron *cron.Cron

	// OnSwept, if set, observes the number of sessions reclaimed per
	// run. Used to feed metrics.
	OnSwept func(n int)
}

// NewSweeper builds a sweeper over the given registry and store.
func NewSweeper(store *Store, objects objectstore.Store, ttl time.Duration) *Sweeper {
	return &Sweeper{store: store, objects: objects, ttl: ttl}
}

// Start schedules sweeps at the given interval. The sweeper owns its
// schedule until Stop is called.
func (s *Sweeper) Start(interval time.Duration) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	logger.Info().Dur("interval", interval).Dur("ttl", s.ttl).Msg("session sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	logger.Info().Msg("session sweeper stopped")
}

// Sweep reclaims expired sessions once and returns how many it
// removed. Safe to call directly, outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired := s.store.SweepExpired(time.Now(), s.ttl)
	for _, sess := range expired {
		up := objectstore.Upload{Bucket: sess.Bucket, Key: sess.Key, UploadID: sess.UploadID}
		if err := s.objects.AbortMultipartUpload(ctx, up); err != nil {
			logger.Warn().Err(err).Str("session", sess.ID).Str("key", sess.Key).
				Msg("abort of expired upload failed, leaving it to store lifecycle expiry")
			continue
		}
		logger.Info().Str("session", sess.ID).Str("key", sess.Key).
			Time("last_active", sess.LastActiveAt).Msg("expired upload session reclaimed")
	}
	if s.OnSwept != nil && len(expired) > 0 {
		s.OnSwept(len(expired))
	}
	return len(expired)
}
