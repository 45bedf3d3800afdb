// Package multipart implements the background multipart-upload reaper
// (C13's other half): incomplete uploads older than a configured TTL are
// aborted so their part files don't accumulate forever. Grounded on
// internal/lifecycle/processor.go's ticker+stopCh+WaitGroup worker shape.
package multipart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/telemetry"
)

// Reaper periodically aborts multipart uploads older than ttl.
type Reaper struct {
	engine   *engine.Engine
	ttl      time.Duration
	interval time.Duration
	logger   *zap.SugaredLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper creates a Reaper. A zero ttl or interval disables it entirely.
func NewReaper(eng *engine.Engine, ttl, interval time.Duration, logger *zap.SugaredLogger) *Reaper {
	return &Reaper{engine: eng, ttl: ttl, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

func (r *Reaper) disabled() bool { return r.ttl <= 0 || r.interval <= 0 }

// Start launches the reap loop. A no-op when disabled.
func (r *Reaper) Start() {
	if r.disabled() {
		r.logger.Infow("multipart reaper disabled")
		return
	}
	r.wg.Add(1)
	go r.run()
	r.logger.Infow("multipart reaper started", "ttl", r.ttl, "interval", r.interval)
}

// Stop signals the loop to exit and waits for it.
func (r *Reaper) Stop() {
	if r.disabled() {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
}

// run skips the initial tick, same rationale as the lifecycle scanner: a
// freshly started gateway shouldn't immediately start aborting uploads that
// happen to already be older than the TTL from a prior process's clock.
func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapOnce(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reaper) reapOnce(ctx context.Context) {
	uploads, err := r.engine.Store.ListMultipartUploads(ctx)
	if err != nil {
		r.logger.Warnw("multipart reaper: list uploads failed", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-r.ttl)
	for _, u := range uploads {
		if u.CreatedAt.After(cutoff) {
			continue
		}
		if err := r.engine.AbortMultipartUpload(ctx, u.Bucket, u.Key, u.UploadID); err != nil {
			r.logger.Warnw("multipart reaper: abort failed", "upload_id", u.UploadID, "error", err)
			continue
		}
		telemetry.MultipartExpiredTotal.Inc()
		r.logger.Infow("multipart reaper: aborted stale upload", "bucket", u.Bucket, "key", u.Key, "upload_id", u.UploadID)
	}
}
