package admin

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/telemetry"
)

// GaugeRefresher periodically recomputes the scalar state gauges
// (simples3_buckets_total, simples3_objects_total, ...) from the metadata
// store, since nothing in the request path updates them incrementally
// anymore (the teacher's per-mutation Inc/Dec helpers were dropped along
// with its per-bucket metric vectors).
type GaugeRefresher struct {
	store    metadata.Store
	interval time.Duration
	logger   *zap.SugaredLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewGaugeRefresher(store metadata.Store, interval time.Duration, logger *zap.SugaredLogger) *GaugeRefresher {
	return &GaugeRefresher{store: store, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

func (g *GaugeRefresher) Start() {
	if g.interval <= 0 {
		return
	}
	g.wg.Add(1)
	go g.run()
}

func (g *GaugeRefresher) Stop() {
	if g.interval <= 0 {
		return
	}
	close(g.stopCh)
	g.wg.Wait()
}

func (g *GaugeRefresher) run() {
	defer g.wg.Done()

	g.refresh(context.Background())

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.refresh(context.Background())
		case <-g.stopCh:
			return
		}
	}
}

func (g *GaugeRefresher) refresh(ctx context.Context) {
	buckets, err := g.store.ListBuckets(ctx)
	if err != nil {
		g.logger.Warnw("gauge refresh: list buckets failed", "error", err)
		return
	}
	telemetry.BucketsTotal.Set(float64(len(buckets)))

	var objects int
	var bytes int64
	for _, b := range buckets {
		count, err := g.store.CountObjects(ctx, b.Name)
		if err != nil {
			g.logger.Warnw("gauge refresh: count objects failed", "bucket", b.Name, "error", err)
			continue
		}
		objects += count
		bytes += g.bucketBytes(ctx, b.Name)
	}
	telemetry.ObjectsTotal.Set(float64(objects))
	telemetry.StorageBytesTotal.Set(float64(bytes))

	creds, err := g.store.ListCredentials(ctx)
	if err != nil {
		g.logger.Warnw("gauge refresh: list credentials failed", "error", err)
	} else {
		telemetry.CredentialsTotal.Set(float64(len(creds)))
	}

	uploads, err := g.store.ListMultipartUploads(ctx)
	if err != nil {
		g.logger.Warnw("gauge refresh: list uploads failed", "error", err)
		return
	}
	telemetry.MultipartUploadsActive.Set(float64(len(uploads)))
	if len(uploads) == 0 {
		telemetry.MultipartOldestAgeSeconds.Set(0)
		return
	}
	oldest := uploads[0].CreatedAt
	for _, u := range uploads[1:] {
		if u.CreatedAt.Before(oldest) {
			oldest = u.CreatedAt
		}
	}
	telemetry.MultipartOldestAgeSeconds.Set(time.Since(oldest).Seconds())
}

// bucketBytes sums object sizes across every page of a bucket's listing.
// CountObjects reports a row count, not total bytes, so this walks the
// listing separately to accumulate Size.
func (g *GaugeRefresher) bucketBytes(ctx context.Context, bucket string) int64 {
	var total int64
	opts := metadata.ListOptions{MaxKeys: 1000}
	for {
		result, err := g.store.ListObjects(ctx, bucket, opts)
		if err != nil {
			g.logger.Warnw("gauge refresh: list objects failed", "bucket", bucket, "error", err)
			return total
		}
		for _, obj := range result.Contents {
			total += obj.Size
		}
		if !result.IsTruncated {
			return total
		}
		opts.ContinuationToken = result.NextContinuationToken
	}
}
