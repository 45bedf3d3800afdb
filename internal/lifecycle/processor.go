package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/simples3/internal/engine"
	"github.com/openendpoint/simples3/internal/metadata"
	"github.com/openendpoint/simples3/internal/telemetry"
)

// Processor periodically scans every bucket's lifecycle rules and deletes
// objects that have aged past their configured expiration.
type Processor struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *zap.SugaredLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProcessor creates a lifecycle Processor. An interval of zero disables
// the scanner entirely (spec §4.13).
func NewProcessor(eng *engine.Engine, interval time.Duration, logger *zap.SugaredLogger) *Processor {
	return &Processor{engine: eng, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

// Start launches the scan loop. A no-op if interval is zero.
func (p *Processor) Start() {
	if p.interval <= 0 {
		p.logger.Infow("lifecycle scanner disabled")
		return
	}
	p.wg.Add(1)
	go p.run()
	p.logger.Infow("lifecycle scanner started", "interval", p.interval)
}

// Stop signals the loop to exit and waits for it.
func (p *Processor) Stop() {
	if p.interval <= 0 {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
}

// run skips the initial tick, matching spec §4.13's expectation that a
// freshly started gateway doesn't immediately start deleting objects.
func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.scanAll(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

func (p *Processor) scanAll(ctx context.Context) {
	rulesByBucket, err := p.engine.Store.ListAllLifecycleRules(ctx)
	if err != nil {
		p.logger.Warnw("lifecycle: list rules failed", "error", err)
		return
	}
	for bucket, rules := range rulesByBucket {
		p.scanBucket(ctx, bucket, rules)
	}
}

func (p *Processor) scanBucket(ctx context.Context, bucket string, rules []metadata.LifecycleRule) {
	enabled := rules[:0]
	for _, r := range rules {
		if r.Status == "Enabled" {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return
	}

	now := time.Now().UTC()
	opts := metadata.ListOptions{MaxKeys: 1000}
	for {
		result, err := p.engine.ListObjectsV2(ctx, bucket, opts, false)
		if err != nil {
			p.logger.Warnw("lifecycle: list objects failed", "bucket", bucket, "error", err)
			return
		}
		for _, obj := range result.Contents {
			p.evaluateObject(ctx, bucket, obj, enabled, now)
		}
		if !result.IsTruncated {
			return
		}
		opts.ContinuationToken = result.NextContinuationToken
	}
}

func (p *Processor) evaluateObject(ctx context.Context, bucket string, obj metadata.ObjectMetadata, rules []metadata.LifecycleRule, now time.Time) {
	var tags metadata.Tagging
	var loadedTags bool
	for _, rule := range rules {
		if len(rule.Tags) > 0 && !loadedTags {
			tags, _ = p.engine.Store.GetTagging(ctx, bucket, obj.Key)
			loadedTags = true
		}
		if !matchesFilter(rule, obj.Key, tags) {
			continue
		}
		if !expired(rule, obj.LastModified, now) {
			continue
		}
		if err := p.engine.DeleteObject(ctx, bucket, obj.Key); err != nil {
			p.logger.Warnw("lifecycle: delete expired object failed", "bucket", bucket, "key", obj.Key, "error", err)
			return
		}
		telemetry.LifecycleExpiredTotal.Inc()
		p.logger.Infow("lifecycle: expired object deleted", "bucket", bucket, "key", obj.Key, "rule", rule.ID)
		return
	}
}
