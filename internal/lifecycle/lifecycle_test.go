package lifecycle

import (
	"testing"
	"time"

	"github.com/openendpoint/simples3/internal/metadata"
)

func TestMatchesFilterPrefix(t *testing.T) {
	rule := metadata.LifecycleRule{Prefix: "logs/"}
	if !matchesFilter(rule, "logs/2024.txt", nil) {
		t.Error("expected key under prefix to match")
	}
	if matchesFilter(rule, "images/2024.png", nil) {
		t.Error("expected key outside prefix not to match")
	}
}

func TestMatchesFilterTags(t *testing.T) {
	rule := metadata.LifecycleRule{Tags: map[string]string{"archive": "true"}}
	if !matchesFilter(rule, "any/key", metadata.Tagging{"archive": "true"}) {
		t.Error("expected matching tag to satisfy filter")
	}
	if matchesFilter(rule, "any/key", metadata.Tagging{"archive": "false"}) {
		t.Error("expected mismatched tag value to fail filter")
	}
	if matchesFilter(rule, "any/key", nil) {
		t.Error("expected missing tag to fail filter")
	}
}

func TestExpiredByDays(t *testing.T) {
	rule := metadata.LifecycleRule{Days: 30}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -31)
	recent := now.AddDate(0, 0, -10)
	if !expired(rule, old, now) {
		t.Error("expected object older than Days to be expired")
	}
	if expired(rule, recent, now) {
		t.Error("expected object younger than Days not to be expired")
	}
}

func TestExpiredByDate(t *testing.T) {
	rule := metadata.LifecycleRule{Date: "2026-01-01T00:00:00Z"}
	before := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	after := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if expired(rule, time.Time{}, before) {
		t.Error("expected expiration not yet reached")
	}
	if !expired(rule, time.Time{}, after) {
		t.Error("expected expiration to have passed")
	}
}
