// Package lifecycle implements the background expiration scanner (C13).
// Rule storage itself lives in metadata.Store (GetLifecycleRules et al.);
// this package only matches and evaluates rules against listed objects.
package lifecycle

import (
	"strings"
	"time"

	"github.com/openendpoint/simples3/internal/metadata"
)

// matchesFilter reports whether key and its tag set satisfy rule's prefix
// and tag filters (spec §3: a rule with no tags matches on prefix alone).
func matchesFilter(rule metadata.LifecycleRule, key string, tags metadata.Tagging) bool {
	if rule.Prefix != "" && !strings.HasPrefix(key, rule.Prefix) {
		return false
	}
	for k, v := range rule.Tags {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// expired reports whether lastModified has aged past rule's expiration,
// which is exactly one of Days (relative) or Date (absolute), never both.
func expired(rule metadata.LifecycleRule, lastModified, now time.Time) bool {
	if rule.Date != "" {
		deadline, err := time.Parse(time.RFC3339, rule.Date)
		if err != nil {
			return false
		}
		return !now.Before(deadline)
	}
	if rule.Days > 0 {
		return now.Sub(lastModified) >= time.Duration(rule.Days)*24*time.Hour
	}
	return false
}
