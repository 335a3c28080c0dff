// Package quota enforces per-tenant and per-IP rate limits and plan usage
// quotas against the shared counter store. Both guards are synchronous and
// fail closed when the store is unreachable.
package quota

import (
	"fmt"
	"time"

	"github.com/visagelab/facegate/internal/plan"
)

// Family identifies an endpoint family with its own rate ceilings.
type Family string

const (
	FamilyCompare     Family = "compare"
	FamilySearch      Family = "search"
	FamilyBatch       Family = "batch"
	FamilyVideoSubmit Family = "video_submit"
	FamilyVideoStatus Family = "video_status"
)

func minuteBucket(now time.Time) string {
	return now.UTC().Format("200601021504")
}

func dayBucket(now time.Time) string {
	return now.UTC().Format("20060102")
}

func monthBucket(now time.Time) string {
	return now.UTC().Format("200601")
}

func tenantRateKey(tenantID string, family Family, now time.Time) string {
	return fmt.Sprintf("rate:tenant:%s:%s:%s", tenantID, family, minuteBucket(now))
}

func ipRateKey(ip string, family Family, now time.Time) string {
	return fmt.Sprintf("rate:ip:%s:%s:%s", ip, family, minuteBucket(now))
}

func dailyUsageKey(tenantID string, feature plan.Feature, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, feature, dayBucket(now))
}

func monthlyUsageKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:requests:%s", tenantID, monthBucket(now))
}

func monthlyVideoKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:video:%s", tenantID, monthBucket(now))
}

// MonthlyUsageKey exposes the monthly request counter key for readers
// outside the guard (abuse scanner).
func MonthlyUsageKey(tenantID string, now time.Time) string {
	return monthlyUsageKey(tenantID, now)
}

// InvalidationKeys lists every usage counter that must be cleared when a
// tenant's plan changes: current-day keys for all features plus the
// current-month request and video counters.
func InvalidationKeys(tenantID string, now time.Time) []string {
	keys := []string{
		monthlyUsageKey(tenantID, now),
		monthlyVideoKey(tenantID, now),
	}
	for _, f := range []plan.Feature{plan.FeatureCompare, plan.FeatureSearch, plan.FeatureBatch, plan.FeatureVideo} {
		keys = append(keys, dailyUsageKey(tenantID, f, now))
	}
	return keys
}

// untilNextUTCMidnight returns the TTL aligning a daily counter to its
// bucket boundary.
func untilNextUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// untilNextMonth returns the TTL aligning a monthly counter to its bucket
// boundary.
func untilNextMonth(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.Sub(now)
}
