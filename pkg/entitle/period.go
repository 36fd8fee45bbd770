package entitle

import "time"

// Usage counters are scoped to calendar-month buckets. The bucket key
// is derived deterministically from the clock, so usage from a prior
// month never counts against the current quota and a new month starts
// at zero without any reset job.

// BucketKey returns the period bucket key for t, e.g. "2026-08".
// Always computed in UTC.
func BucketKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// BucketStart returns the first instant of the bucket containing t.
func BucketStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// BucketEnd returns the first instant of the bucket after the one
// containing t.
func BucketEnd(t time.Time) time.Time {
	return BucketStart(t).AddDate(0, 1, 0)
}
