// Package revision implements the Knowledge-State Store's review-schedule
// module: Leitner-style interval buckets (v0) and FSRS (v1).
package revision

import (
	"time"
)

// Band classifies a mastery score into a coarse strength bucket that picks
// the v0 interval.
type Band string

const (
	BandWeak     Band = "weak"
	BandMedium   Band = "medium"
	BandStrong   Band = "strong"
	BandMastered Band = "mastered"
)

// ClassifyBand maps a mastery score in [0,1] to a Band.
func ClassifyBand(mastery float64) Band {
	switch {
	case mastery < 0.4:
		return BandWeak
	case mastery < 0.7:
		return BandMedium
	case mastery < 0.9:
		return BandStrong
	default:
		return BandMastered
	}
}

// DefaultBins are the Leitner-style interval-day options, index 0 used for
// the weakest band.
var DefaultBins = []int{1, 3, 7, 14, 30, 60, 120}

// bandBinIndex maps each band to a starting index into DefaultBins.
var bandBinIndex = map[Band]int{
	BandWeak:     0,
	BandMedium:   2,
	BandStrong:   4,
	BandMastered: 6,
}

// V0State is the opaque per-(learner,theme) v0 review state.
type V0State struct {
	IntervalDays int
	Stage        int
}

// ComputeV0 advances the Leitner-style schedule from the current mastery
// band, returning the new interval and the resulting due_at.
func ComputeV0(mastery float64, lastReviewAt time.Time) (V0State, time.Time) {
	band := ClassifyBand(mastery)
	idx := bandBinIndex[band]
	interval := DefaultBins[idx]
	return V0State{IntervalDays: interval, Stage: idx}, lastReviewAt.AddDate(0, 0, interval)
}

// DueBucket classifies a due_at relative to now into the admin/analytics
// bucket scheme: overdue, today, tomorrow, day_N (2-7), or later.
func DueBucket(now, dueAt time.Time) string {
	if dueAt.Before(now) {
		return "overdue"
	}
	if sameDate(now, dueAt) {
		return "today"
	}
	daysUntil := int(dueAt.Sub(now).Hours() / 24)
	switch {
	case daysUntil <= 1:
		return "tomorrow"
	case daysUntil <= 7:
		return dayBucketLabel(daysUntil)
	default:
		return "later"
	}
}

func dayBucketLabel(n int) string {
	const prefix = "day_"
	return prefix + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
