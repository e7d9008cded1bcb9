package selection

import (
	"sort"

	"github.com/google/uuid"
)

// pickCategory buckets a candidate item into the step-7 priority order:
// due review > weak concept > desirable-difficulty band > new/unrated
// exploration > high-uncertainty exploration > fallback.
func pickCategory(it ItemInput, th Thresholds) int {
	switch {
	case it.Due:
		return 0
	case it.Weak:
		return 1
	case it.PCorrect >= th.ChallengeLow && it.PCorrect <= th.ChallengeHigh:
		return 2
	case it.Unrated:
		return 3
	case it.Uncertainty > 0:
		return 4
	default:
		return 5
	}
}

// PickItems selects up to quota items for one theme's candidate pool in
// priority order, breaking ties deterministically by item ID so repeated
// calls over the same candidate set return the same selection.
func PickItems(candidates []ItemInput, quota int, th Thresholds) []ItemInput {
	sorted := append([]ItemInput(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := pickCategory(sorted[i], th), pickCategory(sorted[j], th)
		if ci != cj {
			return ci < cj
		}
		if ci == 4 && sorted[i].Uncertainty != sorted[j].Uncertainty {
			return sorted[i].Uncertainty > sorted[j].Uncertainty
		}
		return sorted[i].ItemID.String() < sorted[j].ItemID.String()
	})

	if quota > len(sorted) {
		quota = len(sorted)
	}
	return sorted[:quota]
}

// Interleave orders the final picked-items-per-theme map into a single
// list: round-robin across themes for TUTOR/REVISION, contiguous blocks
// per theme (in theme-priority order) for EXAM.
func Interleave(perTheme map[string][]uuid.UUID, themeOrder []string, contiguous bool) []uuid.UUID {
	if contiguous {
		out := make([]uuid.UUID, 0)
		for _, theme := range themeOrder {
			out = append(out, perTheme[theme]...)
		}
		return out
	}

	out := make([]uuid.UUID, 0)
	idx := make(map[string]int, len(themeOrder))
	for {
		progressed := false
		for _, theme := range themeOrder {
			items := perTheme[theme]
			i := idx[theme]
			if i < len(items) {
				out = append(out, items[i])
				idx[theme] = i + 1
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}
