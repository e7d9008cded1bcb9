package selection

import (
	"math"
	"sort"
	"time"
)

// ScoreTheme computes the step-3/4 candidate score for one theme: the
// weighted base priority, folded with a Thompson-sampled draw from its
// bandit posterior into a final_score.
func ScoreTheme(t ThemeInput, w Weights, th Thresholds, sampledY float64, now time.Time) ThemeScore {
	weakness := 1 - t.Mastery
	if weakness < 0 {
		weakness = 0
	}

	dueRatio := clamp01(float64(t.DueConceptCount) / float64(th.DueBaseline))

	uncertaintyRange := t.UncertaintyInit - t.UncertaintyFloor
	uncertaintyNorm := 0.0
	if uncertaintyRange > 0 {
		uncertaintyNorm = clamp01((t.LearnerUncertainty - t.UncertaintyFloor) / uncertaintyRange)
	}

	recency := 0.0
	if t.LastSelectedAt != nil {
		dt := now.Sub(*t.LastSelectedAt).Seconds()
		if dt < 0 {
			dt = 0
		}
		recency = math.Exp(-dt / th.RecencyTau)
	}

	supplyFactor := 1.0
	if th.SupplyMin > 0 {
		supplyFactor = math.Min(1, float64(t.AvailableItems)/float64(th.SupplyMin))
	}

	basePriority := (w.Weakness*weakness + w.DueRatio*dueRatio + w.Uncertainty*uncertaintyNorm - w.Recency*recency) * supplyFactor
	if basePriority < 0 {
		basePriority = 0
	}

	finalScore := basePriority * (w.Epsilon + sampledY)

	return ThemeScore{
		Theme:        t.Theme,
		Weakness:     weakness,
		DueRatio:     dueRatio,
		Uncertainty:  uncertaintyNorm,
		Recency:      recency,
		SupplyFactor: supplyFactor,
		BasePriority: basePriority,
		SampledY:     sampledY,
		FinalScore:   finalScore,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SelectThemes picks the top-scoring themes subject to min/max theme count
// and a minimum supply threshold, preserving deterministic tie-break order
// by theme name.
func SelectThemes(scores []ThemeScore, supply map[string]int, th Thresholds) []ThemeScore {
	eligible := make([]ThemeScore, 0, len(scores))
	for _, s := range scores {
		if supply[s.Theme] >= th.SupplyThreshold {
			eligible = append(eligible, s)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].FinalScore != eligible[j].FinalScore {
			return eligible[i].FinalScore > eligible[j].FinalScore
		}
		return eligible[i].Theme < eligible[j].Theme
	})

	max := th.MaxThemeCount
	if max > len(eligible) {
		max = len(eligible)
	}
	chosen := eligible[:max]

	if len(chosen) < th.MinThemeCount && len(eligible) > len(chosen) {
		extra := th.MinThemeCount
		if extra > len(eligible) {
			extra = len(eligible)
		}
		chosen = eligible[:extra]
	}
	return chosen
}

// AllocateQuotas distributes count across chosen themes proportional to
// final_score, clamped to [min_per_theme, max_per_theme] and to each
// theme's supply, with remainders distributed in score order.
func AllocateQuotas(chosen []ThemeScore, supply map[string]int, count int, th Thresholds) map[string]int {
	quotas := make(map[string]int, len(chosen))
	if len(chosen) == 0 || count <= 0 {
		return quotas
	}

	var totalScore float64
	for _, s := range chosen {
		totalScore += s.FinalScore
	}

	capFor := func(theme string) int {
		cap := th.MaxPerTheme
		if supply[theme] < cap {
			cap = supply[theme]
		}
		return cap
	}

	remaining := count
	raw := make(map[string]float64, len(chosen))
	for _, s := range chosen {
		share := float64(count) / float64(len(chosen))
		if totalScore > 0 {
			share = float64(count) * (s.FinalScore / totalScore)
		}
		raw[s.Theme] = share
		q := int(math.Floor(share))
		if q < th.MinPerTheme {
			q = th.MinPerTheme
		}
		if c := capFor(s.Theme); q > c {
			q = c
		}
		quotas[s.Theme] = q
		remaining -= q
	}

	order := append([]ThemeScore(nil), chosen...)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].FinalScore != order[j].FinalScore {
			return order[i].FinalScore > order[j].FinalScore
		}
		return order[i].Theme < order[j].Theme
	})

	for i := 0; remaining > 0 && len(order) > 0; i = (i + 1) % len(order) {
		theme := order[i].Theme
		if c := capFor(theme); quotas[theme] < c {
			quotas[theme]++
			remaining--
		}
		if allAtCap(quotas, order, capFor) {
			break
		}
	}
	return quotas
}

func allAtCap(quotas map[string]int, order []ThemeScore, capFor func(string) int) bool {
	for _, s := range order {
		if quotas[s.Theme] < capFor(s.Theme) {
			return false
		}
	}
	return true
}
