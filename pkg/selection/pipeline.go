package selection

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/knowledge/bandit"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// Run executes the full Adaptive Selection Engine pipeline (seed derivation
// through interleaving) against pre-fetched theme and item candidates. It
// performs no I/O: callers resolve ThemeInput/ItemInput once per call inside
// the enclosing DB transaction, which is what makes two calls against an
// unchanged state-store byte-identical.
func Run(in Input, now time.Time) (*Plan, error) {
	w := in.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	th := in.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}

	seed := DeriveSeed(in.LearnerID, in.Mode, in.Count, in.BlockIDs, in.ThemeIDs)
	rnd := NewSource(seed)

	if len(in.Themes) == 0 {
		return &Plan{Seed: seed, Reason: "no candidate themes", NotEnough: true}, nil
	}

	supply := make(map[string]int, len(in.Themes))
	scores := make([]ThemeScore, 0, len(in.Themes))
	for _, t := range in.Themes {
		supply[t.Theme] = availableExcluding(in.Items[t.Theme], in.Excluded)
		y := bandit.Sample(t.Bandit, rnd)
		scores = append(scores, ScoreTheme(t, w, th, y, now))
	}

	chosen := SelectThemes(scores, supply, th)
	if len(chosen) == 0 {
		return &Plan{Seed: seed, Themes: scores, Reason: "no theme met the supply threshold", NotEnough: true}, nil
	}

	quotas := AllocateQuotas(chosen, supply, in.Count, th)

	themeOrder := make([]string, 0, len(chosen))
	for _, s := range chosen {
		themeOrder = append(themeOrder, s.Theme)
	}

	perTheme := make(map[string][]uuid.UUID, len(chosen))
	var sumP float64
	var nP int
	var dueTotal, dueFilled int
	totalPicked := 0
	for _, theme := range themeOrder {
		quota := quotas[theme]
		candidates := excludeItems(in.Items[theme], in.Excluded)
		picked := PickItems(candidates, quota, th)
		ids := make([]uuid.UUID, 0, len(picked))
		for _, it := range picked {
			ids = append(ids, it.ItemID)
			sumP += it.PCorrect
			nP++
			if it.Due {
				dueFilled++
			}
		}
		for _, it := range candidates {
			if it.Due {
				dueTotal++
			}
		}
		perTheme[theme] = ids
		totalPicked += len(ids)
	}

	contiguous := in.Mode == models.ModeExam
	ordered := Interleave(perTheme, themeOrder, contiguous)

	avgP := 0.0
	if nP > 0 {
		avgP = sumP / float64(nP)
	}
	dueCoverage := 0.0
	if dueTotal > 0 {
		dueCoverage = float64(dueFilled) / float64(dueTotal)
	}

	plan := &Plan{
		Seed:        seed,
		ItemIDs:     ordered,
		Themes:      scores,
		Quotas:      quotas,
		AvgPCorrect: avgP,
		DueCoverage: dueCoverage,
	}

	if totalPicked < in.Count {
		plan.NotEnough = true
		plan.Reason = "insufficient item supply for requested count"
	}
	return plan, nil
}

// RunOrError is a thin convenience wrapper returning the typed supply error
// the transport layer maps to NOT_ENOUGH_QUESTIONS, for callers that want an
// error return rather than inspecting Plan.NotEnough.
func RunOrError(in Input, now time.Time) (*Plan, error) {
	plan, err := Run(in, now)
	if err != nil {
		return nil, err
	}
	if plan.NotEnough && len(plan.ItemIDs) < in.Count {
		return plan, apperrors.NewSupplyError("not enough questions available").
			WithDetailsf("requested=%d available=%d reason=%s", in.Count, len(plan.ItemIDs), plan.Reason)
	}
	return plan, nil
}

func availableExcluding(items []ItemInput, excluded map[uuid.UUID]bool) int {
	n := 0
	for _, it := range items {
		if !excluded[it.ItemID] {
			n++
		}
	}
	return n
}

func excludeItems(items []ItemInput, excluded map[uuid.UUID]bool) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if !excluded[it.ItemID] {
			out = append(out, it)
		}
	}
	return out
}
