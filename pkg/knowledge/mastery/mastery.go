// Package mastery implements the Knowledge-State Store's mastery module:
// recency-weighted accuracy (v0) and Bayesian Knowledge Tracing (v1).
package mastery

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jordigilh/medlearn-core/internal/errors"
	"github.com/jordigilh/medlearn-core/pkg/models"
)

// Attempt is one recorded answer used to recompute mastery for a theme.
type Attempt struct {
	OccurredAt time.Time
	Correct    bool
	Difficulty string // easy|medium|hard, empty when unknown
}

// Result is the canonical output shared by every mastery model variant.
type Result struct {
	MasteryScore  float64
	AccuracyPct   float64
	AttemptsTotal int
	CorrectTotal  int
	Reason        string // "insufficient_attempts" or empty
	ModelState    []byte
}

// Params configures the v0 recency-weighted-accuracy computation.
type Params struct {
	// DayBuckets maps an inclusive upper bound in days to a weight; buckets
	// are evaluated in ascending order of the bound and an attempt counts
	// toward the first bucket it fits (default {7:0.5, 30:0.3, 90:0.2}).
	DayBuckets        []Bucket
	DifficultyWeights map[string]float64 // default {easy:0.9, medium:1.0, hard:1.1}
	MinAttempts       int                // default 5
}

type Bucket struct {
	UpToDays int
	Weight   float64
}

func DefaultParams() Params {
	return Params{
		DayBuckets: []Bucket{
			{UpToDays: 7, Weight: 0.5},
			{UpToDays: 30, Weight: 0.3},
			{UpToDays: 90, Weight: 0.2},
		},
		DifficultyWeights: map[string]float64{"easy": 0.9, "medium": 1.0, "hard": 1.1},
		MinAttempts:       5,
	}
}

// ComputeV0 computes recency-weighted accuracy over day buckets with an
// optional difficulty multiplier and a minimum-attempts floor.
func ComputeV0(now time.Time, attempts []Attempt, params Params) Result {
	res := Result{AttemptsTotal: len(attempts)}
	for _, a := range attempts {
		if a.Correct {
			res.CorrectTotal++
		}
	}
	if res.AttemptsTotal > 0 {
		res.AccuracyPct = round2(100 * float64(res.CorrectTotal) / float64(res.AttemptsTotal))
	}

	if len(attempts) < params.MinAttempts {
		res.MasteryScore = 0
		res.Reason = "insufficient_attempts"
		return res
	}

	var weightedCorrect, weightSum float64
	for _, a := range attempts {
		days := now.Sub(a.OccurredAt).Hours() / 24
		w, ok := bucketWeight(days, params.DayBuckets)
		if !ok {
			continue // outside every bucket: too stale to influence the score
		}
		if m, ok := params.DifficultyWeights[a.Difficulty]; ok {
			w *= m
		}
		weightSum += w
		if a.Correct {
			weightedCorrect += w
		}
	}

	if weightSum == 0 {
		res.MasteryScore = 0
		res.Reason = "insufficient_attempts"
		return res
	}

	res.MasteryScore = clamp01(weightedCorrect / weightSum)
	return res
}

func bucketWeight(days float64, buckets []Bucket) (float64, bool) {
	for _, b := range buckets {
		if days <= float64(b.UpToDays) {
			return b.Weight, true
		}
	}
	return 0, false
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

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// Provenance is stamped on every write by the caller (the telemetry fan-out
// step), never computed inside this package.
type Provenance struct {
	AlgoVersionID uuid.UUID
	ParamsID      uuid.UUID
	RunID         uuid.UUID
}

// NewRecord assembles a models.MasteryRecord from a computed Result.
func NewRecord(learnerID uuid.UUID, theme string, res Result, model models.MasteryModel, lastAttemptAt time.Time, prov Provenance) models.MasteryRecord {
	return models.MasteryRecord{
		LearnerID:     learnerID,
		Theme:         theme,
		AttemptsTotal: res.AttemptsTotal,
		CorrectTotal:  res.CorrectTotal,
		AccuracyPct:   res.AccuracyPct,
		MasteryScore:  res.MasteryScore,
		MasteryModel:  model,
		LastAttemptAt: lastAttemptAt,
		ModelState:    res.ModelState,
		AlgoVersionID: prov.AlgoVersionID,
		ParamsID:      prov.ParamsID,
		RunID:         prov.RunID,
	}
}

// ValidateBKTParams enforces the BKT parameter constraints; violating them
// must reject the fitted parameter set and fall back to v0.
func ValidateBKTParams(p BKTParams) error {
	switch {
	case !(p.L0 > 0 && p.L0 < 0.5):
		return apperrors.NewIntegrityError("L0 must be in (0, 0.5)")
	case !(p.T > 0 && p.T < 0.5):
		return apperrors.NewIntegrityError("T must be in (0, 0.5)")
	case !(p.S > 0 && p.S < 0.4):
		return apperrors.NewIntegrityError("S must be in (0, 0.4)")
	case !(p.G > 0 && p.G < 0.4):
		return apperrors.NewIntegrityError("G must be in (0, 0.4)")
	case p.S+p.G >= 1:
		return apperrors.NewIntegrityError("S + G must be < 1")
	case (1 - p.S) <= p.G:
		return apperrors.NewIntegrityError("(1 - S) must be > G")
	}
	return nil
}
