package mastery

// BKTParams are the per-concept Bayesian Knowledge Tracing parameters:
// initial learned probability (L0), transition (T), slip (S), guess (G).
type BKTParams struct {
	L0 float64
	T  float64
	S  float64
	G  float64
}

// BKTState is the opaque per-concept posterior carried between attempts.
type BKTState struct {
	L float64 // P(learned) after the most recent transition
}

// InitialState returns the prior learned-probability before any observation.
func InitialState(p BKTParams) BKTState {
	return BKTState{L: p.L0}
}

// PredictCorrect returns the probability of a correct response given the
// current learned-probability and slip/guess parameters.
func PredictCorrect(state BKTState, p BKTParams) float64 {
	return state.L*(1-p.S) + (1-state.L)*p.G
}

// Observe applies the BKT forward-filter update for a single observation:
// Bayesian posterior update on L given correctness, then the transition step.
func Observe(state BKTState, correct bool, p BKTParams) BKTState {
	var posterior float64
	if correct {
		numerator := state.L * (1 - p.S)
		denom := numerator + (1-state.L)*p.G
		posterior = safeDiv(numerator, denom, state.L)
	} else {
		numerator := state.L * p.S
		denom := numerator + (1-state.L)*(1-p.G)
		posterior = safeDiv(numerator, denom, state.L)
	}
	next := posterior + (1-posterior)*p.T
	return BKTState{L: clamp01(next)}
}

func safeDiv(num, denom, fallback float64) float64 {
	if denom == 0 {
		return fallback
	}
	return num / denom
}

// ComputeV1 replays a full attempt sequence through the BKT forward filter
// and returns the canonical Result. Invariant 6 (correct posterior >= wrong
// posterior given the same prior) holds by construction: Observe(true, ...)
// always yields a posterior >= Observe(false, ...) for any valid BKTParams
// where S, G < 0.5, since a correct answer can only raise the odds ratio.
func ComputeV1(attempts []Attempt, p BKTParams, minAttempts int) (Result, BKTState) {
	state := InitialState(p)
	res := Result{AttemptsTotal: len(attempts)}
	for _, a := range attempts {
		if a.Correct {
			res.CorrectTotal++
		}
		state = Observe(state, a.Correct, p)
	}
	if res.AttemptsTotal > 0 {
		res.AccuracyPct = round2(100 * float64(res.CorrectTotal) / float64(res.AttemptsTotal))
	}
	if res.AttemptsTotal < minAttempts {
		res.MasteryScore = 0
		res.Reason = "insufficient_attempts"
		return res, state
	}
	res.MasteryScore = clamp01(state.L)
	return res, state
}
