// Package bandit implements the per-(learner,theme) Beta-posterior bandit
// state consumed by the Adaptive Selection Engine's Thompson Sampling step
// and updated by the Telemetry Update Pipeline.
package bandit

import "math"

// State is the mutable Beta(alpha, beta) posterior for one theme.
type State struct {
	Alpha float64
	Beta  float64
}

// NewState returns an uninformative Beta(1,1) prior.
func NewState() State {
	return State{Alpha: 1, Beta: 1}
}

const epsilon = 1e-6

// Reward computes the bounded reward signal from a pre/post mastery
// transition: r = clamp(max(0, (post-pre)/(1-pre+eps)), 0, 1).
func Reward(preMastery, postMastery float64) float64 {
	r := (postMastery - preMastery) / (1 - preMastery + epsilon)
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return r
}

// UpdatePosterior applies one Beta-posterior update: alpha += r, beta += (1-r).
func UpdatePosterior(s State, reward float64) State {
	return State{Alpha: s.Alpha + reward, Beta: s.Beta + (1 - reward)}
}

// ShouldUpdate reports whether a theme accumulated enough attempts in the
// session to warrant a posterior update, per reward_min_attempts_per_theme.
func ShouldUpdate(attemptsInSession, minAttempts int) bool {
	return attemptsInSession >= minAttempts
}

// Mean returns the posterior mean, used for diagnostics/analytics reads
// (selection itself samples rather than reading the mean).
func Mean(s State) float64 {
	if s.Alpha+s.Beta == 0 {
		return 0.5
	}
	return s.Alpha / (s.Alpha + s.Beta)
}

// Sample draws y ~ Beta(alpha, beta) as the ratio a/(a+b) of two Gamma
// draws (shapes alpha and beta) taken from rnd, threaded through the
// selection engine's seeded generator for full determinism.
func Sample(s State, rnd Source) float64 {
	a := sampleGamma(s.Alpha, rnd)
	b := sampleGamma(s.Beta, rnd)
	if a+b == 0 {
		return 0.5
	}
	return a / (a + b)
}

// Source is the minimal uniform-random interface the bandit and selection
// packages share, satisfied by math/rand/v2's *rand.Rand.
type Source interface {
	Float64() float64
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method,
// valid for shape >= 1; for shape < 1 it boosts via the standard
// Gamma(shape+1) transform and corrects with a uniform draw.
func sampleGamma(shape float64, rnd Source) float64 {
	if shape < 1 {
		u := rnd.Float64()
		return sampleGamma(shape+1, rnd) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = normalSample(rnd)
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rnd.Float64()
		if u < 1-0.0331*(x*x*x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// normalSample draws a standard normal sample via Box-Muller from the
// shared uniform source, keeping the whole pipeline on one seeded stream.
func normalSample(rnd Source) float64 {
	u1 := rnd.Float64()
	u2 := rnd.Float64()
	if u1 < 1e-12 {
		u1 = 1e-12
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
