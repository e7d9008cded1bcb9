package revision_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/revision"
)

func TestRevision(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Revision Suite")
}

var _ = Describe("ClassifyBand", func() {
	It("classifies mastery scores into bands", func() {
		Expect(revision.ClassifyBand(0.1)).To(Equal(revision.BandWeak))
		Expect(revision.ClassifyBand(0.5)).To(Equal(revision.BandMedium))
		Expect(revision.ClassifyBand(0.8)).To(Equal(revision.BandStrong))
		Expect(revision.ClassifyBand(0.95)).To(Equal(revision.BandMastered))
	})
})

var _ = Describe("ComputeV0", func() {
	It("assigns a longer interval to a higher mastery band", func() {
		last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		weakState, weakDue := revision.ComputeV0(0.1, last)
		strongState, strongDue := revision.ComputeV0(0.95, last)

		Expect(strongState.IntervalDays).To(BeNumerically(">", weakState.IntervalDays))
		Expect(strongDue.After(weakDue)).To(BeTrue())
	})
})

var _ = Describe("DueBucket", func() {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	It("buckets an overdue date", func() {
		Expect(revision.DueBucket(now, now.AddDate(0, 0, -1))).To(Equal("overdue"))
	})

	It("buckets today", func() {
		Expect(revision.DueBucket(now, now.Add(2*time.Hour))).To(Equal("today"))
	})

	It("buckets a date 5 days out", func() {
		Expect(revision.DueBucket(now, now.AddDate(0, 0, 5))).To(Equal("day_5"))
	})

	It("buckets a distant date as later", func() {
		Expect(revision.DueBucket(now, now.AddDate(0, 0, 30))).To(Equal("later"))
	})
})

var _ = Describe("MapAttemptToRating", func() {
	It("maps an incorrect answer to Again", func() {
		Expect(revision.MapAttemptToRating(false, revision.Telemetry{})).To(Equal(revision.RatingAgain))
	})

	It("maps an incorrect but frequently-changed answer to Hard", func() {
		cc := 2
		Expect(revision.MapAttemptToRating(false, revision.Telemetry{ChangeCount: &cc})).To(Equal(revision.RatingHard))
	})

	It("maps a fast unmarked correct answer to Easy", func() {
		ms := 3000
		Expect(revision.MapAttemptToRating(true, revision.Telemetry{TimeSpentMs: &ms})).To(Equal(revision.RatingEasy))
	})

	It("maps a marked-for-review correct answer to Good", func() {
		ms := 1000
		Expect(revision.MapAttemptToRating(true, revision.Telemetry{TimeSpentMs: &ms, MarkedForReview: true})).To(Equal(revision.RatingGood))
	})
})

var _ = Describe("ComputeNextState (FSRS)", func() {
	It("produces a positive stability and a due date in the future on first review", func() {
		now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		state, due := revision.ComputeNextState(nil, revision.RatingGood, 0, revision.DefaultWeights, 0.9, now)
		Expect(state.Stability).To(BeNumerically(">", 0))
		Expect(due.After(now)).To(BeTrue())
	})

	It("grows stability across repeated successful reviews", func() {
		now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		state, _ := revision.ComputeNextState(nil, revision.RatingGood, 0, revision.DefaultWeights, 0.9, now)
		next, _ := revision.ComputeNextState(&state, revision.RatingGood, 3, revision.DefaultWeights, 0.9, now.AddDate(0, 0, 3))
		Expect(next.Stability).To(BeNumerically(">", state.Stability))
	})

	It("shrinks stability on a forgotten review", func() {
		now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
		state, _ := revision.ComputeNextState(nil, revision.RatingGood, 0, revision.DefaultWeights, 0.9, now)
		forgot, _ := revision.ComputeNextState(&state, revision.RatingAgain, 10, revision.DefaultWeights, 0.9, now.AddDate(0, 0, 10))
		Expect(forgot.Stability).To(BeNumerically("<", state.Stability))
	})
})
