package mastery_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/mastery"
)

func TestMastery(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mastery Suite")
}

var _ = Describe("ComputeV0", func() {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	It("floors mastery at 0 below the minimum-attempts threshold", func() {
		attempts := []mastery.Attempt{
			{OccurredAt: now.AddDate(0, 0, -1), Correct: true},
		}
		res := mastery.ComputeV0(now, attempts, mastery.DefaultParams())
		Expect(res.MasteryScore).To(Equal(0.0))
		Expect(res.Reason).To(Equal("insufficient_attempts"))
	})

	It("weights recent correct attempts above older ones", func() {
		params := mastery.DefaultParams()
		recent := make([]mastery.Attempt, 0, 6)
		for i := 0; i < 6; i++ {
			recent = append(recent, mastery.Attempt{OccurredAt: now.AddDate(0, 0, -1), Correct: true})
		}
		stale := make([]mastery.Attempt, 0, 6)
		for i := 0; i < 6; i++ {
			stale = append(stale, mastery.Attempt{OccurredAt: now.AddDate(0, 0, -1), Correct: false})
		}
		stale = append(stale, mastery.Attempt{OccurredAt: now.AddDate(0, 0, -85), Correct: true})

		recentRes := mastery.ComputeV0(now, recent, params)
		staleRes := mastery.ComputeV0(now, stale, params)
		Expect(recentRes.MasteryScore).To(BeNumerically(">", staleRes.MasteryScore))
	})

	It("keeps mastery within [0,1]", func() {
		attempts := make([]mastery.Attempt, 0, 10)
		for i := 0; i < 10; i++ {
			attempts = append(attempts, mastery.Attempt{OccurredAt: now.AddDate(0, 0, -i), Correct: i%2 == 0})
		}
		res := mastery.ComputeV0(now, attempts, mastery.DefaultParams())
		Expect(res.MasteryScore).To(BeNumerically(">=", 0))
		Expect(res.MasteryScore).To(BeNumerically("<=", 1))
	})
})

var _ = Describe("BKT", func() {
	params := mastery.BKTParams{L0: 0.3, T: 0.2, S: 0.1, G: 0.2}

	It("validates parameter constraints", func() {
		Expect(mastery.ValidateBKTParams(params)).To(Succeed())
		Expect(mastery.ValidateBKTParams(mastery.BKTParams{L0: 0.3, T: 0.2, S: 0.45, G: 0.2})).To(HaveOccurred())
		Expect(mastery.ValidateBKTParams(mastery.BKTParams{L0: 0.3, T: 0.2, S: 0.5, G: 0.5})).To(HaveOccurred())
	})

	It("produces a higher posterior after a correct answer than after a wrong one from the same prior", func() {
		state := mastery.InitialState(params)
		correctState := mastery.Observe(state, true, params)
		wrongState := mastery.Observe(state, false, params)
		Expect(correctState.L).To(BeNumerically(">=", wrongState.L))
	})

	It("keeps mastery in [0,1] over a long attempt sequence", func() {
		attempts := make([]mastery.Attempt, 0, 20)
		for i := 0; i < 20; i++ {
			attempts = append(attempts, mastery.Attempt{Correct: i%3 != 0})
		}
		res, state := mastery.ComputeV1(attempts, params, 5)
		Expect(res.MasteryScore).To(BeNumerically(">=", 0))
		Expect(res.MasteryScore).To(BeNumerically("<=", 1))
		Expect(state.L).To(BeNumerically(">=", 0))
		Expect(state.L).To(BeNumerically("<=", 1))
	})
})
