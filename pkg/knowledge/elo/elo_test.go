package elo_test

import (
	"math"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/elo"
)

func TestElo(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Elo Suite")
}

var _ = Describe("PCorrect", func() {
	p := elo.DefaultParams()

	It("stays within [guess_floor, 1]", func() {
		for _, diff := range []float64{-2000, -100, 0, 100, 2000} {
			pc := elo.PCorrect(1200+diff, 1200, p)
			Expect(pc).To(BeNumerically(">=", p.GuessFloor))
			Expect(pc).To(BeNumerically("<=", 1))
		}
	})

	It("strictly increases in theta-b", func() {
		low := elo.PCorrect(1000, 1200, p)
		mid := elo.PCorrect(1200, 1200, p)
		high := elo.PCorrect(1400, 1200, p)
		Expect(mid).To(BeNumerically(">", low))
		Expect(high).To(BeNumerically(">", mid))
	})
})

var _ = Describe("Update", func() {
	p := elo.DefaultParams()

	It("raises the learner rating and lowers the item rating on a correct answer", func() {
		learner := elo.NewRating(1200, p)
		item := elo.NewRating(1200, p)
		res := elo.Update(learner, item, true, p)
		Expect(res.Learner.Value).To(BeNumerically(">", learner.Value))
		Expect(res.Item.Value).To(BeNumerically("<", item.Value))
	})

	It("produces finite ratings", func() {
		learner := elo.NewRating(1200, p)
		item := elo.NewRating(1200, p)
		res := elo.Update(learner, item, false, p)
		Expect(math.IsNaN(res.Learner.Value)).To(BeFalse())
		Expect(math.IsInf(res.Learner.Value, 0)).To(BeFalse())
	})

	It("decays uncertainty toward the floor but never below it", func() {
		learner := elo.NewRating(1200, p)
		item := elo.NewRating(1200, p)
		r := learner
		for i := 0; i < 500; i++ {
			res := elo.Update(r, item, true, p)
			r = res.Learner
		}
		Expect(r.Uncertainty).To(BeNumerically(">=", p.UncertaintyFloor))
		Expect(r.Uncertainty).To(BeNumerically("~", p.UncertaintyFloor, 0.01))
	})
})

var _ = Describe("Recenter", func() {
	It("preserves theta-b for every pair after recentering items", func() {
		items := []float64{1000, 1200, 1400}
		learners := []float64{900, 1100, 1300}

		adjustedItems, shift := elo.Recenter(items)
		adjustedLearners := elo.ApplyShift(learners, shift)

		for i := range items {
			for j := range learners {
				before := learners[j] - items[i]
				after := adjustedLearners[j] - adjustedItems[i]
				Expect(after).To(BeNumerically("~", before, 1e-9))
			}
		}
	})

	It("centers the item mean near zero", func() {
		items := []float64{1000, 1200, 1400}
		adjusted, _ := elo.Recenter(items)
		var sum float64
		for _, v := range adjusted {
			sum += v
		}
		Expect(sum / float64(len(adjusted))).To(BeNumerically("~", 0, 1e-9))
	})
})
