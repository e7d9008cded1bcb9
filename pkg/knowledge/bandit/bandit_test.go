package bandit_test

import (
	"math/rand/v2"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/medlearn-core/pkg/knowledge/bandit"
)

func TestBandit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bandit Suite")
}

var _ = Describe("Reward", func() {
	It("is zero when mastery does not improve", func() {
		Expect(bandit.Reward(0.5, 0.4)).To(Equal(0.0))
	})

	It("is bounded to [0,1] for a large improvement", func() {
		r := bandit.Reward(0.1, 0.99)
		Expect(r).To(BeNumerically(">=", 0))
		Expect(r).To(BeNumerically("<=", 1))
	})
})

var _ = Describe("UpdatePosterior", func() {
	It("shifts alpha up by the reward and beta up by only its complement", func() {
		s := bandit.NewState()
		next := bandit.UpdatePosterior(s, 0.9)
		Expect(next.Alpha).To(BeNumerically(">", s.Alpha))
		Expect(next.Beta).To(BeNumerically("<", s.Beta+0.11))
	})
})

var _ = Describe("ShouldUpdate", func() {
	It("skips themes below the minimum attempts threshold", func() {
		Expect(bandit.ShouldUpdate(2, 3)).To(BeFalse())
		Expect(bandit.ShouldUpdate(3, 3)).To(BeTrue())
	})
})

var _ = Describe("Sample", func() {
	It("returns a value in [0,1] deterministically for a fixed seed", func() {
		s := bandit.State{Alpha: 3, Beta: 5}
		rnd1 := rand.New(rand.NewPCG(1, 2))
		rnd2 := rand.New(rand.NewPCG(1, 2))

		y1 := bandit.Sample(s, rnd1)
		y2 := bandit.Sample(s, rnd2)

		Expect(y1).To(Equal(y2))
		Expect(y1).To(BeNumerically(">=", 0))
		Expect(y1).To(BeNumerically("<=", 1))
	})

	It("tends toward the posterior mean over many draws", func() {
		s := bandit.State{Alpha: 8, Beta: 2}
		rnd := rand.New(rand.NewPCG(42, 7))
		var sum float64
		const n = 2000
		for i := 0; i < n; i++ {
			sum += bandit.Sample(s, rnd)
		}
		mean := sum / n
		Expect(mean).To(BeNumerically("~", bandit.Mean(s), 0.05))
	})
})
