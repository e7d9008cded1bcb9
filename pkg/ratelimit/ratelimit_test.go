package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/medlearn-core/pkg/ratelimit"
)

func TestRatelimit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ratelimit Suite")
}

var _ = Describe("Limiter.Check", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		rdb *redis.Client
		l   *ratelimit.Limiter
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		l = ratelimit.New(rdb, logr.Discard())
	})

	AfterEach(func() {
		mr.Close()
	})

	It("allows requests up to the limit and blocks the one after", func() {
		policy := ratelimit.Policy{Limit: 2, Window: time.Minute}

		d1, err := l.Check(ctx, "learner-1", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d1.Allowed).To(BeTrue())
		Expect(d1.Remaining).To(Equal(1))

		d2, err := l.Check(ctx, "learner-1", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d2.Allowed).To(BeTrue())
		Expect(d2.Remaining).To(Equal(0))

		d3, err := l.Check(ctx, "learner-1", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d3.Allowed).To(BeFalse())
	})

	It("isolates counters per key", func() {
		policy := ratelimit.Policy{Limit: 1, Window: time.Minute}

		d1, err := l.Check(ctx, "learner-a", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d1.Allowed).To(BeTrue())

		d2, err := l.Check(ctx, "learner-b", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d2.Allowed).To(BeTrue())
	})

	It("fails open when the backing store is unreachable and the policy allows it", func() {
		mr.Close() // simulate an unreachable Redis
		policy := ratelimit.Policy{Limit: 1, Window: time.Minute, FailOpen: true}

		d, err := l.Check(ctx, "learner-1", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Allowed).To(BeTrue())
		Expect(d.Degraded).To(BeTrue())
	})

	It("fails closed when the backing store is unreachable and the policy forbids it", func() {
		mr.Close()
		policy := ratelimit.Policy{Limit: 1, Window: time.Minute, FailOpen: false}

		d, err := l.Check(ctx, "admin-action", policy)
		Expect(err).To(HaveOccurred())
		Expect(d.Allowed).To(BeFalse())
	})
})
