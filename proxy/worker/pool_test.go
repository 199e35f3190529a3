package worker

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("Pool", func() {
	It("executes queued jobs", func() {
		pool := NewPool(&Config{Logger: zap.NewNop()})

		done := make(chan struct{})
		ok := pool.Enqueue(Job{
			Key:  "flow-1",
			Name: "save",
			Fn: func(ctx context.Context) error {
				close(done)
				return nil
			},
		})
		Expect(ok).To(BeTrue())

		Eventually(done).Should(BeClosed())
		pool.Close()
	})

	It("preserves submission order for jobs sharing a key", func() {
		pool := NewPool(&Config{NumWorkers: 4, Logger: zap.NewNop()})

		var mu sync.Mutex
		var order []int
		for i := 0; i < 50; i++ {
			i := i
			Expect(pool.Enqueue(Job{
				Key:  "flow-1",
				Name: "step",
				Fn: func(ctx context.Context) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				},
			})).To(BeTrue())
		}
		pool.Close()

		Expect(order).To(HaveLen(50))
		for i, got := range order {
			Expect(got).To(Equal(i))
		}
	})

	It("routes all jobs for one key to one worker while keys spread out", func() {
		pool := NewPool(&Config{NumWorkers: 4, Logger: zap.NewNop()})

		workers := make(map[string]int)
		for i := 0; i < 64; i++ {
			key := fmt.Sprintf("flow-%d", i)
			workers[key] = pool.workerFor(key)
			Expect(pool.workerFor(key)).To(Equal(workers[key]))
		}

		distinct := make(map[int]bool)
		for _, w := range workers {
			distinct[w] = true
		}
		Expect(len(distinct)).To(BeNumerically(">", 1))
		pool.Close()
	})

	It("drops jobs once a queue is full", func() {
		pool := NewPool(&Config{NumWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})

		release := make(chan struct{})
		blocker := Job{Key: "a", Name: "block", Fn: func(ctx context.Context) error {
			<-release
			return nil
		}}
		noop := Job{Key: "a", Name: "noop", Fn: func(ctx context.Context) error { return nil }}

		Expect(pool.Enqueue(blocker)).To(BeTrue())

		// Fill the single queue slot, then overflow it.
		Eventually(func() bool { return pool.Enqueue(noop) }).Should(BeFalse())

		close(release)
		pool.Close()
	})

	It("rejects jobs after Close", func() {
		pool := NewPool(&Config{Logger: zap.NewNop()})
		pool.Close()

		ok := pool.Enqueue(Job{Key: "a", Name: "late", Fn: func(ctx context.Context) error { return nil }})
		Expect(ok).To(BeFalse())
	})

	It("keeps draining after a job fails", func() {
		pool := NewPool(&Config{NumWorkers: 1, Logger: zap.NewNop()})

		done := make(chan struct{})
		Expect(pool.Enqueue(Job{Key: "a", Name: "boom", Fn: func(ctx context.Context) error {
			return fmt.Errorf("store unavailable")
		}})).To(BeTrue())
		Expect(pool.Enqueue(Job{Key: "a", Name: "after", Fn: func(ctx context.Context) error {
			close(done)
			return nil
		}})).To(BeTrue())

		Eventually(done).Should(BeClosed())
		pool.Close()
	})
})
