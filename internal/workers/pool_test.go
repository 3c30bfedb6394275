package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(4, 64, zerolog.Nop())
	p.Start(ctx)

	var mu sync.Mutex
	ran := 0
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		p.Submit(int64(i), func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	wg.Wait()
	req.Equal(32, ran)

	cancel()
	p.Stop()
}

func TestSameKeyTasksRunInOrder(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(2, 16, zerolog.Nop())
	p.Start(ctx)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(2)

	// The first task stalls; the second must still wait behind it rather
	// than completing on another worker.
	p.Submit(42, func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		order = append(order, "envelope-1")
		mu.Unlock()
	})
	p.Submit(42, func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, "envelope-2")
		mu.Unlock()
	})
	wg.Wait()

	req.Equal([]string{"envelope-1", "envelope-2"}, order,
		"bus receive order must be preserved per room")

	cancel()
	p.Stop()
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(2, 16, zerolog.Nop())
	p.Start(ctx)

	block := make(chan struct{})
	done := make(chan struct{})

	p.Submit(0, func() { <-block }) // stalls worker 0
	p.Submit(1, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("a stalled key must not block other keys")
	}

	close(block)
	cancel()
	p.Stop()
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	p := NewPool(1, 1, zerolog.Nop())
	p.Start(ctx)

	p.Submit(0, func() { <-block }) // occupies the single worker
	time.Sleep(20 * time.Millisecond)
	p.Submit(0, func() { <-block }) // fills the queue
	p.Submit(0, func() {})          // dropped

	req.Eventually(func() bool { return p.DroppedTasks() >= 1 },
		time.Second, 10*time.Millisecond)

	close(block)
	cancel()
	p.Stop()
}

func TestPoolRecoversFromPanic(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPool(1, 8, zerolog.Nop())
	p.Start(ctx)

	p.Submit(0, func() { panic("boom") })

	done := make(chan struct{})
	p.Submit(0, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("worker did not survive panic")
	}

	cancel()
	p.Stop()
}
