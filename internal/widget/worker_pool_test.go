package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	ctx := context.Background()

	t.Run("Same key runs sequentially in order", func(t *testing.T) {
		pool := NewWorkerPool(4, zap.NewNop())
		pool.Start()
		defer pool.Stop()

		var (
			mu      sync.Mutex
			order   []int
			running int32
		)
		var results []<-chan error
		for i := 0; i < 20; i++ {
			i := i
			ch, err := pool.Submit(ctx, 7, func(context.Context) error {
				if atomic.AddInt32(&running, 1) != 1 {
					t.Error("two jobs for one key ran at once")
				}
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&running, -1)
				return nil
			})
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
			results = append(results, ch)
		}
		waitAll(t, results)

		for i, v := range order {
			if v != i {
				t.Fatalf("job order = %v", order)
			}
		}
	})

	t.Run("Different keys run in parallel", func(t *testing.T) {
		pool := NewWorkerPool(2, zap.NewNop())
		pool.Start()
		defer pool.Stop()

		release := make(chan struct{})
		started := make(chan struct{}, 2)
		job := func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		}

		a, _ := pool.Submit(ctx, 0, job)
		b, _ := pool.Submit(ctx, 1, job)

		for i := 0; i < 2; i++ {
			select {
			case <-started:
			case <-time.After(2 * time.Second):
				t.Fatal("jobs on different workers did not overlap")
			}
		}
		close(release)
		waitAll(t, []<-chan error{a, b})
	})

	t.Run("Job errors are delivered", func(t *testing.T) {
		pool := NewWorkerPool(1, zap.NewNop())
		pool.Start()
		defer pool.Stop()

		boom := errors.New("boom")
		ch, err := pool.Submit(ctx, 1, func(context.Context) error { return boom })
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if got := <-ch; !errors.Is(got, boom) {
			t.Errorf("result = %v, want boom", got)
		}
	})

	t.Run("Negative keys are routed", func(t *testing.T) {
		pool := NewWorkerPool(3, zap.NewNop())
		if s := pool.shard(-4); s < 0 || s >= 3 {
			t.Errorf("shard(-4) = %d", s)
		}
	})

	t.Run("Submit after stop fails", func(t *testing.T) {
		pool := NewWorkerPool(1, zap.NewNop())
		pool.Start()
		pool.Stop()

		if _, err := pool.Submit(ctx, 1, func(context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
			t.Errorf("expected ErrPoolStopped, got %v", err)
		}
	})

	t.Run("Pending jobs fail on stop", func(t *testing.T) {
		pool := NewWorkerPool(1, zap.NewNop())

		ch, err := pool.Submit(ctx, 1, func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		pool.Stop()

		if got := <-ch; !errors.Is(got, ErrPoolStopped) {
			t.Errorf("result = %v, want ErrPoolStopped", got)
		}
	})
}

func TestForegroundExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("Marks context and returns result", func(t *testing.T) {
		fg := NewForegroundExecutor(zap.NewNop())
		fg.Start()
		defer fg.Stop()

		if IsForeground(ctx) {
			t.Fatal("background context marked foreground")
		}

		boom := errors.New("boom")
		err := fg.Do(ctx, func(fctx context.Context) error {
			if !IsForeground(fctx) {
				t.Error("task context not marked foreground")
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("Do = %v, want boom", err)
		}
	})

	t.Run("Tasks never overlap", func(t *testing.T) {
		fg := NewForegroundExecutor(zap.NewNop())
		fg.Start()
		defer fg.Stop()

		var running int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fg.Do(ctx, func(context.Context) error {
					if atomic.AddInt32(&running, 1) != 1 {
						t.Error("foreground tasks overlapped")
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&running, -1)
					return nil
				})
			}()
		}
		wg.Wait()
	})

	t.Run("Nested calls run inline", func(t *testing.T) {
		fg := NewForegroundExecutor(zap.NewNop())
		fg.Start()
		defer fg.Stop()

		ran := false
		err := fg.Do(ctx, func(fctx context.Context) error {
			return fg.Do(fctx, func(context.Context) error {
				ran = true
				return nil
			})
		})
		if err != nil || !ran {
			t.Errorf("nested Do: err=%v ran=%v", err, ran)
		}
	})

	t.Run("Stopped executor rejects work", func(t *testing.T) {
		fg := NewForegroundExecutor(zap.NewNop())
		fg.Start()
		fg.Stop()

		if err := fg.Do(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrExecutorStopped) {
			t.Errorf("expected ErrExecutorStopped, got %v", err)
		}
	})
}
