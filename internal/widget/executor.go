package widget

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrExecutorStopped is returned when work is submitted after Stop
var ErrExecutorStopped = errors.New("foreground executor stopped")

type foregroundKey struct{}

// IsForeground reports whether ctx was issued by a ForegroundExecutor
func IsForeground(ctx context.Context) bool {
	v, _ := ctx.Value(foregroundKey{}).(bool)
	return v
}

type foregroundTask struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// ForegroundExecutor runs every submitted task on one goroutine, in
// submission order. Host render calls go through it.
type ForegroundExecutor struct {
	tasks  chan *foregroundTask
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// NewForegroundExecutor creates a stopped executor; call Start before Do
func NewForegroundExecutor(logger *zap.Logger) *ForegroundExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ForegroundExecutor{
		tasks:  make(chan *foregroundTask, 16),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start launches the foreground goroutine
func (e *ForegroundExecutor) Start() {
	e.wg.Add(1)
	go e.loop()
}

// Stop cancels pending work and waits for the goroutine to exit
func (e *ForegroundExecutor) Stop() {
	e.once.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.logger.Debug("Foreground executor stopped")
	})
}

// Do runs fn on the foreground goroutine and waits for it to finish.
// The context passed to fn carries the foreground marker.
func (e *ForegroundExecutor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if IsForeground(ctx) {
		// Already on the foreground goroutine
		return fn(ctx)
	}

	task := &foregroundTask{
		ctx:  context.WithValue(ctx, foregroundKey{}, true),
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case e.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrExecutorStopped
	}

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrExecutorStopped
	}
}

func (e *ForegroundExecutor) loop() {
	defer e.wg.Done()

	for {
		select {
		case task := <-e.tasks:
			task.done <- task.fn(task.ctx)
		case <-e.ctx.Done():
			return
		}
	}
}
