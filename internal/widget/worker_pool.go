package widget

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned for jobs submitted to, or pending in, a stopped pool
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Job is a unit of background work
type Job struct {
	Key    int
	Run    func(ctx context.Context) error
	Result chan error
}

// WorkerPool runs background jobs on a fixed set of workers. Jobs are routed
// by key to a fixed worker, so jobs sharing a key run one at a time in
// submission order while different keys run in parallel.
type WorkerPool struct {
	workers int
	queues  []chan *Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workers: workers,
		queues:  make([]chan *Job, workers),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	for i := range pool.queues {
		pool.queues[i] = make(chan *Job, 32)
	}

	return pool
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting widget worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.queues[0])))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers, waits for running jobs and fails pending ones
func (wp *WorkerPool) Stop() {
	wp.once.Do(func() {
		wp.logger.Info("Stopping widget worker pool")
		wp.cancel()
		wp.wg.Wait()

		for _, q := range wp.queues {
			for drained := false; !drained; {
				select {
				case job := <-q:
					job.Result <- ErrPoolStopped
					close(job.Result)
				default:
					drained = true
				}
			}
		}
		wp.logger.Info("Widget worker pool stopped")
	})
}

// Submit queues fn on the worker owning key. The returned channel yields
// the job's error exactly once. Jobs run with the pool's context, not ctx;
// ctx only bounds the wait for queue space.
func (wp *WorkerPool) Submit(ctx context.Context, key int, fn func(ctx context.Context) error) (<-chan error, error) {
	job := &Job{
		Key:    key,
		Run:    fn,
		Result: make(chan error, 1),
	}

	select {
	case <-wp.ctx.Done():
		return nil, ErrPoolStopped
	default:
	}

	select {
	case wp.queues[wp.shard(key)] <- job:
		return job.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, ErrPoolStopped
	}
}

func (wp *WorkerPool) shard(key int) int {
	s := key % wp.workers
	if s < 0 {
		s = -s
	}
	return s
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Widget worker started", zap.Int("worker_id", id))

	queue := wp.queues[id]
	for {
		select {
		case job := <-queue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Widget worker stopping (context cancelled)", zap.Int("worker_id", id))
			return
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job *Job) {
	err := job.Run(wp.ctx)
	job.Result <- err
	close(job.Result)

	if err != nil {
		wp.logger.Debug("Worker completed job with error",
			zap.Int("worker_id", workerID),
			zap.Int("key", job.Key),
			zap.Error(err))
	}
}
