package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Task func()

// WorkerPool bounds in-process concurrency for message handling. With the
// default prefetch of 1 a single worker is enough; larger prefetch values
// pair with a matching pool size.
type WorkerPool struct {
	tasks         chan Task
	quit          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
	activeWorkers int
	maxWorkers    int
	logger        zerolog.Logger
	mu            sync.RWMutex
}

func NewWorkerPool(maxWorkers int, logger zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		tasks:      make(chan Task, maxWorkers*10),
		quit:       make(chan struct{}),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

func (wp *WorkerPool) Start(ctx context.Context) error {
	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Worker pool started")
	return nil
}

// Stop signals shutdown and waits for workers to finish. Tasks accepted
// before Stop still run; Submit refuses new ones so their deliveries can be
// requeued instead of lost.
func (wp *WorkerPool) Stop() error {
	wp.stopOnce.Do(func() { close(wp.quit) })
	wp.wg.Wait()

	wp.logger.Info().Msg("Worker pool stopped")
	return nil
}

// Submit hands a task to the pool, blocking while the queue is full. It
// reports false once the pool is stopping; the caller still owns the
// delivery and must requeue it.
func (wp *WorkerPool) Submit(task Task) bool {
	select {
	case <-wp.quit:
		return false
	default:
	}

	select {
	case wp.tasks <- task:
		return true
	case <-wp.quit:
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case task := <-wp.tasks:
			wp.runTask(id, task)
		case <-wp.quit:
			// Drain tasks accepted before shutdown.
			for {
				select {
				case task := <-wp.tasks:
					wp.runTask(id, task)
				default:
					wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) runTask(id int, task Task) {
	wp.mu.Lock()
	wp.activeWorkers++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}

		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	task()
}

func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.activeWorkers
}
