// Package rebuild provides the bounded worker pool that runs asynchronous cache
// refill jobs. The pool is constructed and owned by the host process and handed
// to the caches that need it.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-cacheguard/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// queue is at capacity.
	ErrQueueFull = errors.New("rebuild queue is full")
	// ErrSchedulerStopped is returned by Submit before Start or after Stop.
	ErrSchedulerStopped = errors.New("rebuild scheduler is not running")
)

// Job is one unit of rebuild work. ctx is cancelled if the scheduler is forced
// to stop before the job completes.
type Job func(ctx context.Context) error

// Config holds the pool dimensions.
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns ten workers with room for a hundred queued jobs.
func DefaultConfig() Config {
	return Config{Workers: 10, QueueSize: 100}
}

type namedJob struct {
	name string
	run  Job
}

// Scheduler is a fixed-size pool of workers fed from a bounded queue.
type Scheduler struct {
	numWorkers int
	logger     zerolog.Logger
	metrics    *metrics.Collector

	mu      sync.RWMutex
	running bool
	jobs    chan namedJob

	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewScheduler creates a scheduler. Non-positive sizes fall back to DefaultConfig.
func NewScheduler(cfg Config, m *metrics.Collector, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Scheduler{
		numWorkers: cfg.Workers,
		jobs:       make(chan namedJob, cfg.QueueSize),
		metrics:    m,
		logger:     logger.With().Str("component", "RebuildScheduler").Logger(),
	}
}

// Start launches the workers. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("rebuild scheduler already started")
	}
	if s.shutdownCtx != nil {
		return errors.New("rebuild scheduler cannot be restarted")
	}
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)
	s.running = true

	s.logger.Info().Int("worker_count", s.numWorkers).Int("queue_size", cap(s.jobs)).Msg("Starting rebuild workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return nil
}

// Submit queues a job without blocking.
func (s *Scheduler) Submit(name string, job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		s.metrics.RebuildJob(metrics.RebuildRejected)
		return ErrSchedulerStopped
	}
	select {
	case s.jobs <- namedJob{name: name, run: job}:
		return nil
	default:
		s.metrics.RebuildJob(metrics.RebuildRejected)
		s.logger.Warn().Str("job", name).Msg("Rebuild queue full, job rejected.")
		return ErrQueueFull
	}
}

func (s *Scheduler) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Rebuild worker started.")
	for job := range s.jobs {
		s.run(workerID, job)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Rebuild queue closed, worker exiting.")
}

func (s *Scheduler) run(workerID int, job namedJob) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RebuildJob(metrics.RebuildFailed)
			s.logger.Error().Int("worker_id", workerID).Str("job", job.name).Msgf("Rebuild job panicked: %v", r)
		}
	}()
	if err := job.run(s.shutdownCtx); err != nil {
		s.metrics.RebuildJob(metrics.RebuildFailed)
		s.logger.Error().Err(err).Int("worker_id", workerID).Str("job", job.name).Msg("Rebuild job failed.")
		return
	}
	s.metrics.RebuildJob(metrics.RebuildOK)
	s.logger.Debug().Int("worker_id", workerID).Str("job", job.name).Msg("Rebuild job completed.")
}

// Stop refuses new jobs, lets the workers drain the queue, and cancels the
// job context if ctx expires first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.jobs)
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping rebuild scheduler, draining queued jobs...")
	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	var err error
	select {
	case <-workerDone:
		s.logger.Info().Msg("All rebuild workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for rebuild workers, cancelling jobs.")
		err = fmt.Errorf("rebuild scheduler drain: %w", ctx.Err())
	}
	s.shutdownFunc()
	return err
}
