// Package engine distributes login attempts over a bounded worker pool. Many
// relay requests can be in flight at once, but the number of concurrently
// driven browser tabs stays capped.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/config"
)

// ErrQueueFull is returned when the task queue cannot accept another login
// attempt. Callers fail the request fast instead of piling up.
var ErrQueueFull = errors.New("automation queue is full")

// ErrStopped is returned by Submit once the pool has been stopped.
var ErrStopped = errors.New("automation pool is stopped")

// Runner executes one login flow. Satisfied by automation.Engine; tests
// swap in a fake.
type Runner interface {
	Login(ctx context.Context, loginURL string, creds schemas.Credentials) ([]*network.Cookie, error)
}

type taskResult struct {
	cookies []*network.Cookie
	err     error
}

type loginTask struct {
	sessionID string
	loginURL  string
	creds     schemas.Credentials
	result    chan taskResult
}

// Pool manages the worker goroutines and the bounded task queue.
type Pool struct {
	cfg     config.EngineConfig
	ceiling time.Duration
	logger  *zap.Logger
	runner  Runner

	tasks    chan loginTask
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool. ceiling caps the wall clock time of one attempt,
// regardless of how the individual automation steps spend it.
func NewPool(runner Runner, cfg config.EngineConfig, ceiling time.Duration, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		ceiling: ceiling,
		logger:  logger.Named("engine"),
		runner:  runner,
		tasks:   make(chan loginTask, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutines. ctx bounds the lifetime of every
// worker and, transitively, every running attempt.
func (p *Pool) Start(ctx context.Context) {
	concurrency := p.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	p.logger.Info("starting automation worker pool", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i+1)
	}
}

// Stop signals the workers to exit and waits for in flight attempts to
// finish. The task channel is never closed: Submit calls keep writing to it
// concurrently, so shutdown is signalled out of band instead.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping automation worker pool")
		close(p.stop)
	})
	p.wg.Wait()
	p.logger.Info("automation worker pool stopped")
}

// Submit enqueues a login attempt and blocks until its result is available.
// A full queue fails immediately with ErrQueueFull; a stopped pool with
// ErrStopped.
func (p *Pool) Submit(ctx context.Context, sessionID, loginURL string, creds schemas.Credentials) ([]*network.Cookie, error) {
	task := loginTask{
		sessionID: sessionID,
		loginURL:  loginURL,
		creds:     creds,
		result:    make(chan taskResult, 1),
	}

	select {
	case <-p.stop:
		return nil, ErrStopped
	default:
	}

	select {
	case p.tasks <- task:
	default:
		return nil, ErrQueueFull
	}

	select {
	case res := <-task.result:
		return res.cookies, res.err
	case <-p.stop:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runWorker is the main loop for a single worker goroutine.
func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker shutting down", zap.Error(ctx.Err()))
			return
		case <-p.stop:
			logger.Debug("pool stopped, worker shutting down")
			return
		case task := <-p.tasks:
			p.process(ctx, task, logger)
		}
	}
}

// process runs one attempt under the pool's hard time ceiling and delivers
// the outcome to the waiting Submit call.
func (p *Pool) process(ctx context.Context, task loginTask, logger *zap.Logger) {
	logger.Info("processing login attempt", zap.String("session_id", task.sessionID))

	taskCtx, cancel := context.WithTimeout(ctx, p.ceiling)
	defer cancel()

	start := time.Now()
	cookies, err := p.runner.Login(taskCtx, task.loginURL, task.creds)
	if err != nil {
		logger.Warn("login attempt failed",
			zap.String("session_id", task.sessionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	} else {
		logger.Info("login attempt finished",
			zap.String("session_id", task.sessionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("raw_cookies", len(cookies)),
		)
	}

	// The result channel is buffered, so delivery never blocks even if the
	// submitter already gave up.
	task.result <- taskResult{cookies: cookies, err: err}
}
