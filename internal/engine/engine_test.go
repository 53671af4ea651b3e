package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/config"
)

// fakeRunner is a scriptable Runner that can also block to simulate a slow
// browser.
type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	block   time.Duration
	cookies []*network.Cookie
	err     error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (r *fakeRunner) Login(ctx context.Context, loginURL string, creds schemas.Credentials) ([]*network.Cookie, error) {
	cur := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		peak := r.maxInflight.Load()
		if cur <= peak || r.maxInflight.CompareAndSwap(peak, cur) {
			break
		}
	}

	r.mu.Lock()
	r.calls++
	block, cookies, err := r.block, r.cookies, r.err
	r.mu.Unlock()

	if block > 0 {
		select {
		case <-time.After(block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return cookies, err
}

func startPool(t *testing.T, runner Runner, cfg config.EngineConfig, ceiling time.Duration) *Pool {
	t.Helper()
	pool := NewPool(runner, cfg, ceiling, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		pool.Stop()
		cancel()
	})
	return pool
}

func TestSubmitReturnsRunnerResult(t *testing.T) {
	runner := &fakeRunner{cookies: []*network.Cookie{{Name: "sid", Domain: "example.edu"}}}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 4, WorkerConcurrency: 2}, time.Second)

	cookies, err := pool.Submit(context.Background(), "s1", "https://idp.example.edu", schemas.Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
}

func TestSubmitPropagatesRunnerError(t *testing.T) {
	wantErr := errors.New("password field never appeared")
	runner := &fakeRunner{err: wantErr}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 4, WorkerConcurrency: 1}, time.Second)

	_, err := pool.Submit(context.Background(), "s1", "https://idp.example.edu", schemas.Credentials{})
	assert.ErrorIs(t, err, wantErr)
}

func TestAttemptCeilingCancelsSlowRunner(t *testing.T) {
	runner := &fakeRunner{block: time.Second}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 4, WorkerConcurrency: 1}, 20*time.Millisecond)

	_, err := pool.Submit(context.Background(), "s1", "https://slow.example.edu", schemas.Credentials{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitFailsFastWhenQueueFull(t *testing.T) {
	// One worker stuck on a long attempt, a queue of one: the first extra
	// submit fills the queue, the second must be rejected immediately.
	runner := &fakeRunner{block: 500 * time.Millisecond}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 1, WorkerConcurrency: 1}, 2*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pool.Submit(context.Background(), "s", "https://idp.example.edu", schemas.Credentials{})
		}(i)
	}

	// Give the first two submits time to occupy the worker and the queue.
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls >= 1 && len(pool.tasks) == 1
	}, time.Second, 5*time.Millisecond)

	_, errs[2] = pool.Submit(context.Background(), "s3", "https://idp.example.edu", schemas.Credentials{})
	assert.ErrorIs(t, errs[2], ErrQueueFull)

	wg.Wait()
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestConcurrencyStaysBounded(t *testing.T) {
	runner := &fakeRunner{block: 20 * time.Millisecond}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 16, WorkerConcurrency: 2}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = pool.Submit(context.Background(), "s", "https://idp.example.edu", schemas.Credentials{})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, runner.maxInflight.Load(), int32(2))
}

func TestSubmitAfterStopRejected(t *testing.T) {
	runner := &fakeRunner{}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 4, WorkerConcurrency: 1}, time.Second)

	pool.Stop()

	_, err := pool.Submit(context.Background(), "s1", "https://idp.example.edu", schemas.Credentials{})
	assert.ErrorIs(t, err, ErrStopped)

	// Stop is idempotent.
	pool.Stop()
}

func TestStopWithConcurrentSubmitters(t *testing.T) {
	runner := &fakeRunner{block: 10 * time.Millisecond}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 2, WorkerConcurrency: 1}, time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pool.Submit(context.Background(), "s", "https://idp.example.edu", schemas.Credentials{})
		}(i)
	}

	time.Sleep(5 * time.Millisecond)
	pool.Stop()
	wg.Wait()

	// Every submit resolves to a result or a sentinel, never a panic from
	// sending on a closed channel.
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, ErrStopped) || errors.Is(err, ErrQueueFull),
				"unexpected submit error: %v", err)
		}
	}
}

func TestSubmitHonorsCallerContext(t *testing.T) {
	runner := &fakeRunner{block: time.Second}
	pool := startPool(t, runner, config.EngineConfig{QueueSize: 4, WorkerConcurrency: 1}, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := pool.Submit(ctx, "s1", "https://idp.example.edu", schemas.Credentials{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
