package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/internal/automation"
)

// LoginPage is one isolated browser tab driven through a login flow. It
// implements automation.Page. All methods honor the deadline of the step
// context they are given while staying bound to the tab's own lifetime.
type LoginPage struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	mgr    *Manager
	logger *zap.Logger

	quietPeriod time.Duration

	// In flight request tracking for WaitIdle.
	lock     sync.RWMutex
	inflight map[network.RequestID]bool

	closeOnce sync.Once
}

var _ automation.Page = (*LoginPage)(nil)

// newLoginPage attaches the network listener and spins up the tab.
func newLoginPage(tabCtx context.Context, cancel context.CancelFunc, mgr *Manager, id string) (*LoginPage, error) {
	p := &LoginPage{
		id:          id,
		ctx:         tabCtx,
		cancel:      cancel,
		mgr:         mgr,
		logger:      mgr.logger.Named("page").With(zap.String("page_id", id)),
		quietPeriod: mgr.quietPeriod,
		inflight:    make(map[network.RequestID]bool),
	}

	// The listener must be registered before any navigation so no request
	// slips past the in flight tracker.
	chromedp.ListenTarget(tabCtx, p.handleNetworkEvent)

	if err := chromedp.Run(tabCtx, network.Enable(), chromedp.Navigate("about:blank")); err != nil {
		return nil, fmt.Errorf("failed to initialize browser tab: %w", err)
	}
	return p, nil
}

// handleNetworkEvent keeps the in flight request set current.
func (p *LoginPage) handleNetworkEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.lock.Lock()
		p.inflight[e.RequestID] = true
		p.lock.Unlock()
	case *network.EventLoadingFinished:
		p.lock.Lock()
		delete(p.inflight, e.RequestID)
		p.lock.Unlock()
	case *network.EventLoadingFailed:
		p.lock.Lock()
		delete(p.inflight, e.RequestID)
		p.lock.Unlock()
	}
}

// run executes chromedp actions against the tab under the step context's
// deadline. chromedp only accepts its own context, so the step deadline and
// cancellation are grafted onto a child of the tab context.
func (p *LoginPage) run(stepCtx context.Context, actions ...chromedp.Action) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := stepCtx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(stepCtx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	// Prefer the step context's own error so timeouts classify correctly.
	if stepErr := stepCtx.Err(); stepErr != nil {
		return stepErr
	}
	return err
}

func (p *LoginPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *LoginPage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *LoginPage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

func (p *LoginPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *LoginPage) PressEnter(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

// WaitIdle polls until no request has been in flight for the quiet period,
// or the context expires.
func (p *LoginPage) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(p.quietPeriod / 2)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
			p.lock.RLock()
			inflight := len(p.inflight)
			p.lock.RUnlock()

			if inflight > 0 {
				lastActivity = time.Now()
				p.logger.Debug("waiting for network idle", zap.Int("inflight_requests", inflight))
			} else if time.Since(lastActivity) >= p.quietPeriod {
				return nil
			}
		}
	}
}

// Cookies reads every cookie visible to the browsing context.
func (p *LoginPage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// Close tears down the tab and unregisters it from the manager. Idempotent.
func (p *LoginPage) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.mgr.unregister(p.id)
		p.logger.Debug("page closed")
	})
}

// closeWithin closes the tab, giving the browser a bounded window to react
// before the context is force-cancelled regardless.
func (p *LoginPage) closeWithin(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("page close timed out", zap.Error(ctx.Err()))
	}
}
