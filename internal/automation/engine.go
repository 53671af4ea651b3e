// Package automation drives a headless browser through an unknown
// institutional login page. Field detection is heuristic: an ordered walk
// over plausible selectors with a hardcoded fallback, best effort by design.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/config"
)

// Page is one isolated browsing surface. Implementations wrap a real
// browser tab; tests inject a scripted fake. Every method that touches the
// page takes a context carrying that step's deadline.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	PressEnter(ctx context.Context, selector string) error
	// WaitIdle blocks until page network activity has quieted down or the
	// context expires.
	WaitIdle(ctx context.Context) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	// Close releases the page and everything scoped to it. Idempotent.
	Close()
}

// PageFactory mints isolated pages. Each login attempt gets a fresh one so
// cookies never leak between sessions.
type PageFactory interface {
	NewLoginPage(ctx context.Context) (Page, error)
}

// Engine runs the login flow end to end against a single page.
type Engine struct {
	pages  PageFactory
	cfg    config.AutomationConfig
	logger *zap.Logger
}

// New creates a login automation engine.
func New(pages PageFactory, cfg config.AutomationConfig, logger *zap.Logger) *Engine {
	return &Engine{
		pages:  pages,
		cfg:    cfg,
		logger: logger.Named("automation"),
	}
}

// Login navigates to loginURL, fills the detected credential fields, submits
// once, optionally handles an MFA prompt, and returns the raw cookies of the
// browsing context. The page is released on every exit path. Errors are
// *NavigationError or *AutomationError; the engine never retries.
func (e *Engine) Login(ctx context.Context, loginURL string, creds schemas.Credentials) ([]*network.Cookie, error) {
	page, err := e.pages.NewLoginPage(ctx)
	if err != nil {
		return nil, &NavigationError{URL: loginURL, Err: fmt.Errorf("acquire page: %w", err)}
	}
	defer page.Close()

	log := e.logger.With(zap.String("login_url", loginURL))

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	err = page.Navigate(navCtx, loginURL)
	cancel()
	if err != nil {
		return nil, &NavigationError{URL: loginURL, Err: err}
	}

	userSel := e.detect(ctx, page, e.usernameCandidates(), fallbackUsernameSelector, log, "username")
	if err := page.Fill(ctx, userSel, creds.Username); err != nil {
		return nil, &AutomationError{Stage: "username", Err: err}
	}

	passSel := e.detect(ctx, page, e.passwordCandidates(), fallbackPasswordSelector, log, "password")
	if err := page.Fill(ctx, passSel, creds.Password); err != nil {
		return nil, &AutomationError{Stage: "password", Err: err}
	}

	if err := e.submit(ctx, page, passSel, log); err != nil {
		return nil, err
	}

	if creds.HasMFA() {
		if err := e.handleMFA(ctx, page, passSel, creds.MFACode, log); err != nil {
			return nil, err
		}
	}

	// Login pages may keep polling in the background forever, so a missed
	// idle window is not a failure; inspect whatever cookies exist.
	idleCtx, cancel := context.WithTimeout(ctx, e.cfg.IdleTimeout)
	if err := page.WaitIdle(idleCtx); err != nil {
		log.Debug("network idle not reached, proceeding", zap.Error(err))
	}
	cancel()

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, &AutomationError{Stage: "cookie_harvest", Err: err}
	}
	log.Info("login flow finished", zap.Int("raw_cookies", len(cookies)))
	return cookies, nil
}

// detect returns the first visible candidate selector, or the hardcoded
// fallback when the ordered probe finds nothing.
func (e *Engine) detect(ctx context.Context, page Page, candidates []string, fallback string, log *zap.Logger, field string) string {
	if sel, ok := probeFirst(ctx, page, candidates, e.cfg.ProbeTimeout); ok {
		log.Debug("field detected", zap.String("field", field), zap.String("selector", sel))
		return sel
	}
	log.Debug("no candidate matched, using fallback", zap.String("field", field), zap.String("selector", fallback))
	return fallback
}

// submit takes exactly one submit action: click the first visible submit
// control, or press Enter in the password field when none is found.
func (e *Engine) submit(ctx context.Context, page Page, passwordSel string, log *zap.Logger) error {
	if sel, ok := probeFirst(ctx, page, e.submitCandidates(), e.cfg.ProbeTimeout); ok {
		log.Debug("submitting via click", zap.String("selector", sel))
		if err := page.Click(ctx, sel); err != nil {
			return &AutomationError{Stage: "submit", Err: err}
		}
		return nil
	}
	log.Debug("no submit control found, pressing enter", zap.String("selector", passwordSel))
	if err := page.PressEnter(ctx, passwordSel); err != nil {
		return &AutomationError{Stage: "submit", Err: err}
	}
	return nil
}

// handleMFA waits for the page to settle after the first submit, then fills
// the first one-time-code field it can find and submits again. Not finding a
// code field is non-fatal: some flows accept the session without the prompt,
// and the completion heuristic decides either way.
func (e *Engine) handleMFA(ctx context.Context, page Page, passwordSel, code string, log *zap.Logger) error {
	select {
	case <-time.After(e.cfg.MFASettleDelay):
	case <-ctx.Done():
		return &AutomationError{Stage: "mfa", Err: ctx.Err()}
	}

	sel, ok := probeFirst(ctx, page, e.otpCandidates(), e.cfg.ProbeTimeout)
	if !ok {
		log.Debug("no one-time-code field appeared, skipping mfa step")
		return nil
	}
	if err := page.Fill(ctx, sel, code); err != nil {
		return &AutomationError{Stage: "mfa", Err: err}
	}
	return e.submit(ctx, page, passwordSel, log)
}

func (e *Engine) usernameCandidates() []string {
	if len(e.cfg.UsernameSelectors) > 0 {
		return e.cfg.UsernameSelectors
	}
	return defaultUsernameSelectors
}

func (e *Engine) passwordCandidates() []string {
	if len(e.cfg.PasswordSelectors) > 0 {
		return e.cfg.PasswordSelectors
	}
	return defaultPasswordSelectors
}

func (e *Engine) submitCandidates() []string {
	if len(e.cfg.SubmitSelectors) > 0 {
		return e.cfg.SubmitSelectors
	}
	return defaultSubmitSelectors
}

func (e *Engine) otpCandidates() []string {
	if len(e.cfg.OTPSelectors) > 0 {
		return e.cfg.OTPSelectors
	}
	return defaultOTPSelectors
}
