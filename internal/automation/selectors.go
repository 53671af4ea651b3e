package automation

import (
	"context"
	"time"
)

// Built-in candidate selector lists for heuristic field detection, ordered
// from most to least specific. They cover the common institutional login
// stacks (Shibboleth/SAML, CAS, plain cookie forms) but make no claim of
// completeness against arbitrary pages; deployments can override them via
// configuration.
var (
	defaultUsernameSelectors = []string{
		`#username`,
		`input[name="username"]`,
		`input[name="j_username"]`,
		`input[name="user"]`,
		`input[name="login"]`,
		`input[name="email"]`,
		`input[type="email"]`,
		`input[autocomplete="username"]`,
	}

	defaultPasswordSelectors = []string{
		`#password`,
		`input[name="password"]`,
		`input[name="j_password"]`,
		`input[autocomplete="current-password"]`,
		`input[type="password"]`,
	}

	defaultSubmitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[name="_eventId_proceed"]`,
		`#login-submit`,
		`button[name="submit"]`,
	}

	defaultOTPSelectors = []string{
		`#otp`,
		`input[name="otp"]`,
		`input[name="code"]`,
		`input[name="token"]`,
		`input[name="totp"]`,
		`input[autocomplete="one-time-code"]`,
	}
)

// Hardcoded last-resort selectors used when no candidate in the ordered list
// becomes visible within its probe window.
const (
	fallbackUsernameSelector = `input[type="text"]`
	fallbackPasswordSelector = `input[type="password"]`
)

// probeFirst walks candidates in order, giving each one probeTimeout to
// become visible, and returns the first selector that did. The bool is false
// when no candidate matched. The parent context aborts the whole walk.
func probeFirst(ctx context.Context, page Page, candidates []string, probeTimeout time.Duration) (string, bool) {
	for _, sel := range candidates {
		if ctx.Err() != nil {
			return "", false
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := page.WaitVisible(probeCtx, sel)
		cancel()
		if err == nil {
			return sel, true
		}
	}
	return "", false
}
