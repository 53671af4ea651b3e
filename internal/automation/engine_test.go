package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/config"
)

type filledField struct {
	selector string
	value    string
}

// fakePage is a scripted stand-in for a browser tab. Selector visibility and
// per-call errors are configured up front; every interaction is recorded.
type fakePage struct {
	visible map[string]bool

	navErr    error
	fillErr   map[string]error
	clickErr  error
	idleErr   error
	cookieErr error

	cookies []*network.Cookie

	navigatedTo  string
	fills        []filledField
	clicks       []string
	enterPresses []string
	idleWaits    int
	closed       bool
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.navigatedTo = url
	return p.navErr
}

func (p *fakePage) WaitVisible(_ context.Context, selector string) error {
	if p.visible[selector] {
		return nil
	}
	return errors.New("selector not visible")
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	if err := p.fillErr[selector]; err != nil {
		return err
	}
	p.fills = append(p.fills, filledField{selector, value})
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) PressEnter(_ context.Context, selector string) error {
	p.enterPresses = append(p.enterPresses, selector)
	return nil
}

func (p *fakePage) WaitIdle(_ context.Context) error {
	p.idleWaits++
	return p.idleErr
}

func (p *fakePage) Cookies(_ context.Context) ([]*network.Cookie, error) {
	if p.cookieErr != nil {
		return nil, p.cookieErr
	}
	return p.cookies, nil
}

func (p *fakePage) Close() { p.closed = true }

type fakeFactory struct {
	page *fakePage
	err  error
}

func (f *fakeFactory) NewLoginPage(context.Context) (Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func testCfg() config.AutomationConfig {
	return config.AutomationConfig{
		NavigationTimeout: 100 * time.Millisecond,
		ProbeTimeout:      5 * time.Millisecond,
		MFASettleDelay:    time.Millisecond,
		IdleTimeout:       10 * time.Millisecond,
	}
}

func newEngine(t *testing.T, page *fakePage) *Engine {
	t.Helper()
	return New(&fakeFactory{page: page}, testCfg(), zaptest.NewLogger(t))
}

func basicCreds() schemas.Credentials {
	return schemas.Credentials{Username: "user", Password: "pass"}
}

func TestLoginHappyPath(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{
			"#username":             true,
			"#password":             true,
			`button[type="submit"]`: true,
		},
		cookies: []*network.Cookie{{Name: "sid", Value: "x", Domain: "example.edu"}},
	}
	eng := newEngine(t, page)

	cookies, err := eng.Login(context.Background(), "https://idp.example.edu/login", basicCreds())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)

	assert.Equal(t, "https://idp.example.edu/login", page.navigatedTo)
	assert.Equal(t, []filledField{
		{"#username", "user"},
		{"#password", "pass"},
	}, page.fills)
	assert.Equal(t, []string{`button[type="submit"]`}, page.clicks)
	assert.Empty(t, page.enterPresses, "click and enter are alternatives, never both")
	assert.Equal(t, 1, page.idleWaits)
	assert.True(t, page.closed)
}

func TestLoginSelectorPriorityOrder(t *testing.T) {
	// Both a specific and a generic candidate are visible; the earlier one
	// in the ordered list must win.
	page := &fakePage{
		visible: map[string]bool{
			`input[name="j_username"]`: true,
			`input[type="email"]`:      true,
			"#password":                true,
			`input[type="submit"]`:     true,
		},
	}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://cas.example.edu/login", basicCreds())
	require.NoError(t, err)
	assert.Equal(t, `input[name="j_username"]`, page.fills[0].selector)
}

func TestLoginFallbackSelectors(t *testing.T) {
	// Nothing is visible at all: both fields fall back to the hardcoded
	// defaults and submit falls back to Enter in the password field.
	page := &fakePage{visible: map[string]bool{}}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://login.example.edu", basicCreds())
	require.NoError(t, err)

	assert.Equal(t, []filledField{
		{`input[type="text"]`, "user"},
		{`input[type="password"]`, "pass"},
	}, page.fills)
	assert.Empty(t, page.clicks)
	assert.Equal(t, []string{`input[type="password"]`}, page.enterPresses)
	assert.True(t, page.closed)
}

func TestLoginNavigationError(t *testing.T) {
	page := &fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://nowhere.invalid", basicCreds())
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "https://nowhere.invalid", navErr.URL)
	assert.False(t, navErr.Timeout())
	assert.True(t, page.closed, "page must be released on the error path")
}

func TestLoginNavigationTimeout(t *testing.T) {
	page := &fakePage{navErr: context.DeadlineExceeded}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://slow.example.edu", basicCreds())
	var navErr *NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.True(t, navErr.Timeout())
}

func TestLoginPageAcquisitionError(t *testing.T) {
	eng := New(&fakeFactory{err: errors.New("browser gone")}, testCfg(), zaptest.NewLogger(t))

	_, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	var navErr *NavigationError
	assert.ErrorAs(t, err, &navErr)
}

func TestLoginFillFailure(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{"#username": true},
		fillErr: map[string]error{"#username": errors.New("node detached")},
	}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	var autoErr *AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, "username", autoErr.Stage)
	assert.True(t, page.closed)
}

func TestLoginSubmitClickFailure(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{
			"#username":             true,
			"#password":             true,
			`button[type="submit"]`: true,
		},
		clickErr: errors.New("element not clickable"),
	}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	var autoErr *AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, "submit", autoErr.Stage)
}

func TestLoginMFAFlow(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{
			"#username":             true,
			"#password":             true,
			`button[type="submit"]`: true,
			"#otp":                  true,
		},
	}
	eng := newEngine(t, page)

	creds := schemas.Credentials{Username: "user", Password: "pass", MFACode: "123456"}
	_, err := eng.Login(context.Background(), "https://idp.example.edu", creds)
	require.NoError(t, err)

	assert.Equal(t, []filledField{
		{"#username", "user"},
		{"#password", "pass"},
		{"#otp", "123456"},
	}, page.fills)
	assert.Equal(t, []string{`button[type="submit"]`, `button[type="submit"]`}, page.clicks,
		"mfa code causes a second submit")
}

func TestLoginMFAFieldNeverAppears(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{
			"#username":             true,
			"#password":             true,
			`button[type="submit"]`: true,
		},
	}
	eng := newEngine(t, page)

	creds := schemas.Credentials{Username: "user", Password: "pass", MFACode: "123456"}
	_, err := eng.Login(context.Background(), "https://idp.example.edu", creds)
	require.NoError(t, err, "a missing code prompt is not a failure")
	assert.Len(t, page.clicks, 1, "no second submit without a code field")
}

func TestLoginIdleTimeoutSwallowed(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{"#username": true, "#password": true, `input[type="submit"]`: true},
		idleErr: context.DeadlineExceeded,
		cookies: []*network.Cookie{{Name: "sid", Value: "x", Domain: "example.edu"}},
	}
	eng := newEngine(t, page)

	cookies, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	require.NoError(t, err, "missed idle window must not fail the attempt")
	assert.Len(t, cookies, 1)
}

func TestLoginCookieHarvestFailure(t *testing.T) {
	page := &fakePage{
		visible:   map[string]bool{"#username": true, "#password": true, `input[type="submit"]`: true},
		cookieErr: errors.New("target closed"),
	}
	eng := newEngine(t, page)

	_, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	var autoErr *AutomationError
	require.ErrorAs(t, err, &autoErr)
	assert.Equal(t, "cookie_harvest", autoErr.Stage)
	assert.True(t, page.closed)
}

func TestLoginConfiguredSelectorOverrides(t *testing.T) {
	page := &fakePage{
		visible: map[string]bool{
			`#custom-user`: true,
			`#custom-pass`: true,
			`#custom-go`:   true,
		},
	}
	cfg := testCfg()
	cfg.UsernameSelectors = []string{`#custom-user`}
	cfg.PasswordSelectors = []string{`#custom-pass`}
	cfg.SubmitSelectors = []string{`#custom-go`}
	eng := New(&fakeFactory{page: page}, cfg, zaptest.NewLogger(t))

	_, err := eng.Login(context.Background(), "https://idp.example.edu", basicCreds())
	require.NoError(t, err)
	assert.Equal(t, []string{`#custom-go`}, page.clicks)
	assert.Equal(t, `#custom-user`, page.fills[0].selector)
}

func TestProbeFirstStopsOnParentCancel(t *testing.T) {
	page := &fakePage{visible: map[string]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := probeFirst(ctx, page, defaultUsernameSelectors, time.Millisecond)
	assert.False(t, ok)
}
