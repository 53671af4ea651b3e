package cookiejar_test

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/cookiejar"
)

func TestNormalizeFullCookie(t *testing.T) {
	t.Parallel()

	raw := []*network.Cookie{{
		Domain:   ".example.edu",
		Name:     "sid",
		Value:    "x",
		Expires:  1700000000,
		HTTPOnly: true,
		Secure:   true,
		SameSite: network.CookieSameSite("Foo"),
	}}

	jar := cookiejar.Normalize(raw)
	require.Contains(t, jar, "example.edu")
	require.Len(t, jar["example.edu"], 1)

	cookie := jar["example.edu"][0]
	assert.Equal(t, "sid", cookie.Name)
	assert.Equal(t, "x", cookie.Value)
	assert.Equal(t, "/", cookie.Path, "missing path defaults to /")
	require.NotNil(t, cookie.ExpiresAt)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), *cookie.ExpiresAt)
	assert.True(t, cookie.HTTPOnly)
	assert.True(t, cookie.Secure)
	assert.Empty(t, cookie.SameSite, "invalid SameSite normalizes to absent, not an error")
}

func TestNormalizeDomainGrouping(t *testing.T) {
	t.Parallel()

	raw := []*network.Cookie{
		{Domain: ".sso.example.edu", Name: "a", Value: "1"},
		{Domain: "sso.example.edu", Name: "b", Value: "2"},
		{Domain: "portal.example.edu", Name: "c", Value: "3"},
		{Name: "orphan", Value: "4"},
	}

	jar := cookiejar.Normalize(raw)
	assert.Equal(t, []string{"portal.example.edu", "sso.example.edu", schemas.UnknownDomain}, jar.Domains())

	// Dotted and undotted forms of the same domain share a group, in the
	// order the browser reported them.
	require.Len(t, jar["sso.example.edu"], 2)
	assert.Equal(t, "a", jar["sso.example.edu"][0].Name)
	assert.Equal(t, "b", jar["sso.example.edu"][1].Name)
}

func TestNormalizeSameSiteVariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw      string
		expected schemas.SameSite
	}{
		{"Lax", schemas.SameSiteLax},
		{"lax", schemas.SameSiteLax},
		{"Strict", schemas.SameSiteStrict},
		{"None", schemas.SameSiteNone},
		{"NONE", schemas.SameSiteNone},
		{"", ""},
		{"Foo", ""},
	}

	for _, tc := range testCases {
		t.Run("value "+tc.raw, func(t *testing.T) {
			jar := cookiejar.Normalize([]*network.Cookie{{
				Domain: "example.edu", Name: "n", Value: "v",
				SameSite: network.CookieSameSite(tc.raw),
			}})
			require.Len(t, jar["example.edu"], 1)
			assert.Equal(t, tc.expected, jar["example.edu"][0].SameSite)
		})
	}
}

func TestNormalizeExpiryVariants(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		expires float64
		absent  bool
	}{
		{"session cookie", -1, true},
		{"zero", 0, true},
		{"epoch seconds", 1700000000, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			jar := cookiejar.Normalize([]*network.Cookie{{
				Domain: "example.edu", Name: "n", Value: "v", Expires: tc.expires,
			}})
			cookie := jar["example.edu"][0]
			if tc.absent {
				assert.Nil(t, cookie.ExpiresAt)
			} else {
				assert.NotNil(t, cookie.ExpiresAt)
			}
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	raw := []*network.Cookie{
		{Domain: ".example.edu", Name: "a", Value: "1", Expires: 1700000000, SameSite: network.CookieSameSiteLax},
		{Domain: "other.edu", Name: "b", Value: "2"},
		{Name: "c", Value: "3"},
	}

	first := cookiejar.Normalize(raw)
	second := cookiejar.Normalize(raw)
	assert.Equal(t, first, second)
}

func TestNormalizeEmptyAndNil(t *testing.T) {
	t.Parallel()
	assert.Empty(t, cookiejar.Normalize(nil))
	assert.Empty(t, cookiejar.Normalize([]*network.Cookie{nil}))
}
