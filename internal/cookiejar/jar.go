// Package cookiejar turns the raw cookie list read out of a browser context
// into the domain-grouped jar stored on sessions and connections. Normalize
// is pure: no I/O, same output for the same input.
package cookiejar

import (
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/alexschratzi/Suni/api/schemas"
)

// Normalize groups raw browser cookies by origin domain and applies the
// normalization rules: leading dot stripped from domains, missing domains
// grouped under the "unknown" sentinel, path defaulted to "/", non-positive
// expiries treated as absent, and unrecognized SameSite values dropped
// rather than rejected.
func Normalize(raw []*network.Cookie) schemas.CookieJar {
	jar := make(schemas.CookieJar)
	for _, c := range raw {
		if c == nil {
			continue
		}
		domain := normalizeDomain(c.Domain)
		jar[domain] = append(jar[domain], schemas.Cookie{
			Name:      c.Name,
			Value:     c.Value,
			Path:      normalizePath(c.Path),
			ExpiresAt: normalizeExpiry(c.Expires),
			HTTPOnly:  c.HTTPOnly,
			Secure:    c.Secure,
			SameSite:  normalizeSameSite(string(c.SameSite)),
		})
	}
	return jar
}

func normalizeDomain(domain string) string {
	domain = strings.TrimPrefix(domain, ".")
	if domain == "" {
		return schemas.UnknownDomain
	}
	return domain
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// normalizeExpiry converts the CDP epoch-seconds expiry. Browsers report -1
// (or 0) for session cookies, which the jar models as an absent expiry.
func normalizeExpiry(epochSeconds float64) *time.Time {
	if epochSeconds <= 0 || math.IsNaN(epochSeconds) || math.IsInf(epochSeconds, 0) {
		return nil
	}
	sec, frac := math.Modf(epochSeconds)
	t := time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
	return &t
}

func normalizeSameSite(value string) schemas.SameSite {
	switch strings.ToLower(value) {
	case "lax":
		return schemas.SameSiteLax
	case "strict":
		return schemas.SameSiteStrict
	case "none":
		return schemas.SameSiteNone
	default:
		// Anything else is an invalid attribute, not an invalid cookie.
		return ""
	}
}
