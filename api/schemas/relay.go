package schemas

import (
	"sort"
	"time"
)

// -- Session State Machine --

// SessionStatus is the authentication lifecycle state of an AuthSession.
type SessionStatus string

const (
	StatusAwaitingCredentials SessionStatus = "awaiting_credentials"
	StatusAuthInProgress      SessionStatus = "auth_in_progress"
	StatusAuthSuccess         SessionStatus = "auth_success"
	StatusAuthFailed          SessionStatus = "auth_failed"
)

// legalTransitions encodes the only permitted edges of the session state
// machine. Terminal states have no outgoing edges.
var legalTransitions = map[SessionStatus][]SessionStatus{
	StatusAwaitingCredentials: {StatusAuthInProgress},
	StatusAuthInProgress:      {StatusAuthSuccess, StatusAuthFailed},
	StatusAuthSuccess:         {},
	StatusAuthFailed:          {},
}

// Terminal reports whether the status ends the authentication lifecycle.
func (s SessionStatus) Terminal() bool {
	return s == StatusAuthSuccess || s == StatusAuthFailed
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// -- Cookie Model --

// SameSite mirrors the cookie SameSite attribute. The empty value means the
// attribute is absent (either never set or normalized away as invalid).
type SameSite string

const (
	SameSiteLax    SameSite = "Lax"
	SameSiteStrict SameSite = "Strict"
	SameSiteNone   SameSite = "None"
)

// UnknownDomain is the sentinel jar key for cookies whose origin domain the
// browser did not report.
const UnknownDomain = "unknown"

// Cookie is a single normalized browser cookie.
type Cookie struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Path      string     `json:"path"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	HTTPOnly  bool       `json:"httpOnly"`
	Secure    bool       `json:"secure"`
	SameSite  SameSite   `json:"sameSite,omitempty"`
}

// CookieJar groups normalized cookies by their origin domain (leading dot
// stripped). Order within a domain follows the order the browser reported.
type CookieJar map[string][]Cookie

// Domains returns the jar's domains in sorted order.
func (j CookieJar) Domains() []string {
	domains := make([]string, 0, len(j))
	for d := range j {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Clone returns a deep copy of the jar. A nil jar clones to nil.
func (j CookieJar) Clone() CookieJar {
	if j == nil {
		return nil
	}
	out := make(CookieJar, len(j))
	for domain, cookies := range j {
		copied := make([]Cookie, len(cookies))
		copy(copied, cookies)
		out[domain] = copied
	}
	return out
}

// -- Relay Domain Entities --

// AuthType is the declared authentication mechanism of a program's login page.
type AuthType string

const (
	AuthTypeSAML   AuthType = "saml"
	AuthTypeCAS    AuthType = "cas"
	AuthTypeCookie AuthType = "cookie"
	AuthTypeOAuth2 AuthType = "oauth2"
)

// Program is a catalog entry resolved for the relay: where to log in and how
// the institution authenticates. LoginURL and AuthType are only populated on
// entries returned by catalog resolution; plain listing payloads omit them.
type Program struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name,omitempty"`
	UniversityID int64    `json:"universityId"`
	LoginURL     string   `json:"loginUrl,omitempty"`
	AuthType     AuthType `json:"authType,omitempty"`
}

// Credentials is the user-supplied login material for one relay attempt.
// It is never persisted; it only flows through the automation engine.
type Credentials struct {
	Username string
	Password string
	MFACode  string
}

// HasMFA reports whether a one-time code was supplied.
func (c Credentials) HasMFA() bool { return c.MFACode != "" }

// AuthSession is one ephemeral login attempt from start to success/failure.
//
// Invariants: Cookies is non-nil iff Status == StatusAuthSuccess, and
// FailureDetail is non-empty iff Status == StatusAuthFailed.
type AuthSession struct {
	ID            string        `json:"sessionId"`
	UniversityID  int64         `json:"universityId"`
	ProgramID     int64         `json:"programId"`
	RedirectURI   string        `json:"redirectUri"`
	Status        SessionStatus `json:"status"`
	Cookies       CookieJar     `json:"cookies,omitempty"`
	FailureDetail string        `json:"failureDetail,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Clone returns a deep copy, so store reads never alias store state.
func (s *AuthSession) Clone() *AuthSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Cookies = s.Cookies.Clone()
	return &out
}

// Connection is the promoted, process-lifetime record of captured credential
// material. Immutable after creation.
type Connection struct {
	ID           string    `json:"connectionId"`
	UniversityID int64     `json:"universityId"`
	ProgramID    int64     `json:"programId"`
	Cookies      CookieJar `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Clone returns a deep copy, so registry reads never alias registry state.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	out.Cookies = c.Cookies.Clone()
	return &out
}
