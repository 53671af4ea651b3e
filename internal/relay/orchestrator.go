// Package relay coordinates one credential relay from start to promotion:
// catalog lookup, session state, browser automation, cookie normalization
// and finally promotion into a connection.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/connection"
	"github.com/alexschratzi/Suni/internal/cookiejar"
	"github.com/alexschratzi/Suni/internal/session"
)

// ErrInvalidSession is returned for operations against a session id the
// store does not hold.
var ErrInvalidSession = errors.New("invalid session")

// NotCompleteError rejects promotion of a session that has not reached
// auth_success. Status carries the session's current state for the caller.
type NotCompleteError struct {
	Status schemas.SessionStatus
}

func (e *NotCompleteError) Error() string {
	return fmt.Sprintf("auth not complete: session status is %s", e.Status)
}

// MetadataMismatchError rejects promotion when the caller-asserted
// university or program does not match what the session was started for.
type MetadataMismatchError struct {
	UniversityID int64
	ProgramID    int64
}

func (e *MetadataMismatchError) Error() string {
	return fmt.Sprintf("metadata mismatch: session was not started for university %d program %d", e.UniversityID, e.ProgramID)
}

// Resolver maps a program id to its login target. Satisfied by
// catalog.Service.
type Resolver interface {
	Resolve(programID int64) (schemas.Program, error)
}

// Submitter hands a login attempt to the automation worker pool and blocks
// for its outcome. Satisfied by engine.Pool.
type Submitter interface {
	Submit(ctx context.Context, sessionID, loginURL string, creds schemas.Credentials) ([]*network.Cookie, error)
}

// StartResult is the outcome of starting a relay: the session plus the link
// the caller should open.
type StartResult struct {
	SessionID string `json:"sessionId"`
	AuthURL   string `json:"authUrl"`
}

// Orchestrator is the top level coordinator invoked per HTTP request.
type Orchestrator struct {
	logger      *zap.Logger
	catalog     Resolver
	sessions    session.Store
	connections connection.Registry
	pool        Submitter
	baseURL     string
}

// New creates a relay orchestrator. publicBaseURL is the externally
// reachable origin used to build relay links.
func New(
	logger *zap.Logger,
	catalog Resolver,
	sessions session.Store,
	connections connection.Registry,
	pool Submitter,
	publicBaseURL string,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger.Named("relay"),
		catalog:     catalog,
		sessions:    sessions,
		connections: connections,
		pool:        pool,
		baseURL:     publicBaseURL,
	}
}

// Start resolves the program and creates a fresh session for it. An unknown
// or unconfigured program fails before any session exists, so there are no
// orphan sessions to clean up.
func (o *Orchestrator) Start(universityID, programID int64, redirectURI string) (*StartResult, error) {
	if _, err := o.catalog.Resolve(programID); err != nil {
		return nil, err
	}

	sess, err := o.sessions.Create(universityID, programID, redirectURI)
	if err != nil {
		return nil, err
	}

	return &StartResult{
		SessionID: sess.ID,
		AuthURL:   o.authURL(sess.ID),
	}, nil
}

// Session looks up a session for status display and relay form rendering.
func (o *Orchestrator) Session(id string) (*schemas.AuthSession, error) {
	sess, err := o.sessions.Get(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	return sess, nil
}

// Perform runs the login automation for a session and drives it to a
// terminal state. The state machine's edge check makes this safe against a
// racing double submit: exactly one caller wins the move to
// auth_in_progress, every other one gets an *session.InvalidTransitionError.
// The returned session is terminal either way; internal failure text lands
// in FailureDetail and is for operators, not end users.
func (o *Orchestrator) Perform(ctx context.Context, sessionID string, creds schemas.Credentials) (*schemas.AuthSession, error) {
	sess, err := o.sessions.Transition(sessionID, schemas.StatusAuthInProgress, session.Update{})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	log := o.logger.With(
		zap.String("session_id", sessionID),
		zap.Int64("program_id", sess.ProgramID),
	)

	program, err := o.catalog.Resolve(sess.ProgramID)
	if err != nil {
		// The program vanished or lost its login URL since start.
		log.Warn("login url unresolved", zap.Error(err))
		return o.fail(sessionID, fmt.Errorf("resolve login url: %w", err))
	}

	rawCookies, err := o.pool.Submit(ctx, sessionID, program.LoginURL, creds)
	if err != nil {
		return o.fail(sessionID, err)
	}

	jar := cookiejar.Normalize(rawCookies)
	done, err := o.sessions.Transition(sessionID, schemas.StatusAuthSuccess, session.Update{Cookies: jar})
	if err != nil {
		return nil, err
	}
	log.Info("relay authenticated", zap.Strings("cookie_domains", jar.Domains()))
	return done, nil
}

// fail records the automation error on the session and returns the failed
// session. The error itself is consumed here; callers surface a generic
// failure.
func (o *Orchestrator) fail(sessionID string, cause error) (*schemas.AuthSession, error) {
	sess, err := o.sessions.Transition(sessionID, schemas.StatusAuthFailed, session.Update{
		FailureDetail: cause.Error(),
	})
	if err != nil {
		return nil, err
	}
	o.logger.Warn("relay failed",
		zap.String("session_id", sessionID),
		zap.Error(cause),
	)
	return sess, nil
}

// Complete promotes a successfully authenticated session into a connection.
// The caller-supplied metadata must match the session's own. The session is
// claimed through the store's atomic take, so of any number of racing
// complete calls exactly one promotes; the rest observe ErrInvalidSession.
// A metadata mismatch is checked before the claim and leaves the session
// intact for a corrected retry.
func (o *Orchestrator) Complete(sessionID string, universityID, programID int64) (*schemas.Connection, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if sess.Status != schemas.StatusAuthSuccess {
		return nil, &NotCompleteError{Status: sess.Status}
	}
	if sess.UniversityID != universityID || sess.ProgramID != programID {
		return nil, &MetadataMismatchError{UniversityID: universityID, ProgramID: programID}
	}

	taken, err := o.sessions.TakeIfStatus(sessionID, schemas.StatusAuthSuccess)
	if err != nil {
		// A racing complete call claimed the session first.
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		var wse *session.WrongStatusError
		if errors.As(err, &wse) {
			return nil, &NotCompleteError{Status: wse.Status}
		}
		return nil, err
	}

	conn, err := o.connections.Promote(taken.UniversityID, taken.ProgramID, taken.Cookies)
	if err != nil {
		return nil, err
	}
	o.logger.Info("session promoted",
		zap.String("session_id", sessionID),
		zap.String("connection_id", conn.ID),
	)
	return conn, nil
}

// ConnectionStatus looks up a promoted connection.
func (o *Orchestrator) ConnectionStatus(id string) (*schemas.Connection, error) {
	return o.connections.Get(id)
}

// authURL builds the relay link the user opens to submit credentials.
func (o *Orchestrator) authURL(sessionID string) string {
	return fmt.Sprintf("%s/auth/relay?sessionId=%s", o.baseURL, url.QueryEscape(sessionID))
}
