// Package session owns the lifecycle of ephemeral authentication sessions.
// Sessions live in process memory only; a restart loses them all, which is an
// accepted property of the relay (a caller simply starts over).
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
)

// ErrNotFound is returned for session ids the store has never seen (or that
// were removed after promotion).
var ErrNotFound = errors.New("session not found")

// InvalidTransitionError reports an attempted illegal state machine edge.
// The session is left untouched when this is returned.
type InvalidTransitionError struct {
	SessionID string
	From      schemas.SessionStatus
	To        schemas.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}

// WrongStatusError reports a TakeIfStatus claim against a session whose
// current status does not match the required one.
type WrongStatusError struct {
	SessionID string
	Status    schemas.SessionStatus
}

func (e *WrongStatusError) Error() string {
	return fmt.Sprintf("session %s: status is %s", e.SessionID, e.Status)
}

// Update carries the payload applied together with a transition. Cookies are
// mandatory when moving to auth_success, FailureDetail when moving to
// auth_failed; neither may appear on any other edge.
type Update struct {
	Cookies       schemas.CookieJar
	FailureDetail string
}

// Store is the keyed session store contract. Implementations must serialize
// every read-modify-write per session id; two racing transitions on the same
// id must resolve to exactly one winner, with the loser rejected through the
// state machine's edge check.
type Store interface {
	Create(universityID, programID int64, redirectURI string) (*schemas.AuthSession, error)
	Get(id string) (*schemas.AuthSession, error)
	Transition(id string, to schemas.SessionStatus, update Update) (*schemas.AuthSession, error)
	// TakeIfStatus atomically removes and returns the session, but only if
	// its current status matches want. Of any number of racing claims on
	// the same id, exactly one succeeds; the rest observe ErrNotFound.
	TakeIfStatus(id string, want schemas.SessionStatus) (*schemas.AuthSession, error)
	Remove(id string)
}

// MemoryStore is the mutex-guarded in-memory Store implementation. The single
// lock is deliberate: transitions are pointer swaps and map writes, so
// contention stays negligible at relay volumes, and the Store interface
// leaves room for a sharded or durable replacement.
type MemoryStore struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*schemas.AuthSession

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger.Named("session_store"),
		sessions: make(map[string]*schemas.AuthSession),
		now:      time.Now,
	}
}

// Create initializes a new session in awaiting_credentials under a fresh
// unguessable id and returns a copy of it.
func (s *MemoryStore) Create(universityID, programID int64, redirectURI string) (*schemas.AuthSession, error) {
	id, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	sess := &schemas.AuthSession{
		ID:           id,
		UniversityID: universityID,
		ProgramID:    programID,
		RedirectURI:  redirectURI,
		Status:       schemas.StatusAwaitingCredentials,
		CreatedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int64("university_id", universityID),
		zap.Int64("program_id", programID),
	)
	return sess.Clone(), nil
}

// Get returns a copy of the session, or ErrNotFound.
func (s *MemoryStore) Get(id string) (*schemas.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return sess.Clone(), nil
}

// Transition applies a state change if and only if it is a legal edge from
// the session's current state, atomically with the update payload. On an
// illegal edge it returns an *InvalidTransitionError and changes nothing.
func (s *MemoryStore) Transition(id string, to schemas.SessionStatus, update Update) (*schemas.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}

	if !sess.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{SessionID: id, From: sess.Status, To: to}
	}
	if err := checkPayload(to, update); err != nil {
		return nil, fmt.Errorf("session %q: %w", id, err)
	}

	from := sess.Status
	sess.Status = to
	sess.Cookies = update.Cookies.Clone()
	sess.FailureDetail = update.FailureDetail

	s.logger.Info("session transition",
		zap.String("session_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return sess.Clone(), nil
}

// TakeIfStatus claims the session in a single critical section, so a
// check-then-consume caller cannot race another one into consuming the same
// session twice.
func (s *MemoryStore) TakeIfStatus(id string, want schemas.SessionStatus) (*schemas.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if sess.Status != want {
		return nil, &WrongStatusError{SessionID: id, Status: sess.Status}
	}

	delete(s.sessions, id)
	s.logger.Info("session taken",
		zap.String("session_id", id),
		zap.String("status", string(sess.Status)),
	)
	return sess, nil
}

// Remove deletes the session. Removing an absent id is a no-op.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// checkPayload enforces the session invariants: cookies iff auth_success,
// failure detail iff auth_failed.
func checkPayload(to schemas.SessionStatus, update Update) error {
	switch to {
	case schemas.StatusAuthSuccess:
		if update.Cookies == nil {
			return errors.New("transition to auth_success requires a cookie jar")
		}
		if update.FailureDetail != "" {
			return errors.New("transition to auth_success must not carry a failure detail")
		}
	case schemas.StatusAuthFailed:
		if update.FailureDetail == "" {
			return errors.New("transition to auth_failed requires a failure detail")
		}
		if update.Cookies != nil {
			return errors.New("transition to auth_failed must not carry cookies")
		}
	default:
		if update.Cookies != nil || update.FailureDetail != "" {
			return fmt.Errorf("transition to %s must not carry a payload", to)
		}
	}
	return nil
}

// newSessionToken returns 32 bytes of entropy, base64-url encoded. The id
// doubles as the bearer capability for the relay form, so it must not be
// guessable.
func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
