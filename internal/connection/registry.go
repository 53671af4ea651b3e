// Package connection holds promoted connections: the durable handles a
// caller keeps after a relay session succeeds. A connection owns an
// immutable snapshot of the harvested cookie jar.
package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
)

// ErrNotFound is returned for connection ids the registry does not hold.
var ErrNotFound = errors.New("connection not found")

// Registry stores promoted connections keyed by id.
type Registry interface {
	Promote(universityID, programID int64, cookies schemas.CookieJar) (*schemas.Connection, error)
	Get(id string) (*schemas.Connection, error)
}

// MemoryRegistry is the mutex-guarded in-memory Registry implementation.
type MemoryRegistry struct {
	logger *zap.Logger

	mu          sync.RWMutex
	connections map[string]*schemas.Connection

	now func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty in-memory connection registry.
func NewMemoryRegistry(logger *zap.Logger) *MemoryRegistry {
	return &MemoryRegistry{
		logger:      logger.Named("connection_registry"),
		connections: make(map[string]*schemas.Connection),
		now:         time.Now,
	}
}

// Promote mints a new connection around a deep copy of the cookie jar. The
// jar must be non-nil: promotion only ever follows a successful login, and a
// successful login always produces a jar (possibly empty).
func (r *MemoryRegistry) Promote(universityID, programID int64, cookies schemas.CookieJar) (*schemas.Connection, error) {
	if cookies == nil {
		return nil, errors.New("promote requires a cookie jar")
	}

	conn := &schemas.Connection{
		ID:           uuid.NewString(),
		UniversityID: universityID,
		ProgramID:    programID,
		Cookies:      cookies.Clone(),
		CreatedAt:    r.now().UTC(),
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()

	r.logger.Info("connection promoted",
		zap.String("connection_id", conn.ID),
		zap.Int64("university_id", universityID),
		zap.Int64("program_id", programID),
		zap.Int("cookie_domains", len(conn.Cookies)),
	)
	return conn.Clone(), nil
}

// Get returns a copy of the connection, or ErrNotFound.
func (r *MemoryRegistry) Get(id string) (*schemas.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", id, ErrNotFound)
	}
	return conn.Clone(), nil
}
