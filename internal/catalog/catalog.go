// JSON-file-backed program catalog with an mtime-checked cache. The file is
// the single source of truth; edits are picked up on the next request without
// a restart.
package catalog

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnknownProgram means no catalog entry exists for the program id.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrLoginNotConfigured means the program exists but neither it nor its
	// university declares a login URL, so it cannot be relayed.
	ErrLoginNotConfigured = errors.New("program has no login url configured")
	// ErrUnknownUniversity means no uniConfig entry exists for the id.
	ErrUnknownUniversity = errors.New("unknown university")
)

// Data is the parsed universities.json payload.
type Data struct {
	Version      string                       `json:"version"`
	Countries    []schemas.Country            `json:"countries"`
	Universities []schemas.University         `json:"universities"`
	Programs     []schemas.Program            `json:"programs"`
	UniConfigs   map[string]schemas.UniConfig `json:"uniConfigs"`
}

// Bundle is one immutable snapshot of the catalog file together with the
// cache-validation material derived from it.
type Bundle struct {
	Data         Data
	ModTime      time.Time
	ETag         string
	LastModified string // RFC1123, for the Last-Modified header
}

// Service reads and caches the catalog. Safe for concurrent use.
type Service struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	cached *Bundle
}

// New creates a catalog service reading from path. The file is loaded lazily
// on first use, so a missing file surfaces per-request rather than at boot.
func New(path string, logger *zap.Logger) *Service {
	return &Service{
		path:   path,
		logger: logger.Named("catalog"),
	}
}

// Bundle returns the current catalog snapshot, reloading the file if its
// mtime changed since the last read.
func (s *Service) Bundle() (*Bundle, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cached.ModTime.Equal(info.ModTime()) {
		return s.cached, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", s.path, err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", s.path, err)
	}
	if err := validate(data); err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", s.path, err)
	}

	bundle := &Bundle{
		Data:         data,
		ModTime:      info.ModTime(),
		ETag:         computeETag(raw, info.ModTime()),
		LastModified: info.ModTime().UTC().Format(time.RFC1123),
	}
	s.cached = bundle

	s.logger.Info("catalog loaded",
		zap.String("version", data.Version),
		zap.Int("countries", len(data.Countries)),
		zap.Int("universities", len(data.Universities)),
		zap.Int("programs", len(data.Programs)),
	)
	return bundle, nil
}

// Resolve looks up the relay target for a program: its login URL and auth
// type, joined from the program row and its university's config. A
// program-level value overrides the university's.
func (s *Service) Resolve(programID int64) (schemas.Program, error) {
	bundle, err := s.Bundle()
	if err != nil {
		return schemas.Program{}, err
	}

	for _, p := range bundle.Data.Programs {
		if p.ID != programID {
			continue
		}

		resolved := p
		if cfg, ok := bundle.Data.UniConfigs[strconv.FormatInt(p.UniversityID, 10)]; ok {
			if resolved.LoginURL == "" {
				resolved.LoginURL = cfg.LoginURL
			}
			if resolved.AuthType == "" {
				resolved.AuthType = cfg.AuthType
			}
		}
		if resolved.LoginURL == "" {
			return schemas.Program{}, fmt.Errorf("program %d: %w", programID, ErrLoginNotConfigured)
		}
		if resolved.AuthType == "" {
			resolved.AuthType = schemas.AuthTypeCookie
		}
		return resolved, nil
	}

	return schemas.Program{}, fmt.Errorf("program %d: %w", programID, ErrUnknownProgram)
}

// Universities filters by country when countryID is non-nil.
func (b *Bundle) Universities(countryID *int64) []schemas.University {
	if countryID == nil {
		return b.Data.Universities
	}
	out := make([]schemas.University, 0)
	for _, u := range b.Data.Universities {
		if u.CountryID == *countryID {
			out = append(out, u)
		}
	}
	return out
}

// Programs filters by university when universityID is non-nil.
func (b *Bundle) Programs(universityID *int64) []schemas.Program {
	if universityID == nil {
		return b.Data.Programs
	}
	out := make([]schemas.Program, 0)
	for _, p := range b.Data.Programs {
		if p.UniversityID == *universityID {
			out = append(out, p)
		}
	}
	return out
}

// UniConfig returns the per-university relay configuration.
func (b *Bundle) UniConfig(uniID int64) (schemas.UniConfig, error) {
	cfg, ok := b.Data.UniConfigs[strconv.FormatInt(uniID, 10)]
	if !ok {
		return schemas.UniConfig{}, fmt.Errorf("university %d: %w", uniID, ErrUnknownUniversity)
	}
	return cfg, nil
}

func validate(data Data) error {
	if data.Countries == nil {
		return errors.New("missing key 'countries'")
	}
	if data.Universities == nil {
		return errors.New("missing key 'universities'")
	}
	if data.Programs == nil {
		return errors.New("missing key 'programs'")
	}
	if data.UniConfigs == nil {
		return errors.New("missing key 'uniConfigs'")
	}
	return nil
}

// computeETag derives a weak ETag from the payload bytes and the file mtime,
// so a rewrite with identical content but a new mtime still invalidates.
func computeETag(payload []byte, modTime time.Time) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(strconv.FormatInt(modTime.UnixNano(), 10)))
	return fmt.Sprintf(`W/"%x"`, h.Sum(nil))
}
