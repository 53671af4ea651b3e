package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/catalog"
)

// serveCachedJSON writes a catalog payload with the validation headers the
// bundle carries, honoring If-None-Match with a 304.
func (s *Server) serveCachedJSON(w http.ResponseWriter, r *http.Request, bundle *catalog.Bundle, payload any) {
	w.Header().Set("ETag", bundle.ETag)
	w.Header().Set("Last-Modified", bundle.LastModified)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cacheMaxAge))

	if match := r.Header.Get("If-None-Match"); match != "" && match == bundle.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// optionalInt64Query parses an optional integer query parameter. The error
// is non-nil only when the parameter is present but malformed.
func optionalInt64Query(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("query parameter %s must be an integer", key)
	}
	return &v, nil
}

func (s *Server) bundle(w http.ResponseWriter) (*catalog.Bundle, bool) {
	bundle, err := s.catalog.Bundle()
	if err != nil {
		s.internalError(w, "catalog unavailable", err)
		return nil, false
	}
	return bundle, true
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	bundle, ok := s.bundle(w)
	if !ok {
		return
	}
	s.serveCachedJSON(w, r, bundle, bundle.Data.Countries)
}

func (s *Server) handleUniversities(w http.ResponseWriter, r *http.Request) {
	countryID, err := optionalInt64Query(r, "countryId")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_country_id")
		return
	}
	bundle, ok := s.bundle(w)
	if !ok {
		return
	}
	s.serveCachedJSON(w, r, bundle, bundle.Universities(countryID))
}

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	universityID, err := optionalInt64Query(r, "universityId")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_university_id")
		return
	}
	bundle, ok := s.bundle(w)
	if !ok {
		return
	}
	s.serveCachedJSON(w, r, bundle, bundle.Programs(universityID))
}

func (s *Server) uniIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("uniID"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_university_id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleUniConfig(w http.ResponseWriter, r *http.Request) {
	uniID, ok := s.uniIDFromPath(w, r)
	if !ok {
		return
	}
	bundle, ok := s.bundle(w)
	if !ok {
		return
	}

	cfg, err := bundle.UniConfig(uniID)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownUniversity) {
			s.writeError(w, http.StatusNotFound, "unknown_university")
			return
		}
		s.internalError(w, "uni config lookup failed", err)
		return
	}
	s.serveCachedJSON(w, r, bundle, cfg)
}

type uniLinksResponse struct {
	UniID int64              `json:"uniId"`
	Links []schemas.LinkItem `json:"links"`
}

func (s *Server) handleUniLinks(w http.ResponseWriter, r *http.Request) {
	uniID, ok := s.uniIDFromPath(w, r)
	if !ok {
		return
	}
	bundle, ok := s.bundle(w)
	if !ok {
		return
	}

	cfg, err := bundle.UniConfig(uniID)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownUniversity) {
			s.writeError(w, http.StatusNotFound, "unknown_university")
			return
		}
		s.internalError(w, "uni links lookup failed", err)
		return
	}

	links := cfg.Links
	if links == nil {
		links = []schemas.LinkItem{}
	}
	s.serveCachedJSON(w, r, bundle, uniLinksResponse{UniID: uniID, Links: links})
}
