package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/api/schemas"
	"github.com/alexschratzi/Suni/internal/catalog"
	"github.com/alexschratzi/Suni/internal/connection"
	"github.com/alexschratzi/Suni/internal/relay"
	"github.com/alexschratzi/Suni/internal/session"
)

type authStartRequest struct {
	UniversityID int64  `json:"universityId"`
	ProgramID    int64  `json:"programId"`
	RedirectURI  string `json:"redirectUri"`
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	var req authStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	if req.ProgramID == 0 || req.RedirectURI == "" {
		s.writeError(w, http.StatusBadRequest, "missing_field")
		return
	}
	if parsed, err := url.Parse(req.RedirectURI); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_redirect_uri")
		return
	}

	res, err := s.relay.Start(req.UniversityID, req.ProgramID, req.RedirectURI)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownProgram) || errors.Is(err, catalog.ErrLoginNotConfigured) {
			s.writeError(w, http.StatusBadRequest, "unknown_program")
			return
		}
		s.internalError(w, "auth start failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// relayFormData feeds the credential form template.
type relayFormData struct {
	SessionID string
}

func (s *Server) handleRelayForm(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "missing_session_id")
		return
	}

	sess, err := s.relay.Session(sessionID)
	if err != nil {
		if errors.Is(err, relay.ErrInvalidSession) {
			s.writeError(w, http.StatusBadRequest, "invalid_session")
			return
		}
		s.internalError(w, "session lookup failed", err)
		return
	}
	if sess.Status != schemas.StatusAwaitingCredentials {
		s.renderErrorPage(w, http.StatusConflict, "This login link has already been used. Please start again.")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "relay.html", relayFormData{SessionID: sess.ID}); err != nil {
		s.logger.Error("failed to render relay form", zap.Error(err))
	}
}

func (s *Server) handleAuthPerform(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderErrorPage(w, http.StatusBadRequest, "The submitted form could not be read.")
		return
	}

	sessionID := r.PostFormValue("sessionId")
	creds := schemas.Credentials{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
		MFACode:  r.PostFormValue("mfaCode"),
	}
	if sessionID == "" || creds.Username == "" || creds.Password == "" {
		s.renderErrorPage(w, http.StatusBadRequest, "Username and password are required.")
		return
	}

	sess, err := s.relay.Perform(r.Context(), sessionID, creds)
	if err != nil {
		var ite *session.InvalidTransitionError
		switch {
		case errors.Is(err, relay.ErrInvalidSession):
			s.renderErrorPage(w, http.StatusBadRequest, "This login link is not valid. Please start again.")
		case errors.As(err, &ite):
			s.renderErrorPage(w, http.StatusConflict, "This login was already submitted.")
		default:
			s.logger.Error("auth perform failed", zap.String("session_id", sessionID), zap.Error(err))
			s.renderErrorPage(w, http.StatusInternalServerError, "Something went wrong. Please start again.")
		}
		return
	}

	if sess.Status != schemas.StatusAuthSuccess {
		// The specific cause stays in the session's failure detail for
		// operators; the user only sees a generic page.
		s.renderErrorPage(w, http.StatusUnauthorized, "Login did not succeed. Please start a new session and try again.")
		return
	}

	http.Redirect(w, r, callbackURL(sess.RedirectURI, sess.ID), http.StatusFound)
}

// callbackURL appends the session id to the caller's redirect target,
// preserving any query it already carries.
func callbackURL(redirectURI, sessionID string) string {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := parsed.Query()
	q.Set("sessionId", sessionID)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

type completeRequest struct {
	SessionID    string `json:"sessionId"`
	UniversityID int64  `json:"universityId"`
	ProgramID    int64  `json:"programId"`
}

type completeResponse struct {
	ConnectionID string `json:"connectionId"`
	Status       string `json:"status"`
}

func (s *Server) handleConnectionComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}

	conn, err := s.relay.Complete(req.SessionID, req.UniversityID, req.ProgramID)
	if err != nil {
		var notComplete *relay.NotCompleteError
		var mismatch *relay.MetadataMismatchError
		switch {
		case errors.Is(err, relay.ErrInvalidSession):
			s.writeError(w, http.StatusBadRequest, "invalid_session")
		case errors.As(err, &notComplete):
			s.writeJSON(w, http.StatusConflict, map[string]string{
				"error":  "auth_not_complete",
				"status": string(notComplete.Status),
			})
		case errors.As(err, &mismatch):
			s.writeError(w, http.StatusBadRequest, "metadata_mismatch")
		default:
			s.internalError(w, "connection complete failed", err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, completeResponse{ConnectionID: conn.ID, Status: "ready"})
}

type connectionStatusResponse struct {
	ConnectionID string    `json:"connectionId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	Domains      []string  `json:"domains"`
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.relay.ConnectionStatus(r.PathValue("connectionID"))
	if err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown_connection")
			return
		}
		s.internalError(w, "connection status failed", err)
		return
	}

	s.writeJSON(w, http.StatusOK, connectionStatusResponse{
		ConnectionID: conn.ID,
		Status:       "ready",
		CreatedAt:    conn.CreatedAt,
		Domains:      conn.Cookies.Domains(),
	})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal_error")
}

func (s *Server) renderErrorPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "error.html", map[string]string{"Message": message}); err != nil {
		s.logger.Error("failed to render error page", zap.Error(err))
	}
}
