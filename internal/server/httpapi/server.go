// Package httpapi is the HTTP transport for the authentication core.
// It is deliberately thin: handlers parse the request, pick a provider
// through the selector, run one protocol step, and fold the outcome
// into the session cookie. All session state lives in that cookie.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shigotoin/authcore/internal/logging"
	"github.com/shigotoin/authcore/internal/server/auth"
	"github.com/shigotoin/authcore/internal/server/repositories/repomanager"
	"github.com/shigotoin/authcore/internal/server/session"
)

// Cookie lifetimes in seconds. A token cookie outlives the access token
// by a wide margin so the refresh token inside stays reachable; a
// challenge cookie only needs to cover the interactive window.
const (
	tokenCookieAgeMargin = 30 * 24 * 60 * 60
	challengeCookieAge   = 24 * 60 * 60
)

// Server holds the handler dependencies.
type Server struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	selector *auth.Selector

	secureCookie bool

	log logging.Logger
}

func NewServer(db *sql.DB, repos repomanager.RepositoryManager, selector *auth.Selector, secureCookie bool, log logging.Logger) *Server {
	return &Server{
		db:           db,
		repos:        repos,
		selector:     selector,
		secureCookie: secureCookie,
		log:          log,
	}
}

// Routes registers all endpoints on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/signout", s.handleSignOut)
	mux.HandleFunc("POST /auth/change-password", s.handleChangePassword)
	mux.HandleFunc("POST /auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("GET /auth/me", s.handleMe)
}

// tokenState reads and validates the session cookie. ok is false for a
// missing cookie, an undecodable payload, or missing required keys; the
// caller answers 401 in every one of those cases.
func (s *Server) tokenState(r *http.Request) (session.Token, bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return session.Token{}, false
	}
	return session.ParseToken(session.Decode(cookie.Value))
}

func (s *Server) challengeState(r *http.Request) (session.Challenge, bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return session.Challenge{}, false
	}
	return session.ParseChallenge(session.Decode(cookie.Value))
}

func (s *Server) setTokenCookie(w http.ResponseWriter, r *http.Request, token *auth.Token) error {
	value, err := session.Encode(session.FromToken(token))
	if err != nil {
		return err
	}
	s.setCookie(w, value, token.ExpiresIn+tokenCookieAgeMargin)
	return nil
}

func (s *Server) setChallengeCookie(w http.ResponseWriter, challenge *auth.Challenge) error {
	value, err := session.Encode(session.FromChallenge(challenge))
	if err != nil {
		return err
	}
	s.setCookie(w, value, challengeCookieAge)
	return nil
}

func (s *Server) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) deleteCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error(context.Background(), "writing response failed", "error", err)
	}
}

// errorStatuses orders the protocol taxonomy by HTTP status. The first
// matching sentinel wins and its fixed message is the whole response.
var errorStatuses = []struct {
	sentinel error
	status   int
}{
	{auth.ErrNotAuthorized, http.StatusUnauthorized},
	{auth.ErrAccessTokenExpired, http.StatusUnauthorized},
	{auth.ErrInvalidAccessToken, http.StatusUnauthorized},
	{auth.ErrCodeMismatch, http.StatusUnauthorized},
	{auth.ErrTemporaryPasswordExpired, http.StatusUnauthorized},
	{auth.ErrNotFound, http.StatusNotFound},
	{auth.ErrRefreshUnsupported, http.StatusBadRequest},
	{auth.ErrNotImplemented, http.StatusBadRequest},
}

// writeError maps the protocol taxonomy onto HTTP statuses. Clients only
// ever see the sentinel's message; whatever was wrapped onto it stays in
// the log. Anything outside the taxonomy is answered with an opaque 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatuses {
		if errors.Is(err, m.sentinel) {
			if err.Error() != m.sentinel.Error() {
				s.log.Debug(r.Context(), "request rejected", "path", r.URL.Path, "error", err)
			}
			s.writeJSON(w, m.status, errorBody{Error: m.sentinel.Error()})
			return
		}
	}
	s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not authenticated"})
}

type errorBody struct {
	Error string `json:"error"`
}
