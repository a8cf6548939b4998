package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shigotoin/authcore/internal/server/auth"
	"github.com/shigotoin/authcore/internal/server/repositories/users"
)

// loggedInResponse mirrors the cookie's token metadata so the client can
// schedule its own refresh without being able to read the cookie.
type loggedInResponse struct {
	ExpiresIn    int     `json:"exp"`
	IssuedTime   float64 `json:"iss"`
	RefreshToken bool    `json:"rtk"`
}

type challengeResponse struct {
	ChallengeName string `json:"challenge_name"`
	Username      string `json:"username"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type meResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email"`
}

// handleToken runs one interactive authentication step. A plain
// username/password form starts a sign-in; a form carrying new_password
// or mfa_code answers the pending challenge held in the cookie.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form data"})
		return
	}

	if r.PostForm.Has("new_password") || r.PostForm.Has("mfa_code") {
		s.handleChallengeAnswer(w, r)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password are required"})
		return
	}

	provider, err := s.selector.ForUsername(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := provider.SignIn(r.Context(), username, password, r.PostFormValue("challenge_name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSignInResult(w, r, result)
}

func (s *Server) handleChallengeAnswer(w http.ResponseWriter, r *http.Request) {
	state, ok := s.challengeState(r)
	if !ok {
		s.unauthorized(w)
		return
	}

	provider, err := s.selector.ForUsername(r.Context(), state.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if code := r.PostFormValue("mfa_code"); code != "" {
		token, err := provider.RespondToEmailOTPChallenge(r.Context(), state.Username, state.Session, code)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSignInResult(w, r, &auth.SignInResult{Token: token})
		return
	}

	result, err := provider.RespondToNewPasswordChallenge(r.Context(), state.Username, state.Session, r.PostFormValue("new_password"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSignInResult(w, r, result)
}

// writeSignInResult folds a protocol outcome into the cookie and the
// response body: a token establishes the session, a challenge parks its
// continuation state for the next step.
func (s *Server) writeSignInResult(w http.ResponseWriter, r *http.Request, result *auth.SignInResult) {
	if result.Challenge != nil {
		if err := s.setChallengeCookie(w, result.Challenge); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, challengeResponse{
			ChallengeName: result.Challenge.Name,
			Username:      result.Challenge.Username,
		})
		return
	}

	if err := s.setTokenCookie(w, r, result.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loggedInResponse{
		ExpiresIn:    result.Token.ExpiresIn,
		IssuedTime:   result.Token.IssuedAt,
		RefreshToken: result.Token.RefreshToken != "",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	state, ok := s.tokenState(r)
	if !ok {
		s.unauthorized(w)
		return
	}

	provider := s.selector.ForToken(state.AccessToken)
	token, err := provider.RefreshToken(r.Context(), state.AccessToken, state.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.setTokenCookie(w, r, token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loggedInResponse{
		ExpiresIn:    token.ExpiresIn,
		IssuedTime:   token.IssuedAt,
		RefreshToken: token.RefreshToken != "",
	})
}

// handleSignOut revokes best-effort and always clears the cookie: the
// client ends up signed out locally even when remote revocation fails.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	state, ok := s.tokenState(r)
	if !ok {
		s.unauthorized(w)
		return
	}

	provider := s.selector.ForToken(state.AccessToken)
	success := provider.DiscardToken(r.Context(), state.AccessToken, state.RefreshToken)

	s.deleteCookie(w)

	message := "Token successfully discarded"
	if !success {
		message = "Failed to discard token - please clear local storage"
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Success: success, Message: message})
}

// handleChangePassword changes the authenticated account's password. A
// NotAuthorized from the federated backend means the access token went
// stale mid-session, so when a refresh token is at hand the handler
// refreshes and retries exactly once, updating the cookie on the way.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	state, ok := s.tokenState(r)
	if !ok {
		s.unauthorized(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form data"})
		return
	}
	oldPassword := r.PostFormValue("old_password")
	newPassword := r.PostFormValue("new_password")
	if oldPassword == "" || newPassword == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "old_password and new_password are required"})
		return
	}

	provider := s.selector.ForToken(state.AccessToken)
	err := provider.ChangePassword(r.Context(), state.AccessToken, oldPassword, newPassword)
	if errors.Is(err, auth.ErrNotAuthorized) && state.RefreshToken != "" {
		token, refreshErr := provider.RefreshToken(r.Context(), state.AccessToken, state.RefreshToken)
		if refreshErr != nil {
			s.writeError(w, r, refreshErr)
			return
		}
		if cookieErr := s.setTokenCookie(w, r, token); cookieErr != nil {
			s.writeError(w, r, cookieErr)
			return
		}
		err = provider.ChangePassword(r.Context(), token.AccessToken, oldPassword, newPassword)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Success: true, Message: "Password successfully changed"})
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "username or email is required"})
		return
	}

	provider, err := s.selector.ForUsername(r.Context(), identifier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := provider.ForgotPassword(r.Context(), identifier, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	state, ok := s.tokenState(r)
	if !ok {
		s.unauthorized(w)
		return
	}

	provider := s.selector.ForToken(state.AccessToken)
	info, err := provider.GetTokenInfo(r.Context(), state.AccessToken, state.ExpiresIn, state.IssuedTime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cred, err := s.repos.Users(s.db).FindByUsernameOrEmail(r.Context(), info.Username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			// A verified token for an account with no store row: federated
			// accounts must still be provisioned locally to use the API.
			s.unauthorized(w)
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, meResponse{
		ID:       cred.ID,
		Username: cred.Username,
		Nickname: cred.Nickname,
		Email:    cred.Email,
	})
}
