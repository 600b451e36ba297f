package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/pkg/authsdk"
	"github.com/aussiebroadwan/academy/pkg/httpx"
	"github.com/aussiebroadwan/academy/pkg/slogx"
)

// AuthHandler serves the /v1/auth endpoints.
type AuthHandler struct {
	Sessions *service.SessionManager
	Users    *service.UserService

	// SecureCookies marks the refresh cookie Secure. Off only for plain
	// http development setups.
	SecureCookies bool

	// Now defaults to time.Now and is only used for expires_in.
	Now func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleRegister serves POST /v1/auth/register.
//
//	@Summary		Register a user
//	@Description	Creates a user account. Emails are matched case-insensitively and must be unique.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RegisterRequest	true	"New account"
//	@Success		201		{object}	authsdk.UserResponse	"Created user"
//	@Failure		400		{object}	authsdk.APIError		"Invalid email, username or password"
//	@Failure		409		{object}	authsdk.APIError		"Email already registered"
//	@Failure		429		{object}	authsdk.APIError		"Rate limit exceeded"
//	@Router			/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}

	u, err := h.Users.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, userResponse(u))
}

// HandleLogin serves POST /v1/auth/login.
//
//	@Summary		Log in
//	@Description	Checks credentials and starts a session. The refresh token is also set as an HttpOnly cookie.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse	"Token pair"
//	@Failure		400		{object}	authsdk.APIError		"Missing email or password"
//	@Failure		401		{object}	authsdk.APIError		"Invalid credentials"
//	@Failure		429		{object}	authsdk.APIError		"Rate limit exceeded"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}
	if req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WithDescription("email and password are required").WriteError(w)
		return
	}

	u, err := h.Users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	pair, err := h.Sessions.Login(ctx, u.Identity())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("user logged in", "user_id", u.ID, "session_id", pair.SessionID)
	h.writeTokens(w, pair)
}

// HandleRefresh serves POST /v1/auth/refresh. The refresh token comes from
// the body or, failing that, the refresh_token cookie.
//
//	@Summary		Refresh a token pair
//	@Description	Rotates the session. The refresh token comes from the body or the refresh_token cookie; the old pair stops working.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	false	"Refresh token, optional when the cookie is sent"
//	@Success		200		{object}	authsdk.TokenResponse	"New token pair"
//	@Failure		400		{object}	authsdk.APIError		"No refresh token"
//	@Failure		401		{object}	authsdk.APIError		"Invalid, expired or already used refresh token"
//	@Failure		429		{object}	authsdk.APIError		"Rate limit exceeded"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}

	token := refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		authsdk.ErrInvalidRequest.WithDescription("refresh_token is required").WriteError(w)
		return
	}

	pair, err := h.Sessions.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.writeTokens(w, pair)
}

// HandleLogout serves POST /v1/auth/logout. The access token is read from
// the Authorization header. Its signature is checked but its expiry is not,
// so an expired access token can still log out.
//
//	@Summary		Log out
//	@Description	Ends the session and revokes the access token. Expired access tokens are accepted; repeated calls succeed.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	authsdk.LogoutRequest	false	"Refresh token, optional when the cookie is sent"
//	@Success		204		"Logged out"
//	@Failure		400		{object}	authsdk.APIError	"Malformed or missing token"
//	@Failure		401		{object}	authsdk.APIError	"Missing bearer token or bad signature"
//	@Failure		429		{object}	authsdk.APIError	"Rate limit exceeded"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	access, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteBearerError(w, "missing bearer token")
		return
	}

	var req authsdk.LogoutRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription(err.Error()).WriteError(w)
		return
	}

	token := refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		authsdk.ErrInvalidRequest.WithDescription("refresh_token is required").WriteError(w)
		return
	}

	if err := h.Sessions.Logout(r.Context(), access, token); err != nil {
		writeServiceError(w, r, err)
		return
	}

	clearRefreshCookie(w, h.SecureCookies)
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe serves GET /v1/auth/me. It must sit behind the authn middleware.
//
//	@Summary		Current user
//	@Description	Returns the authenticated user.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UserResponse	"User"
//	@Failure		401	{object}	authsdk.APIError		"Invalid, expired or revoked access token"
//	@Failure		404	{object}	authsdk.APIError		"User no longer exists"
//	@Failure		429	{object}	authsdk.APIError		"Rate limit exceeded"
//	@Router			/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.PrincipalFromContext(r.Context())
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	u, err := h.Users.Me(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userResponse(u))
}

// Authorize adapts the session manager to httpx.AuthorizeFunc.
func (h *AuthHandler) Authorize(ctx context.Context, token string) (httpx.Principal, error) {
	ident, err := h.Sessions.Authorize(ctx, token)
	if err != nil {
		return httpx.Principal{}, err
	}
	return httpx.Principal{UserID: ident.UserID, Email: ident.Email, TokenID: ident.TokenID}, nil
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, pair domain.TokenPair) {
	setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt, h.SecureCookies)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn(h.now()),
	})
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

// decodeOptionalJSON is DecodeJSON for endpoints where the body may be
// left out entirely.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(w, r, dst)
}
