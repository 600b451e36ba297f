package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/academy/internal/auth/service"
	"github.com/aussiebroadwan/academy/pkg/authsdk"
	"github.com/aussiebroadwan/academy/pkg/slogx"
)

// writeServiceError renders a service error. Token failures all become a
// 401 invalid_token; only unexpected errors are logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrExpired):
		authsdk.ErrInvalidToken.WithDescription("the token has expired").WriteError(w)
	case errors.Is(err, service.ErrRevoked):
		authsdk.ErrInvalidToken.WithDescription("the token has been revoked").WriteError(w)
	case errors.Is(err, service.ErrSessionNotFound):
		authsdk.ErrInvalidToken.WithDescription("the session has ended").WriteError(w)
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrMalformedToken):
		authsdk.ErrInvalidToken.WriteError(w)
	case errors.Is(err, service.ErrInvalidRequest):
		writeInvalidRequest(w, err)
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrEmailTaken):
		authsdk.ErrEmailTaken.WriteError(w)
	case errors.Is(err, service.ErrUserNotFound):
		authsdk.ErrNotFound.WriteError(w)
	default:
		// Session manager failures are already logged with their cause.
		if !errors.Is(err, service.ErrInternal) {
			slogx.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		}
		authsdk.ErrServerError.WriteError(w)
	}
}

// writeInvalidRequest passes validation messages such as "password must be
// 8 to 256 characters" through to the client.
func writeInvalidRequest(w http.ResponseWriter, err error) {
	if desc, ok := strings.CutPrefix(err.Error(), service.ErrInvalidRequest.Error()+": "); ok {
		authsdk.ErrInvalidRequest.WithDescription(desc).WriteError(w)
		return
	}
	authsdk.ErrInvalidRequest.WriteError(w)
}
