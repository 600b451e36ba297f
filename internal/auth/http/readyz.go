package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/academy/pkg/authsdk"
	"github.com/aussiebroadwan/academy/pkg/httpx"
)

const readyzTimeout = 2 * time.Second

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 until both the session store and the credential
// database answer a ping.
//
//	@Summary		Readiness probe
//	@Description	Readiness probe. Pings the session store and the credential database.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"all dependencies answered"
//	@Failure		503	{object}	authsdk.HealthResponse	"a dependency is unavailable"
//	@Router			/readyz [get].
func ReadyzHandler(sessionStore, credentials Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()

		checks := map[string]string{
			"session_store":    check(ctx, sessionStore),
			"credential_store": check(ctx, credentials),
		}

		status, code := "ok", http.StatusOK
		for _, c := range checks {
			if c != "ok" {
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}

		httpx.WriteJSON(w, code, authsdk.HealthResponse{Status: status, Checks: checks})
	}
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "error: not configured"
	}
	if err := p.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
