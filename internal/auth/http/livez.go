package http

import (
	"net/http"

	"github.com/aussiebroadwan/academy/pkg/authsdk"
	"github.com/aussiebroadwan/academy/pkg/httpx"
)

// LivezHandler always answers 200 while the process is serving.
//
//	@Summary		Liveness probe
//	@Description	Liveness probe. Always 200 while the process is serving.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status"
//	@Router			/livez [get].
func LivezHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{Status: "ok"})
	}
}
