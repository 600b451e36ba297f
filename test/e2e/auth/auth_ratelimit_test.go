//go:build integration

package auth_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/academy/pkg/authsdk"
	"github.com/aussiebroadwan/academy/pkg/httpx"
)

// TestRateLimitLoginEndpoint verifies that login is rate limited with the
// production defaults (5 req/min per IP and email).
func TestRateLimitLoginEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.StrictRequests = httpx.StrictLimit.RequestsPerWindow
	cfg.StrictWindowSec = int(httpx.StrictLimit.Window.Seconds())
	cfg.StrictBurst = httpx.StrictLimit.Burst

	baseURL := setupAuthService(t, cfg)
	client := authsdk.NewClient(baseURL)
	ctx := t.Context()

	for i := range httpx.StrictLimit.Burst {
		_, err := client.Login(ctx, "victim@example.com", "wrong-password")
		require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeInvalidGrant),
			"request %d should fail authentication, not the limiter: %v", i+1, err)
	}

	_, err := client.Login(ctx, "victim@example.com", "wrong-password")
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeRateLimitExceeded), "got: %v", err)

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `academy_auth_rate_limited_requests_total{limiter="strict"} 1`)
}
