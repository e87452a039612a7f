package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers/testutil"
)

func TestMonitoringSummaryRequiresAdmin(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/monitoring/summary", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/monitoring/summary", nil, env.Token("T1", iauth.RoleTeacher))
	require.Equal(t, http.StatusForbidden, resp.Code, resp.Body.String())

	resp = env.Request(http.MethodGet, "/api/monitoring/summary", nil, env.Token("ops", iauth.RoleAdmin))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var payload struct {
		Prometheus struct {
			Enabled  bool   `json:"enabled"`
			Endpoint string `json:"endpoint"`
		} `json:"prometheus"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &payload)
	require.True(t, payload.Prometheus.Enabled)
	require.Equal(t, "/metrics", payload.Prometheus.Endpoint)
}
