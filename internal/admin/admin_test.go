package admin_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/usernamenenad/trusted-collective/impl/tca"
	"github.com/usernamenenad/trusted-collective/internal/admin"
)

func TestRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := tca.NewMetrics(reg)
	require.NoError(t, err)
	m.RecordsAccepted.Add(3)

	srv := httptest.NewServer(admin.NewRouter(admin.Status{Node: "ipn:1.0", Role: "authority"}, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var st admin.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	require.Equal(t, "authority", st.Role)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "tca_records_accepted_total 3"))

	resp, err = http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
