package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/health"
)

func TestOpsRouter(t *testing.T) {
	deps := newTestDependencies(t, testConfig())
	router := newOpsRouter(deps.Health)

	cases := []struct {
		path string
		want int
	}{
		{path: "/livez", want: http.StatusOK},
		{path: "/readyz", want: http.StatusOK},
		{path: "/healthz", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/orders", want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestOpsRouterHealthReportsOutbox(t *testing.T) {
	deps := newTestDependencies(t, testConfig())
	router := newOpsRouter(deps.Health)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, health.StatusHealthy, body.Status)
	require.Contains(t, body.Checks, "outbox")
}

func TestOpsRouterRejectsPost(t *testing.T) {
	deps := newTestDependencies(t, testConfig())
	router := newOpsRouter(deps.Health)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/livez", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LockDriver = "etcd"

	require.Error(t, Run(context.Background(), cfg))
}
