package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/store"
)

// fakeLauncher records Launch/Stop calls instead of driving a real
// coordinator goroutine.
type fakeLauncher struct {
	launched []string
	stopped  []string
	failNext bool
}

func (f *fakeLauncher) Launch(strategyID string) error {
	if f.failNext {
		return errLaunchFailed
	}
	f.launched = append(f.launched, strategyID)
	return nil
}

func (f *fakeLauncher) Stop(strategyID string) error {
	f.stopped = append(f.stopped, strategyID)
	return nil
}

var errLaunchFailed = &launchError{"launch failed"}

type launchError struct{ msg string }

func (e *launchError) Error() string { return e.msg }

func newTestServer(t *testing.T) (*Server, *fakeLauncher) {
	t.Helper()
	st, err := store.Open(t.TempDir()+"/test.db", "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	launcher := &fakeLauncher{}
	srv := NewServer(st, launcher, "")
	return srv, launcher
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func createTestStrategy(t *testing.T, srv *Server) string {
	t.Helper()
	body := map[string]any{
		"name": "test-strategy",
		"exchange": map[string]any{
			"exchange_id":  "paper",
			"market_type":  "future",
			"trading_mode": "virtual",
		},
		"trading": map[string]any{
			"symbols":                []string{"BTC-USDT"},
			"initial_capital":        10000,
			"cycle_interval_seconds": 60,
		},
	}
	rec := doRequest(srv, http.MethodPost, "/api/v1/strategies", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["id"].(string)
}

func TestHandleCreateStrategy_PersistsAndReturnsRecord(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestStrategy(t, srv)
	require.NotEmpty(t, id)

	rec := doRequest(srv, http.MethodGet, "/api/v1/strategies/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "test-strategy", resp["name"])
	require.Equal(t, "stopped", resp["status"])
}

func TestHandleCreateStrategy_RejectsMissingRequiredFields(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/v1/strategies", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListStrategies_ReturnsAllCreated(t *testing.T) {
	srv, _ := newTestServer(t)
	createTestStrategy(t, srv)
	createTestStrategy(t, srv)

	rec := doRequest(srv, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Strategies []map[string]any `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Strategies, 2)
}

func TestHandleStartStopStrategy_DelegatesToLauncher(t *testing.T) {
	srv, launcher := newTestServer(t)
	id := createTestStrategy(t, srv)

	rec := doRequest(srv, http.MethodPost, "/api/v1/strategies/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, launcher.launched, id)

	rec = doRequest(srv, http.MethodPost, "/api/v1/strategies/"+id+"/stop", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, launcher.stopped, id)
}

func TestHandleStartStrategy_UnknownIDReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/v1/strategies/does-not-exist/start", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteStrategy_RefusesWhileRunning(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestStrategy(t, srv)

	doRequest(srv, http.MethodPost, "/api/v1/strategies/"+id+"/start", nil)

	rec := doRequest(srv, http.MethodDelete, "/api/v1/strategies/"+id, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetPositions_EmptyBeforeFirstSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestStrategy(t, srv)

	rec := doRequest(srv, http.MethodGet, "/api/v1/strategies/"+id+"/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Positions map[string]any `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Positions)
}

func TestHandleGetValueCurve_EmptyBeforeAnySnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createTestStrategy(t, srv)

	rec := doRequest(srv, http.MethodGet, "/api/v1/strategies/"+id+"/holding_price_curve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Points []any `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Points)
}

func TestJWTMiddleware_RejectsMissingToken(t *testing.T) {
	st, err := store.Open(t.TempDir()+"/test.db", "")
	require.NoError(t, err)
	defer st.Close()

	srv := NewServer(st, &fakeLauncher{}, "a-shared-secret")
	rec := doRequest(srv, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware_AcceptsValidToken(t *testing.T) {
	st, err := store.Open(t.TempDir()+"/test.db", "")
	require.NoError(t, err)
	defer st.Close()

	secret := "a-shared-secret"
	srv := NewServer(st, &fakeLauncher{}, secret)

	token, err := IssueToken(secret, map[string]any{"sub": "operator"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
