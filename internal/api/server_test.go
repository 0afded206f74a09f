package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/run"
	"NFTMarket-Harness/internal/scenario"
	"NFTMarket-Harness/internal/web3"
)

type fakeNetworks struct{}

func (fakeNetworks) Network(name string) (web3.NetworkConfig, error) {
	if name != "sandbox" {
		return web3.NetworkConfig{}, xerrors.New(xerrors.CodeNotFound, "unknown network "+name)
	}
	return web3.NetworkConfig{NetworkID: "sandbox"}, nil
}

func (fakeNetworks) Networks() []web3.NetworkConfig {
	return []web3.NetworkConfig{{NetworkID: "sandbox", NodeURL: "http://127.0.0.1:3030", ContractName: "nft.test.near"}}
}

func (fakeNetworks) DefaultNetwork() string { return "sandbox" }

func newTestServer(t *testing.T) (*httptest.Server, *run.MemoryStore) {
	t.Helper()
	store := run.NewMemoryStore()
	svc := run.NewService(store, run.NewMemoryQueue(16), fakeNetworks{}, 3)
	srv := httptest.NewServer(NewServer(":0", svc, fakeNetworks{}).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func TestCreateAndFetchRun(t *testing.T) {
	srv, _ := newTestServer(t)

	var created run.Run
	status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs", `{"scenario":"auction","params":{"nft_contract":"nft.test.near"}}`, &created)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "auction", created.Scenario)
	assert.Equal(t, "sandbox", created.Network)
	assert.Equal(t, run.StatusPending, created.Status)

	var fetched run.Run
	status = doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/"+created.ID, "", &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "nft.test.near", fetched.Params["nft_contract"])
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		code string
		msg  string
	}{
		{"unknown scenario", `{"scenario":"lottery"}`, string(run.CodeRunValidation), "validate scenario"},
		{"unknown network", `{"scenario":"series","network":"mainnet"}`, string(run.CodeRunValidation), "validate network"},
		{"malformed body", `{"scenario":`, string(xerrors.CodeInvalidArgument), "decode request body"},
		{"unknown field", `{"scenario":"series","color":"red"}`, string(xerrors.CodeInvalidArgument), "decode request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/runs", tc.body, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tc.code, body.Code)
			assert.Contains(t, body.Error, tc.msg)
		})
	}
}

func TestRunDetailNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	var body errorBody
	status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/missing", "", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(run.CodeRunNotFound), body.Code)
}

func TestListRunsAndStats(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	for _, r := range []*run.Run{
		{ID: "a", Scenario: "series", Network: "sandbox", Status: run.StatusPending, MaxRetries: 3},
		{ID: "b", Scenario: "trade", Network: "sandbox", Status: run.StatusPending, MaxRetries: 3},
	} {
		require.NoError(t, store.Create(ctx, r))
	}
	require.NoError(t, store.MarkPassed(ctx, "b", &scenario.Report{Scenario: "trade", Verdict: scenario.VerdictPassed}))

	var runs []run.Run
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?status=passed", "", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)
	require.NotNil(t, runs[0].Report)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?scenario=series&has_report=false&limit=5", "", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)

	var stats run.RunStats
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs/stats", "", &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Passed)

	var body errorBody
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?status=done", "", &body))
	assert.Equal(t, "[INVALID_ARGUMENT] invalid status: done", body.Error)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/v1/runs?limit=-1", "", &body))
	assert.Equal(t, "[INVALID_ARGUMENT] invalid limit: -1", body.Error)
}

func TestNetworksScenariosHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	var nets networksBody
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/networks", "", &nets))
	assert.Equal(t, "sandbox", nets.Default)
	require.Len(t, nets.Networks, 1)
	assert.Equal(t, "nft.test.near", nets.Networks[0].ContractName)

	var scenarios []scenarioInfo
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/v1/scenarios", "", &scenarios))
	assert.Len(t, scenarios, len(scenario.Names()))
	for _, info := range scenarios {
		assert.NotEmpty(t, info.Steps, info.Name)
	}

	var health map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/healthz", "", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "nftmarket_http_requests_total")
}

func TestUnsupportedMethodAndRoute(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, http.MethodDelete, srv.URL+"/api/v1/runs", "", nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/v2/runs", "", nil))
}

func TestClosedRootContextRejectsRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	withContext(ctx, http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
