package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/types"
)

// stubService scripts mesh behavior for handler tests.
type stubService struct {
	memories map[string]types.Memory
	saveID   string
	status   types.BackendStatus
	active   string
}

func (s *stubService) SaveMemoryTo(_ context.Context, rec types.Memory) (string, string) {
	if s.saveID == "" {
		return "", ""
	}
	return s.saveID, "local"
}

func (s *stubService) LoadMemoriesFrom(_ context.Context, f types.MemoryFilter) ([]types.Memory, string) {
	var out []types.Memory
	for _, m := range s.memories {
		out = append(out, m)
	}
	out = f.Apply(out)
	if out == nil {
		out = []types.Memory{}
	}
	return out, s.active
}

func (s *stubService) GetMemoryFrom(_ context.Context, id string) (*types.Memory, string) {
	m, ok := s.memories[id]
	if !ok {
		return nil, ""
	}
	return &m, s.active
}

func (s *stubService) BackendStatus(context.Context) types.BackendStatus { return s.status }
func (s *stubService) ActiveBackend() string                            { return s.active }
func (s *stubService) Diagnostics() []backend.Attempt                   { return nil }

func newTestServer(t *testing.T, svc *stubService) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewMemoryHandler(svc, zap.NewNop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decodeEnvelope(t *testing.T, resp *http.Response) Response {
	t.Helper()
	defer resp.Body.Close()
	var env Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestSaveHandler(t *testing.T) {
	t.Parallel()

	svc := &stubService{saveID: "assigned-1"}
	srv := newTestServer(t, svc)

	body := `{"content":"remember this","type":"semantic","importance":0.5}`
	resp, err := http.Post(srv.URL+"/v1/memories", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Equal(t, "assigned-1", data["id"])
	require.Equal(t, "local", data["backend"])
}

func TestSaveHandlerRejectsBadRecord(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubService{saveID: "x"})

	resp, err := http.Post(srv.URL+"/v1/memories", "application/json",
		strings.NewReader(`{"content":"","type":"semantic"}`))
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, env.Success)
	require.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestSaveHandlerReportsExhaustion(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubService{}) // saveID empty: every tier down

	resp, err := http.Post(srv.URL+"/v1/memories", "application/json",
		strings.NewReader(`{"content":"x","type":"working","importance":0.1}`))
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "ALL_BACKENDS_UNAVAILABLE", env.Error.Code)
}

func TestLoadHandlerFilters(t *testing.T) {
	t.Parallel()

	svc := &stubService{
		active: "local",
		memories: map[string]types.Memory{
			"a": {ID: "a", Content: "high", Type: types.MemorySemantic, Importance: 0.9},
			"b": {ID: "b", Content: "low", Type: types.MemoryEpisodic, Importance: 0.1},
		},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/v1/memories?min_importance=0.5&type=semantic,episodic")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)

	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Len(t, data["memories"], 1)
}

func TestLoadHandlerRejectsBadQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubService{})

	resp, err := http.Get(srv.URL + "/v1/memories?type=quantum")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/memories?limit=-3")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetHandler(t *testing.T) {
	t.Parallel()

	svc := &stubService{
		active: "archival",
		memories: map[string]types.Memory{
			"m-1": {ID: "m-1", Content: "found", Type: types.MemoryWorking},
		},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/v1/memories/m-1")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)

	resp, err = http.Get(srv.URL + "/v1/memories/ghost")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestStatusAndActiveHandlers(t *testing.T) {
	t.Parallel()

	svc := &stubService{
		active: "realtime",
		status: types.BackendStatus{Local: true, Realtime: true},
	}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/v1/backends/status")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	data := env.Data.(map[string]any)
	require.Equal(t, true, data["local"])
	require.Equal(t, false, data["service"])

	resp, err = http.Get(srv.URL + "/v1/backends/active")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	data = env.Data.(map[string]any)
	require.Equal(t, "realtime", data["active"])
}
