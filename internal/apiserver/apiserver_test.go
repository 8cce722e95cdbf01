package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsfleet/controller/internal/dispatch"
	"github.com/ibsfleet/controller/internal/intent"
	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/policy"
	"github.com/ibsfleet/controller/internal/security"
	"github.com/ibsfleet/controller/internal/store"
)

type fakePipeline struct {
	pi       *intent.ParsedIntent
	policies []policy.Policy
	results  []dispatch.Result
	parseErr error
}

func (f *fakePipeline) Parse(directive string) (*intent.ParsedIntent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.pi, nil
}

func (f *fakePipeline) Generate(pi *intent.ParsedIntent) ([]policy.Policy, error) {
	return f.policies, nil
}

func (f *fakePipeline) Dispatch(ctx context.Context, policies []policy.Policy) []dispatch.Result {
	return f.results
}

func newTestServer(t *testing.T, p Pipeline) *Server {
	t.Helper()
	jwt, err := security.NewJWTHandler("test-secret", logging.NewLogger("test"))
	require.NoError(t, err)
	limiter := security.NewRateLimiter(100, time.Minute, logging.NewLogger("test"))
	return New(Config{Host: "127.0.0.1", Port: 0}, p, store.New(), jwt, limiter, logging.NewLogger("test"))
}

func TestHandleLogin_ReturnsToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{})

	body, _ := json.Marshal(loginRequest{UserID: "alice", Role: "operator"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleLogin(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestAuthed_RejectsMissingToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{})
	called := false
	h := s.authed(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthed_AllowsValidToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{})
	token, err := s.jwt.GenerateToken("alice", "operator", time.Hour)
	require.NoError(t, err)
	called := false
	h := s.authed(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.True(t, called)
}

func TestSubmit_StoresRecordAndReturnsResults(t *testing.T) {
	t.Parallel()

	pi := &intent.ParsedIntent{Type: intent.TypeQoS, TargetDevice: "node-1"}
	p := &fakePipeline{
		pi:       pi,
		policies: []policy.Policy{{ID: "p1", Type: policy.TypeQoSControl, TargetDevice: "node-1"}},
		results:  []dispatch.Result{{Policy: policy.Policy{ID: "p1", Type: policy.TypeQoSControl, TargetDevice: "node-1"}, Success: true}},
	}
	s := newTestServer(t, p)

	body, _ := json.Marshal(submitRequest{Directive: "set qos level 2 for node-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/directives", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.submit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)

	_, ok := s.store.Get(resp.ID)
	assert.True(t, ok, "expected directive to be recorded in the store")
}

func TestSubmit_RejectsEmptyDirective(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{})

	body, _ := json.Marshal(submitRequest{Directive: "  "})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/directives", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDirectiveByID_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/directives/nope", nil)
	rec := httptest.NewRecorder()
	s.handleDirectiveByID(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
