package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/provisioner"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

type apiEnv struct {
	store   *store.MemoryStore
	prov    *provisioner.MockProvisioner
	logger  *log.TestLogger
	handler http.Handler
}

func setupAPI(t *testing.T, apiKeys ...string) *apiEnv {
	t.Helper()
	env := &apiEnv{
		store:  store.NewMemoryStore(),
		prov:   new(provisioner.MockProvisioner),
		logger: log.NewTestLogger(),
	}
	for _, id := range []string{"acme", "globex"} {
		require.NoError(t, env.store.SaveTenant(context.Background(), &types.Tenant{ID: id, Name: id, Status: types.TenantStatusActive}))
	}

	manager := orchestrator.NewClusterManager(env.store, env.prov,
		orchestrator.WithClock(orchestrator.NewManualClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))),
		orchestrator.WithLogger(env.logger),
	)

	mux := http.NewServeMux()
	NewHandler(manager, env.logger).Register(mux)
	env.handler = Chain(
		RequestID(),
		Recovery(env.logger),
		Logger(env.logger),
		Timeout(time.Minute),
		APIKey(apiKeys, env.logger),
	)(mux)
	return env
}

func (e *apiEnv) expectProvision(err error) {
	call := e.prov.On("Provision", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	if err != nil {
		call.Return(nil, err)
		return
	}
	call.Return(func(_ context.Context, id, tenantID string, _ types.ResourceShape) (*types.PlacementInfo, error) {
		return &types.PlacementInfo{
			Namespace:  types.NamespaceForTenant(tenantID),
			DriverName: types.DriverNameForCluster(id),
			UIEndpoint: "http://10.0.0.9:4040",
		}, nil
	})
}

func (e *apiEnv) do(t *testing.T, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *apiEnv) create(t *testing.T, tenant string) *types.Cluster {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/clusters", tenant, map[string]interface{}{"name": "analytics", "type": "interactive"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*types.Cluster](t, rec)
}

func TestCreateClusterAppliesDefaults(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)

	c := env.create(t, "acme")
	assert.Equal(t, types.ClusterStatusRunning, c.Status)
	assert.Equal(t, types.ClusterTypeInteractive, c.Type)
	assert.Equal(t, types.ResourceShape{
		DriverMemory:   DefaultDriverMemory,
		DriverCores:    DefaultDriverCores,
		ExecutorMemory: DefaultExecutorMemory,
		ExecutorCores:  DefaultExecutorCores,
		ExecutorCount:  DefaultExecutorCount,
	}, c.Resources)
	assert.Equal(t, "tenant-acme", c.Namespace)
	assert.Equal(t, "driver-"+c.ID, c.DriverName)
}

func TestCreateClusterExplicitShape(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)

	rec := env.do(t, http.MethodPost, "/api/v1/clusters", "acme", map[string]interface{}{
		"name":           "training",
		"type":           "ML",
		"driverMemory":   "4g",
		"driverCores":    2,
		"executorMemory": "8g",
		"executorCores":  4,
		"executorCount":  6,
		"idleMinutes":    15,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[*types.Cluster](t, rec)
	assert.Equal(t, 6, c.Resources.ExecutorCount)
	assert.Equal(t, "8g", c.Resources.ExecutorMemory)
	assert.Equal(t, 15, c.IdleMinutes)
}

func TestCreateClusterValidation(t *testing.T) {
	env := setupAPI(t)

	tests := []struct {
		name   string
		tenant string
		body   interface{}
		status int
		code   string
	}{
		{"zero executors", "acme", map[string]interface{}{"name": "a", "type": "JOB", "executorCount": 0}, http.StatusBadRequest, CodeInvalidArgument},
		{"unknown type", "acme", map[string]interface{}{"name": "a", "type": "BATCH"}, http.StatusBadRequest, CodeInvalidArgument},
		{"unknown field", "acme", map[string]interface{}{"name": "a", "type": "JOB", "gpus": 1}, http.StatusBadRequest, CodeInvalidArgument},
		{"missing tenant", "", map[string]interface{}{"name": "a", "type": "JOB"}, http.StatusBadRequest, CodeInvalidArgument},
		{"unknown tenant", "initech", map[string]interface{}{"name": "a", "type": "JOB"}, http.StatusNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/clusters", tt.tenant, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	clusters, err := env.store.ListClustersByTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestCreateClusterProvisionFailure(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(errors.New("exceeded quota"))

	rec := env.do(t, http.MethodPost, "/api/v1/clusters", "acme", map[string]interface{}{"name": "a", "type": "JOB"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, CodeProvisionFailed, resp.Code)
	require.NotNil(t, resp.Cluster)
	assert.Equal(t, types.ClusterStatusError, resp.Cluster.Status)
	assert.True(t, env.logger.AssertLogged(log.ErrorLevel, "Request failed"))
}

func TestListClustersIsTenantScoped(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	mine := env.create(t, "acme")
	env.create(t, "globex")

	rec := env.do(t, http.MethodGet, "/api/v1/clusters", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clusters := decode[[]*types.Cluster](t, rec)
	require.Len(t, clusters, 1)
	assert.Equal(t, mine.ID, clusters[0].ID)
}

func TestListClustersEmpty(t *testing.T) {
	env := setupAPI(t)
	rec := env.do(t, http.MethodGet, "/api/v1/clusters", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetCluster(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")

	rec := env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, c.ID, decode[*types.Cluster](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other tenants cannot see the cluster")

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/missing", "acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetClusterResolvesUIEndpointForOwnerOnly(t *testing.T) {
	env := setupAPI(t)
	env.prov.On("Provision", mock.Anything, mock.Anything, "acme", mock.Anything).
		Return(func(_ context.Context, id, tenantID string, _ types.ResourceShape) (*types.PlacementInfo, error) {
			return &types.PlacementInfo{Namespace: types.NamespaceForTenant(tenantID), DriverName: types.DriverNameForCluster(id)}, nil
		})
	c := env.create(t, "acme")
	require.Empty(t, c.UIEndpoint)
	env.prov.On("LocateUIEndpoint", mock.Anything, c.ID, "acme").Return("http://10.0.0.7:4040", nil).Once()

	rec := env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/activity", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env.prov.AssertNotCalled(t, "LocateUIEndpoint", mock.Anything, mock.Anything, mock.Anything)

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://10.0.0.7:4040", decode[*types.Cluster](t, rec).UIEndpoint)
	env.prov.AssertNumberOfCalls(t, "LocateUIEndpoint", 1)
}

func TestClusterRoutesRequireTenant(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/clusters/" + c.ID},
		{http.MethodDelete, "/api/v1/clusters/" + c.ID},
		{http.MethodPost, "/api/v1/clusters/" + c.ID + "/activity"},
		{http.MethodGet, "/api/v1/clusters/" + c.ID + "/history"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeInvalidArgument, decode[ErrorResponse](t, rec).Code)
		})
	}
	env.prov.AssertNotCalled(t, "Deprovision", mock.Anything, mock.Anything, mock.Anything)
}

func TestTerminateClusterOfOtherTenant(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")

	rec := env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env.prov.AssertNotCalled(t, "Deprovision", mock.Anything, mock.Anything, mock.Anything)

	stored, err := env.store.FindCluster(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusRunning, stored.Status)
}

func TestTerminateCluster(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")
	env.prov.On("Deprovision", mock.Anything, c.ID, "acme").Return(nil).Once()

	rec := env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, "acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, "acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "second terminate is a no-op")

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, "acme", nil)
	assert.Equal(t, types.ClusterStatusTerminated, decode[*types.Cluster](t, rec).Status)
	env.prov.AssertNumberOfCalls(t, "Deprovision", 1)
}

func TestTerminateClusterDeprovisionFailure(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")
	env.prov.On("Deprovision", mock.Anything, c.ID, "acme").Return(errors.New("api down"))

	rec := env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, "acme", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, "acme", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "ERROR clusters cannot be terminated")
	assert.Equal(t, CodeInvalidTransition, decode[ErrorResponse](t, rec).Code)
}

func TestRecordActivity(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")

	rec := env.do(t, http.MethodPost, "/api/v1/clusters/"+c.ID+"/activity", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ClusterStatusRunning, decode[*types.Cluster](t, rec).Status)
}

func TestClusterHistory(t *testing.T) {
	env := setupAPI(t)
	env.expectProvision(nil)
	c := env.create(t, "acme")

	rec := env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID+"/history", "acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	revisions := decode[[]store.ClusterRevision](t, rec)
	require.Len(t, revisions, 2)
	assert.Equal(t, types.ClusterStatusRunning, revisions[0].Cluster.Status)
}

func TestHealth(t *testing.T) {
	env := setupAPI(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	env := setupAPI(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.True(t, env.logger.AssertLoggedWithField(log.InfoLevel, "HTTP Request", log.RequestIDKey, "req-42"))
}

func TestAPIKey(t *testing.T) {
	env := setupAPI(t, "s3cret")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic s3cret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	logger := log.NewTestLogger()
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, logger.AssertLogged(log.ErrorLevel, "Panic recovered"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{types.NewNotFoundError("cluster", "x"), http.StatusNotFound},
		{types.NewValidationError("bad"), http.StatusBadRequest},
		{&types.TransitionError{ClusterID: "x", From: types.ClusterStatusError, To: types.ClusterStatusTerminating}, http.StatusConflict},
		{types.NewProvisionError("provision", "x", errors.New("quota")), http.StatusBadGateway},
		{types.NewStorageError("save", errors.New("disk")), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
