package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/api/server"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/provisioner"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

func setupClient(t *testing.T, token string) (*ClusterClient, *provisioner.MockProvisioner) {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.SaveTenant(ctx, &types.Tenant{ID: "acme", Name: "Acme", Status: types.TenantStatusActive}))

	prov := new(provisioner.MockProvisioner)
	manager := orchestrator.NewClusterManager(st, prov, orchestrator.WithLogger(log.NewTestLogger()))

	srv, err := server.New(
		server.WithClusters(manager),
		server.WithAPIKeys([]string{"s3cret"}),
		server.WithLogger(log.NewTestLogger()),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(&ClientOptions{
		Address:  ts.URL,
		Token:    token,
		TenantID: "acme",
		Logger:   log.NewTestLogger(),
	})
	require.NoError(t, err)
	return NewClusterClient(c), prov
}

func TestClusterRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, prov := setupClient(t, "s3cret")
	prov.On("Provision", mock.Anything, mock.Anything, "acme", mock.Anything).
		Return(&types.PlacementInfo{Namespace: "tenant-acme", DriverName: "driver-x", UIEndpoint: "http://10.0.0.2:4040"}, nil)

	count := 3
	created, err := c.CreateCluster(ctx, &rest.CreateClusterRequest{Name: "etl", Type: "JOB", ExecutorCount: &count})
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusRunning, created.Status)
	assert.Equal(t, 3, created.Resources.ExecutorCount)

	list, err := c.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	got, err := c.GetCluster(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	active, err := c.RecordActivity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusRunning, active.Status)

	prov.On("Deprovision", mock.Anything, created.ID, "acme").Return(nil)
	require.NoError(t, c.TerminateCluster(ctx, created.ID))

	history, err := c.ClusterHistory(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, types.ClusterStatusTerminated, history[0].Cluster.Status)
}

func TestErrorsMapToTaxonomy(t *testing.T) {
	ctx := context.Background()
	c, prov := setupClient(t, "s3cret")

	_, err := c.GetCluster(ctx, "missing")
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))

	zero := 0
	_, err = c.CreateCluster(ctx, &rest.CreateClusterRequest{Name: "etl", Type: "JOB", ExecutorCount: &zero})
	assert.True(t, types.IsInvalidArgument(err))

	prov.On("Provision", mock.Anything, mock.Anything, "acme", mock.Anything).Return(nil, errors.New("quota"))
	_, err = c.CreateCluster(ctx, &rest.CreateClusterRequest{Name: "etl", Type: "JOB"})
	require.Error(t, err)
	assert.True(t, types.IsProvisionError(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.NotNil(t, apiErr.Cluster)
	assert.Equal(t, types.ClusterStatusError, apiErr.Cluster.Status)
}

func TestUnauthorized(t *testing.T) {
	c, _ := setupClient(t, "wrong")

	_, err := c.ListClusters(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)
}

func TestNewClientNormalizesAddress(t *testing.T) {
	c, err := NewClient(&ClientOptions{Address: "kadali.internal:7070/"})
	require.NoError(t, err)
	assert.Equal(t, "http://kadali.internal:7070", c.options.Address)
}
