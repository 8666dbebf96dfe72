package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

const clustersPath = "/api/v1/clusters"

// ClusterClient calls the cluster endpoints.
type ClusterClient struct {
	client *Client
}

// NewClusterClient creates a cluster client on top of client.
func NewClusterClient(client *Client) *ClusterClient {
	return &ClusterClient{client: client}
}

// CreateCluster creates a cluster for the client's tenant. When provisioning
// fails the returned error is an *APIError whose Cluster holds the ERROR record.
func (c *ClusterClient) CreateCluster(ctx context.Context, req *rest.CreateClusterRequest) (*types.Cluster, error) {
	var out types.Cluster
	if err := c.client.do(ctx, http.MethodPost, clustersPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListClusters lists the clusters of the client's tenant.
func (c *ClusterClient) ListClusters(ctx context.Context) ([]*types.Cluster, error) {
	var out []*types.Cluster
	if err := c.client.do(ctx, http.MethodGet, clustersPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCluster fetches one cluster.
func (c *ClusterClient) GetCluster(ctx context.Context, id string) (*types.Cluster, error) {
	var out types.Cluster
	if err := c.client.do(ctx, http.MethodGet, clusterPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TerminateCluster tears a cluster down.
func (c *ClusterClient) TerminateCluster(ctx context.Context, id string) error {
	return c.client.do(ctx, http.MethodDelete, clusterPath(id), nil, nil)
}

// RecordActivity marks the cluster as used.
func (c *ClusterClient) RecordActivity(ctx context.Context, id string) (*types.Cluster, error) {
	var out types.Cluster
	if err := c.client.do(ctx, http.MethodPost, clusterPath(id)+"/activity", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClusterHistory returns every saved revision of a cluster, newest first.
func (c *ClusterClient) ClusterHistory(ctx context.Context, id string) ([]store.ClusterRevision, error) {
	var out []store.ClusterRevision
	if err := c.client.do(ctx, http.MethodGet, clusterPath(id)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Health checks that the server behind this cluster client is up.
func (c *ClusterClient) Health(ctx context.Context) error {
	return c.client.Health(ctx)
}

func clusterPath(id string) string {
	return clustersPath + "/" + url.PathEscape(id)
}
