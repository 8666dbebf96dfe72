// Package rest serves the cluster API over HTTP/JSON.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/orchestrator"
	"github.com/rzbill/kadali/pkg/store"
	"github.com/rzbill/kadali/pkg/types"
)

// TenantHeader names the tenant a request acts for.
const TenantHeader = "X-Tenant-ID"

// Request defaults applied when a create request omits a field.
const (
	DefaultDriverMemory   = "2g"
	DefaultDriverCores    = 1
	DefaultExecutorMemory = "2g"
	DefaultExecutorCores  = 1
	DefaultExecutorCount  = 2
)

// maxBodyBytes bounds create request bodies.
const maxBodyBytes = 1 << 20

// ClusterService is the lifecycle API the handlers expose.
type ClusterService interface {
	Create(ctx context.Context, req orchestrator.CreateRequest) (*types.Cluster, error)
	Terminate(ctx context.Context, id string) (*types.Cluster, error)
	RecordActivity(ctx context.Context, id string) (*types.Cluster, error)
	Get(ctx context.Context, id string) (*types.Cluster, error)
	RefreshUIEndpoint(ctx context.Context, cluster *types.Cluster) (*types.Cluster, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*types.Cluster, error)
	History(ctx context.Context, id string) ([]store.ClusterRevision, error)
}

// CreateClusterRequest is the body of POST /api/v1/clusters. Omitted resource
// fields take the package defaults. Zero counts are rejected rather than
// defaulted, so "executorCount": 0 is an error.
type CreateClusterRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	DriverMemory   string `json:"driverMemory,omitempty"`
	DriverCores    *int   `json:"driverCores,omitempty"`
	ExecutorMemory string `json:"executorMemory,omitempty"`
	ExecutorCores  *int   `json:"executorCores,omitempty"`
	ExecutorCount  *int   `json:"executorCount,omitempty"`
	IdleMinutes    *int   `json:"idleMinutes,omitempty"`
}

// Shape returns the resource shape with defaults filled in.
func (r *CreateClusterRequest) Shape() types.ResourceShape {
	shape := types.ResourceShape{
		DriverMemory:   r.DriverMemory,
		DriverCores:    DefaultDriverCores,
		ExecutorMemory: r.ExecutorMemory,
		ExecutorCores:  DefaultExecutorCores,
		ExecutorCount:  DefaultExecutorCount,
	}
	if shape.DriverMemory == "" {
		shape.DriverMemory = DefaultDriverMemory
	}
	if shape.ExecutorMemory == "" {
		shape.ExecutorMemory = DefaultExecutorMemory
	}
	if r.DriverCores != nil {
		shape.DriverCores = *r.DriverCores
	}
	if r.ExecutorCores != nil {
		shape.ExecutorCores = *r.ExecutorCores
	}
	if r.ExecutorCount != nil {
		shape.ExecutorCount = *r.ExecutorCount
	}
	return shape
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`

	// Cluster is set when the operation failed after the cluster was recorded,
	// e.g. a create whose provisioning failed.
	Cluster *types.Cluster `json:"cluster,omitempty"`
}

// Error codes in ErrorResponse.Code.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeProvisionFailed   = "PROVISION_FAILED"
	CodeStorage           = "STORAGE_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL"
)

// Handler routes the cluster API onto a ClusterService.
type Handler struct {
	clusters ClusterService
	logger   log.Logger
}

// NewHandler creates the API handler.
func NewHandler(clusters ClusterService, logger log.Logger) *Handler {
	return &Handler{
		clusters: clusters,
		logger:   logger.WithComponent("api"),
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/clusters", h.createCluster)
	mux.HandleFunc("GET /api/v1/clusters", h.listClusters)
	mux.HandleFunc("GET /api/v1/clusters/{id}", h.getCluster)
	mux.HandleFunc("DELETE /api/v1/clusters/{id}", h.terminateCluster)
	mux.HandleFunc("POST /api/v1/clusters/{id}/activity", h.recordActivity)
	mux.HandleFunc("GET /api/v1/clusters/{id}/history", h.clusterHistory)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) createCluster(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body CreateClusterRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, fmt.Sprintf("invalid request body: %v", err), nil)
		return
	}

	cluster, err := h.clusters.Create(r.Context(), orchestrator.CreateRequest{
		TenantID:    tenantID,
		Name:        body.Name,
		Type:        types.ClusterType(strings.ToUpper(strings.TrimSpace(body.Type))),
		Resources:   body.Shape(),
		IdleMinutes: body.IdleMinutes,
	})
	if err != nil {
		h.fail(w, r, err, cluster)
		return
	}
	writeJSON(w, http.StatusCreated, cluster)
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	clusters, err := h.clusters.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if clusters == nil {
		clusters = []*types.Cluster{}
	}
	writeJSON(w, http.StatusOK, clusters)
}

func (h *Handler) getCluster(w http.ResponseWriter, r *http.Request) {
	cluster, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	cluster, err := h.clusters.RefreshUIEndpoint(r.Context(), cluster)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cluster)
}

func (h *Handler) terminateCluster(w http.ResponseWriter, r *http.Request) {
	cluster, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if out, err := h.clusters.Terminate(r.Context(), cluster.ID); err != nil {
		h.fail(w, r, err, out)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	cluster, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	out, err := h.clusters.RecordActivity(r.Context(), cluster.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) clusterHistory(w http.ResponseWriter, r *http.Request) {
	cluster, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	revisions, err := h.clusters.History(r.Context(), cluster.ID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, revisions)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadOwned loads the cluster named in the path on behalf of the calling tenant.
// Clusters of other tenants are reported as missing.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*types.Cluster, bool) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return nil, false
	}

	id := r.PathValue("id")
	cluster, err := h.clusters.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, nil)
		return nil, false
	}
	if tenantID != cluster.TenantID {
		h.fail(w, r, types.NewNotFoundError("cluster", id), nil)
		return nil, false
	}
	return cluster, true
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, TenantHeader+" header is required", nil)
		return "", false
	}
	return tenantID, true
}

// fail maps err onto the error taxonomy and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, cluster *types.Cluster) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed",
			log.Str("method", r.Method),
			log.Str("path", r.URL.Path),
			log.Err(err),
		)
	}
	writeError(w, status, code, err.Error(), cluster)
}

func classify(err error) (int, string) {
	switch {
	case types.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case types.IsInvalidArgument(err):
		return http.StatusBadRequest, CodeInvalidArgument
	case types.IsInvalidTransition(err):
		return http.StatusConflict, CodeInvalidTransition
	case types.IsProvisionError(err):
		return http.StatusBadGateway, CodeProvisionFailed
	case types.IsStorageError(err):
		return http.StatusInternalServerError, CodeStorage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeInternal
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, cluster *types.Cluster) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message, Cluster: cluster})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
