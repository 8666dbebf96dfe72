// Package provisioner turns a cluster's declared resource shape into container
// platform resources and removes them again.
package provisioner

import (
	"context"
	"time"

	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/types"
)

// Operation names, used in errors and metrics.
const (
	OpProvision   = "provision"
	OpDeprovision = "deprovision"
	OpLocateUI    = "locate-ui"
)

// Provisioner is the contract the lifecycle manager relies on. Implementations are
// stateless: everything they know about a cluster is read live from the platform.
// They never retry; every platform failure is returned as a *types.ProvisionError.
type Provisioner interface {
	// Provision ensures the tenant namespace exists and launches the driver sized
	// per shape. The UI endpoint in the result may be empty if the driver has no
	// address yet.
	Provision(ctx context.Context, clusterID, tenantID string, shape types.ResourceShape) (*types.PlacementInfo, error)

	// Deprovision deletes every resource labeled with the cluster id in the tenant
	// namespace. Deleting resources that are already gone is success.
	Deprovision(ctx context.Context, clusterID, tenantID string) error

	// LocateUIEndpoint returns the driver UI endpoint, or "" if the driver is not
	// network-addressable yet.
	LocateUIEndpoint(ctx context.Context, clusterID, tenantID string) (string, error)
}

// instrumented records the latency and outcome of every call.
type instrumented struct {
	next    Provisioner
	metrics *metrics.Metrics
}

// Instrument wraps p so every call is timed into m.
func Instrument(p Provisioner, m *metrics.Metrics) Provisioner {
	if m == nil {
		return p
	}
	return &instrumented{next: p, metrics: m}
}

func (i *instrumented) Provision(ctx context.Context, clusterID, tenantID string, shape types.ResourceShape) (*types.PlacementInfo, error) {
	start := time.Now()
	placement, err := i.next.Provision(ctx, clusterID, tenantID, shape)
	i.metrics.ObserveProvisioner(OpProvision, err, time.Since(start))
	return placement, err
}

func (i *instrumented) Deprovision(ctx context.Context, clusterID, tenantID string) error {
	start := time.Now()
	err := i.next.Deprovision(ctx, clusterID, tenantID)
	i.metrics.ObserveProvisioner(OpDeprovision, err, time.Since(start))
	return err
}

func (i *instrumented) LocateUIEndpoint(ctx context.Context, clusterID, tenantID string) (string, error) {
	start := time.Now()
	endpoint, err := i.next.LocateUIEndpoint(ctx, clusterID, tenantID)
	i.metrics.ObserveProvisioner(OpLocateUI, err, time.Since(start))
	return endpoint, err
}
