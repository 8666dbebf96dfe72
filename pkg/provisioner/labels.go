package provisioner

import (
	"k8s.io/apimachinery/pkg/labels"
)

// Label keys set on every platform resource of a cluster. A selector on
// KeyClusterID reclaims everything the cluster owns, executors included.
const (
	KeyClusterID = "cluster-id"
	KeyTenantID  = "tenant-id"
	KeyApp       = "app"
	KeyComponent = "component"
	KeyManagedBy = "app.kubernetes.io/managed-by"
)

// Label values
const (
	AppSpark          = "spark"
	ComponentDriver   = "driver"
	ComponentExecutor = "executor"
	ManagedByKadali   = "kadali"
)

// LabelBuilder provides a fluent interface for building resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a builder with the cluster and tenant labels pre-set.
func NewLabelBuilder(clusterID, tenantID string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyClusterID: clusterID,
			KeyTenantID:  tenantID,
			KeyApp:       AppSpark,
			KeyManagedBy: ManagedByKadali,
		},
	}
}

// WithComponent adds a component label ("driver", "executor").
func (lb *LabelBuilder) WithComponent(component string) *LabelBuilder {
	lb.labels[KeyComponent] = component
	return lb
}

// Build returns a copy of the labels.
func (lb *LabelBuilder) Build() map[string]string {
	out := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		out[k] = v
	}
	return out
}

// ClusterSelector selects every resource of one cluster.
func ClusterSelector(clusterID string) string {
	return labels.SelectorFromSet(labels.Set{KeyClusterID: clusterID}).String()
}

// DriverSelector selects the driver pod of one cluster.
func DriverSelector(clusterID string) string {
	return labels.SelectorFromSet(labels.Set{
		KeyClusterID: clusterID,
		KeyComponent: ComponentDriver,
	}).String()
}

// NamespaceLabels are set on a tenant namespace when Kadali creates it.
func NamespaceLabels(tenantID string) map[string]string {
	return map[string]string{
		KeyTenantID:  tenantID,
		KeyManagedBy: ManagedByKadali,
	}
}
