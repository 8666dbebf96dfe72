package types

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
)

// TenantTier is the commercial plan of a tenant.
type TenantTier string

const (
	TenantTierFree       TenantTier = "FREE"
	TenantTierStartup    TenantTier = "STARTUP"
	TenantTierGrowth     TenantTier = "GROWTH"
	TenantTierEnterprise TenantTier = "ENTERPRISE"
)

// TenantStatus is whether a tenant may use the platform.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
)

// Tenant owns clusters. Tenants are managed outside the orchestrator; it only reads them.
type Tenant struct {
	ID        string       `json:"id" yaml:"id"`
	Name      string       `json:"name" yaml:"name"`
	Tier      TenantTier   `json:"tier" yaml:"tier"`
	Status    TenantStatus `json:"status" yaml:"status"`
	CreatedAt time.Time    `json:"createdAt" yaml:"createdAt"`
}

// IsActive reports whether the tenant may create clusters.
func (t *Tenant) IsActive() bool {
	return t.Status == "" || t.Status == TenantStatusActive
}

// Validate checks the tenant id can be turned into a namespace and the tier is known.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return NewValidationError("tenant id is required")
	}
	if errs := validation.IsDNS1123Label(NamespaceForTenant(t.ID)); len(errs) > 0 {
		return NewValidationError(fmt.Sprintf("tenant id %q cannot form a namespace: %s", t.ID, strings.Join(errs, ", ")))
	}
	switch t.Tier {
	case "", TenantTierFree, TenantTierStartup, TenantTierGrowth, TenantTierEnterprise:
	default:
		return NewValidationError(fmt.Sprintf("unknown tenant tier %q", t.Tier))
	}
	return nil
}

// NamespaceForTenant returns the isolation namespace shared by all of a tenant's clusters.
func NamespaceForTenant(tenantID string) string {
	return "tenant-" + tenantID
}

// DriverNameForCluster returns the deterministic driver execution-unit name.
func DriverNameForCluster(clusterID string) string {
	return "driver-" + clusterID
}
