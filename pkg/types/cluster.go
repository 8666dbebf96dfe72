// Package types defines the core data structures for the Kadali cluster orchestrator.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultIdleMinutes is the idle budget applied when a create request does not set one.
const DefaultIdleMinutes = 60

// ClusterType is the workload profile a cluster was requested for.
type ClusterType string

const (
	ClusterTypeInteractive ClusterType = "INTERACTIVE"
	ClusterTypeJob         ClusterType = "JOB"
	ClusterTypeML          ClusterType = "ML"
)

// ParseClusterType parses a cluster type, case-insensitively.
func ParseClusterType(s string) (ClusterType, error) {
	switch t := ClusterType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ClusterTypeInteractive, ClusterTypeJob, ClusterTypeML:
		return t, nil
	default:
		return "", NewValidationError(fmt.Sprintf("unknown cluster type %q (want INTERACTIVE, JOB or ML)", s))
	}
}

// ResourceShape is the declared size of a cluster. It is immutable after creation.
type ResourceShape struct {
	// Memory for the driver, in Spark notation ("512m", "2g")
	DriverMemory string `json:"driverMemory" yaml:"driverMemory"`

	// CPU cores for the driver
	DriverCores int `json:"driverCores" yaml:"driverCores"`

	// Memory per executor, in Spark notation
	ExecutorMemory string `json:"executorMemory" yaml:"executorMemory"`

	// CPU cores per executor
	ExecutorCores int `json:"executorCores" yaml:"executorCores"`

	// Number of executors the driver requests from the platform
	ExecutorCount int `json:"executorCount" yaml:"executorCount"`
}

// Validate checks that every field of the shape is present and well-formed.
func (r ResourceShape) Validate() error {
	var problems []string

	if _, err := ParseSparkMemory(r.DriverMemory); err != nil {
		problems = append(problems, fmt.Sprintf("driverMemory: %v", err))
	}
	if _, err := ParseSparkMemory(r.ExecutorMemory); err != nil {
		problems = append(problems, fmt.Sprintf("executorMemory: %v", err))
	}
	if r.DriverCores < 1 {
		problems = append(problems, fmt.Sprintf("driverCores must be at least 1, got %d", r.DriverCores))
	}
	if r.ExecutorCores < 1 {
		problems = append(problems, fmt.Sprintf("executorCores must be at least 1, got %d", r.ExecutorCores))
	}
	if r.ExecutorCount < 1 {
		problems = append(problems, fmt.Sprintf("executorCount must be at least 1, got %d", r.ExecutorCount))
	}

	if len(problems) > 0 {
		return NewValidationError("invalid resource shape: " + strings.Join(problems, "; "))
	}
	return nil
}

// PlacementInfo is what the platform assigned to a cluster.
type PlacementInfo struct {
	// Namespace the cluster lives in
	Namespace string `json:"namespace" yaml:"namespace"`

	// Name of the driver execution unit
	DriverName string `json:"driverName" yaml:"driverName"`

	// UI endpoint, empty until the driver is network-addressable
	UIEndpoint string `json:"uiEndpoint,omitempty" yaml:"uiEndpoint,omitempty"`
}

// Cluster is a tenant-scoped compute cluster: one driver plus the executors it requests.
type Cluster struct {
	// Unique identifier, generated at creation
	ID string `json:"id" yaml:"id"`

	// Owning tenant
	TenantID string `json:"tenantId" yaml:"tenantId"`

	// Human-readable name
	Name string `json:"name" yaml:"name"`

	// Workload profile
	Type ClusterType `json:"type" yaml:"type"`

	// Declared resources
	Resources ResourceShape `json:"resources" yaml:"resources"`

	// Namespace assigned from the tenant id
	Namespace string `json:"namespace" yaml:"namespace"`

	// Driver execution unit name, set once provisioned
	DriverName string `json:"driverName,omitempty" yaml:"driverName,omitempty"`

	// UI endpoint, set once the driver has an address
	UIEndpoint string `json:"uiEndpoint,omitempty" yaml:"uiEndpoint,omitempty"`

	// Lifecycle status
	Status ClusterStatus `json:"status" yaml:"status"`

	// Detail for the current status, e.g. the failure that moved the cluster to ERROR
	StatusMessage string `json:"statusMessage,omitempty" yaml:"statusMessage,omitempty"`

	// Minutes of inactivity before the idle reaper terminates the cluster; 0 disables
	IdleMinutes int `json:"idleMinutes" yaml:"idleMinutes"`

	CreatedAt      time.Time  `json:"createdAt" yaml:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	TerminatedAt   *time.Time `json:"terminatedAt,omitempty" yaml:"terminatedAt,omitempty"`
	LastActivityAt time.Time  `json:"lastActivityAt" yaml:"lastActivityAt"`
}

// IdleBudget returns the idle budget as a duration.
func (c *Cluster) IdleBudget() time.Duration {
	return time.Duration(c.IdleMinutes) * time.Minute
}

// IdleDeadline returns the instant after which the cluster counts as idle.
// The second return value is false when idle termination is disabled.
func (c *Cluster) IdleDeadline() (time.Time, bool) {
	if c.IdleMinutes <= 0 {
		return time.Time{}, false
	}
	return c.LastActivityAt.Add(c.IdleBudget()), true
}

// IsIdleAt reports whether the cluster is running and past its idle deadline at now.
func (c *Cluster) IsIdleAt(now time.Time) bool {
	if c.Status != ClusterStatusRunning {
		return false
	}
	deadline, ok := c.IdleDeadline()
	return ok && now.After(deadline)
}

// Transition moves the cluster to the next status if the state machine allows it.
func (c *Cluster) Transition(to ClusterStatus) error {
	if !c.Status.CanTransitionTo(to) {
		return &TransitionError{ClusterID: c.ID, From: c.Status, To: to}
	}
	c.Status = to
	return nil
}

// Clone returns a deep copy of the cluster.
func (c *Cluster) Clone() *Cluster {
	out := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		out.StartedAt = &t
	}
	if c.TerminatedAt != nil {
		t := *c.TerminatedAt
		out.TerminatedAt = &t
	}
	return &out
}
