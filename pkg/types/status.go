package types

import "fmt"

// ClusterStatus is the lifecycle state of a cluster.
type ClusterStatus string

const (
	// ClusterStatusCreating means the record exists and the platform is being asked for a driver.
	ClusterStatusCreating ClusterStatus = "CREATING"

	// ClusterStatusRunning means the driver was provisioned.
	ClusterStatusRunning ClusterStatus = "RUNNING"

	// ClusterStatusIdle is reserved. Nothing in the orchestrator assigns it.
	ClusterStatusIdle ClusterStatus = "IDLE"

	// ClusterStatusTerminating means platform resources are being deleted.
	ClusterStatusTerminating ClusterStatus = "TERMINATING"

	// ClusterStatusTerminated means platform resources were deleted.
	ClusterStatusTerminated ClusterStatus = "TERMINATED"

	// ClusterStatusError means a provision or deprovision call failed.
	ClusterStatusError ClusterStatus = "ERROR"
)

// transitions enumerates every legal status change. Anything absent is rejected.
var transitions = map[ClusterStatus][]ClusterStatus{
	ClusterStatusCreating:    {ClusterStatusRunning, ClusterStatusError},
	ClusterStatusRunning:     {ClusterStatusTerminating},
	ClusterStatusIdle:        {ClusterStatusRunning},
	ClusterStatusTerminating: {ClusterStatusTerminated, ClusterStatusError},
}

// AllClusterStatuses returns every status in lifecycle order.
func AllClusterStatuses() []ClusterStatus {
	return []ClusterStatus{
		ClusterStatusCreating,
		ClusterStatusRunning,
		ClusterStatusIdle,
		ClusterStatusTerminating,
		ClusterStatusTerminated,
		ClusterStatusError,
	}
}

// ParseClusterStatus converts a stored string back into a status.
func ParseClusterStatus(s string) (ClusterStatus, error) {
	for _, st := range AllClusterStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown cluster status %q", s)
}

// CanTransitionTo reports whether the state machine allows s -> to.
func (s ClusterStatus) CanTransitionTo(to ClusterStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s ClusterStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsActive reports whether a cluster in s accepts activity.
func (s ClusterStatus) IsActive() bool {
	return s == ClusterStatusRunning || s == ClusterStatusIdle
}

// IsShuttingDown reports whether a terminate request against s is already satisfied.
func (s ClusterStatus) IsShuttingDown() bool {
	return s == ClusterStatusTerminating || s == ClusterStatusTerminated
}
