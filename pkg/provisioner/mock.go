package provisioner

import (
	"context"

	"github.com/rzbill/kadali/pkg/types"
	"github.com/stretchr/testify/mock"
)

// Compile-time check that MockProvisioner implements Provisioner.
var _ Provisioner = (*MockProvisioner)(nil)

// MockProvisioner is a testify mock of Provisioner. Provision also accepts a
// function as its single return value, which is called with the arguments.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, clusterID, tenantID string, shape types.ResourceShape) (*types.PlacementInfo, error) {
	args := m.Called(ctx, clusterID, tenantID, shape)
	if fn, ok := args.Get(0).(func(context.Context, string, string, types.ResourceShape) (*types.PlacementInfo, error)); ok {
		return fn(ctx, clusterID, tenantID, shape)
	}
	if p, ok := args.Get(0).(*types.PlacementInfo); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvisioner) Deprovision(ctx context.Context, clusterID, tenantID string) error {
	args := m.Called(ctx, clusterID, tenantID)
	return args.Error(0)
}

func (m *MockProvisioner) LocateUIEndpoint(ctx context.Context, clusterID, tenantID string) (string, error) {
	args := m.Called(ctx, clusterID, tenantID)
	return args.String(0), args.Error(1)
}
