package builder

import (
	"context"
	"sync"
	"time"

	v4 "github.com/jbweber/anvil/api/v4"
)

// mockProvisioner is a mock implementation of Provisioner for testing.
type mockProvisioner struct {
	mu sync.Mutex

	// Configurable behavior
	createVMFunc         func(ctx context.Context, settings *v4.VMSpec) (int64, error)
	setCloudInitFileFunc func(ctx context.Context, vmID int64, ds v4.Datasource, file v4.CloudInitFile) (int64, error)
	createDriveFunc      func(ctx context.Context, vmID int64, index int, drive v4.DriveSpec) (int64, error)
	createNICFunc        func(ctx context.Context, vmID int64, index int, nic v4.NICSpec) (int64, error)
	createDeviceFunc     func(ctx context.Context, vmID int64, index int, device v4.DeviceSpec) (int64, error)
	powerOnFunc          func(ctx context.Context, vmID int64) error

	// Call tracking, in call order
	calls   []string
	vmIDs   []int64
	nextID  int64
	lastVMs []*v4.VMSpec
}

// newMockProvisioner creates a mock where every call succeeds. The VM gets
// id 100 and sub-resources get ids 1, 2, 3, ...
func newMockProvisioner() *mockProvisioner {
	m := &mockProvisioner{}

	m.createVMFunc = func(context.Context, *v4.VMSpec) (int64, error) {
		return 100, nil
	}
	m.setCloudInitFileFunc = func(context.Context, int64, v4.Datasource, v4.CloudInitFile) (int64, error) {
		return m.id(), nil
	}
	m.createDriveFunc = func(context.Context, int64, int, v4.DriveSpec) (int64, error) {
		return m.id(), nil
	}
	m.createNICFunc = func(context.Context, int64, int, v4.NICSpec) (int64, error) {
		return m.id(), nil
	}
	m.createDeviceFunc = func(context.Context, int64, int, v4.DeviceSpec) (int64, error) {
		return m.id(), nil
	}
	m.powerOnFunc = func(context.Context, int64) error {
		return nil
	}

	return m
}

// id is called with m.mu held.
func (m *mockProvisioner) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockProvisioner) record(call string, vmID int64) {
	m.calls = append(m.calls, call)
	m.vmIDs = append(m.vmIDs, vmID)
}

func (m *mockProvisioner) CreateVM(ctx context.Context, settings *v4.VMSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("vm", 0)
	m.lastVMs = append(m.lastVMs, settings)
	return m.createVMFunc(ctx, settings)
}

func (m *mockProvisioner) SetCloudInitFile(ctx context.Context, vmID int64, ds v4.Datasource, file v4.CloudInitFile) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cloud-init-file:"+file.Name, vmID)
	return m.setCloudInitFileFunc(ctx, vmID, ds, file)
}

func (m *mockProvisioner) CreateDrive(ctx context.Context, vmID int64, index int, drive v4.DriveSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("drive:"+drive.DisplayName(index), vmID)
	return m.createDriveFunc(ctx, vmID, index, drive)
}

func (m *mockProvisioner) CreateNIC(ctx context.Context, vmID int64, index int, nic v4.NICSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("nic:"+nic.DisplayName(index), vmID)
	return m.createNICFunc(ctx, vmID, index, nic)
}

func (m *mockProvisioner) CreateDevice(ctx context.Context, vmID int64, index int, device v4.DeviceSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("device:"+device.DisplayName(index), vmID)
	return m.createDeviceFunc(ctx, vmID, index, device)
}

func (m *mockProvisioner) PowerOn(ctx context.Context, vmID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("power-on", vmID)
	return m.powerOnFunc(ctx, vmID)
}

// checkingProvisioner is a mockProvisioner that also checks plans.
type checkingProvisioner struct {
	*mockProvisioner
	checkErr error
	checked  []string
}

func (c *checkingProvisioner) CheckPlan(plan *v4.Plan) error {
	c.checked = append(c.checked, plan.VMName)
	return c.checkErr
}

// mockObserver records observed steps.
type mockObserver struct {
	mu    sync.Mutex
	kinds []v4.OperationKind
	errs  []error
}

func (o *mockObserver) ObserveStep(kind v4.OperationKind, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	o.errs = append(o.errs, err)
}
