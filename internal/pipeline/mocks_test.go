package pipeline

import (
	"context"
	"fmt"
	"sync"

	v4 "github.com/jbweber/anvil/api/v4"
)

// mockLookup serves lookups from a fixed table keyed by kind and name.
type mockLookup struct {
	mu sync.Mutex

	resources map[v4.ResourceKind]map[string][]int64
	findCalls int
}

func (m *mockLookup) Find(_ context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++

	var out []v4.Resource
	for _, id := range m.resources[kind][name] {
		out = append(out, v4.Resource{ID: id, Name: name})
	}
	return out, nil
}

// mockProvisioner succeeds on every call unless the NIC network id is in
// failNetworks. Each VM gets a distinct id starting at 100.
type mockProvisioner struct {
	mu sync.Mutex

	failNetworks map[int64]bool
	nextVMID     int64
	nextID       int64
	calls        []string
}

func newMockProvisioner() *mockProvisioner {
	return &mockProvisioner{nextVMID: 99, failNetworks: map[int64]bool{}}
}

func (m *mockProvisioner) record(call string) int64 {
	m.calls = append(m.calls, call)
	m.nextID++
	return m.nextID
}

func (m *mockProvisioner) CreateVM(_ context.Context, settings *v4.VMSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "vm:"+settings.Name)
	m.nextVMID++
	return m.nextVMID, nil
}

func (m *mockProvisioner) SetCloudInitFile(_ context.Context, vmID int64, _ v4.Datasource, file v4.CloudInitFile) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(fmt.Sprintf("cloud-init-file:%d:%s", vmID, file.Name)), nil
}

func (m *mockProvisioner) CreateDrive(_ context.Context, vmID int64, index int, _ v4.DriveSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(fmt.Sprintf("drive:%d:%d", vmID, index)), nil
}

func (m *mockProvisioner) CreateNIC(_ context.Context, vmID int64, index int, nic v4.NICSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNetworks[nic.Network.ID()] {
		m.calls = append(m.calls, fmt.Sprintf("nic:%d:%d:failed", vmID, index))
		return 0, fmt.Errorf("network %d is full", nic.Network.ID())
	}
	return m.record(fmt.Sprintf("nic:%d:%d", vmID, index)), nil
}

func (m *mockProvisioner) CreateDevice(_ context.Context, vmID int64, index int, _ v4.DeviceSpec) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(fmt.Sprintf("device:%d:%d", vmID, index)), nil
}

func (m *mockProvisioner) PowerOn(_ context.Context, vmID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("power-on:%d", vmID))
	return nil
}

func (m *mockProvisioner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
