package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"
)

func TestManager_EnsurePool(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockLibvirtClient)
	}{
		{
			name:  "create new pool",
			setup: func(m *mockLibvirtClient) {},
		},
		{
			name:  "pool already running",
			setup: func(m *mockLibvirtClient) { m.addPool("test-pool") },
		},
		{
			name: "pool defined but stopped",
			setup: func(m *mockLibvirtClient) {
				m.addPool("test-pool")
				m.pools["test-pool"].state = libvirt.StoragePoolInactive
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := newMockLibvirtClient()
			tt.setup(mockClient)

			mgr := NewManager(mockClient, DefaultPools())
			if err := mgr.EnsurePool(context.Background(), "test-pool", "/var/lib/libvirt/images/test"); err != nil {
				t.Fatalf("EnsurePool() failed: %v", err)
			}

			p, ok := mockClient.pools["test-pool"]
			if !ok {
				t.Fatal("Pool not found after EnsurePool()")
			}
			if p.state != libvirt.StoragePoolRunning {
				t.Errorf("Pool state = %v, want running", p.state)
			}
		})
	}
}

func TestManager_CreatePool(t *testing.T) {
	mockClient := newMockLibvirtClient()
	mgr := NewManager(mockClient, DefaultPools())
	mgr.owner = Ownership{UID: "107", GID: "36"}

	if err := mgr.CreatePool(context.Background(), "test-pool", "/srv/pool"); err != nil {
		t.Fatalf("CreatePool() failed: %v", err)
	}

	p := mockClient.pools["test-pool"]
	if !p.autostart {
		t.Error("Expected autostart to be set")
	}
	for _, want := range []string{`type="dir"`, "<path>/srv/pool</path>", "<owner>107</owner>", "<group>36</group>"} {
		if !strings.Contains(p.xmlDesc, want) {
			t.Errorf("Pool XML missing %q:\n%s", want, p.xmlDesc)
		}
	}
	if strings.HasPrefix(p.xmlDesc, "<?xml") {
		t.Error("Pool XML still has XML declaration")
	}

	if err := mgr.CreatePool(context.Background(), "test-pool", "/srv/pool"); err == nil {
		t.Error("CreatePool() of an existing pool should fail")
	}
	if err := mgr.CreatePool(context.Background(), "", "/srv/pool"); err == nil {
		t.Error("CreatePool() without a name should fail")
	}
}

func TestManager_CreatePool_BuildFailureUndefines(t *testing.T) {
	mockClient := newMockLibvirtClient()
	mockClient.buildErr = errors.New("permission denied")
	mgr := NewManager(mockClient, DefaultPools())

	err := mgr.CreatePool(context.Background(), "test-pool", "/srv/pool")
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("CreatePool() error = %v, want build error", err)
	}
	if _, ok := mockClient.pools["test-pool"]; ok {
		t.Error("Pool left defined after failed build")
	}
}

func TestManager_EnsureDefaultPools(t *testing.T) {
	mockClient := newMockLibvirtClient()
	mgr := NewManager(mockClient, DefaultPools())

	if err := mgr.EnsureDefaultPools(context.Background()); err != nil {
		t.Fatalf("EnsureDefaultPools() failed: %v", err)
	}
	for _, name := range []string{DefaultMediaPool, DefaultVMsPool} {
		if _, ok := mockClient.pools[name]; !ok {
			t.Errorf("Pool %s not created", name)
		}
	}
}

func TestManager_GetPoolInfo(t *testing.T) {
	mockClient := newMockLibvirtClient()
	mockClient.addPool("test-pool")
	mgr := NewManager(mockClient, DefaultPools())

	info, err := mgr.GetPoolInfo(context.Background(), "test-pool")
	if err != nil {
		t.Fatalf("GetPoolInfo() failed: %v", err)
	}
	if info.Name != "test-pool" || info.Type != PoolTypeDir || info.Path != "/pools/test-pool" {
		t.Errorf("GetPoolInfo() = %+v", info)
	}
	if info.State != "running" {
		t.Errorf("State = %q, want running", info.State)
	}
	if info.UUID != "01000000-0000-0000-0000-000000000000" {
		t.Errorf("UUID = %q", info.UUID)
	}

	if _, err := mgr.GetPoolInfo(context.Background(), "missing"); err == nil {
		t.Error("GetPoolInfo() of a missing pool should fail")
	}
}

func TestManager_RefreshPool(t *testing.T) {
	mockClient := newMockLibvirtClient()
	mockClient.addPool("test-pool")
	mgr := NewManager(mockClient, DefaultPools())

	if err := mgr.RefreshPool(context.Background(), "test-pool"); err != nil {
		t.Errorf("RefreshPool() failed: %v", err)
	}
	if err := mgr.RefreshPool(context.Background(), "missing"); err == nil {
		t.Error("RefreshPool() of a missing pool should fail")
	}
}
