package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/digitalocean/go-libvirt"
)

// LibvirtClient is the interface for libvirt operations.
// This allows for dependency injection and testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolListAllVolumes(Pool libvirt.StoragePool, NeedResults int32, Flags uint32) ([]libvirt.StorageVol, uint32, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolCreateXMLFrom(Pool libvirt.StoragePool, XML string, Clonevol libvirt.StorageVol, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetXMLDesc(Vol libvirt.StorageVol, Flags uint32) (string, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error)
	StorageVolUpload(Vol libvirt.StorageVol, outStream io.Reader, Offset uint64, Length uint64, Flags libvirt.StorageVolUploadFlags) error
}

// Manager coordinates storage operations for pools, volumes and media.
type Manager struct {
	client LibvirtClient
	pools  Pools
	owner  Ownership
}

// NewManager creates a new storage manager for the given pool layout.
// Empty pool fields take their defaults.
func NewManager(client LibvirtClient, pools Pools) *Manager {
	def := DefaultPools()
	if pools.Media == "" {
		pools.Media = def.Media
	}
	if pools.MediaPath == "" {
		pools.MediaPath = def.MediaPath
	}
	if pools.VMs == "" {
		pools.VMs = def.VMs
	}
	if pools.VMsPath == "" {
		pools.VMsPath = def.VMsPath
	}

	return &Manager{
		client: client,
		pools:  pools,
		owner:  QEMUOwnership(),
	}
}

// Pools returns the pool layout of the manager.
func (m *Manager) Pools() Pools {
	return m.pools
}

// EnsureDefaultPools ensures that the media and VMs pools exist.
func (m *Manager) EnsureDefaultPools(ctx context.Context) error {
	if err := m.EnsurePool(ctx, m.pools.Media, m.pools.MediaPath); err != nil {
		return fmt.Errorf("failed to ensure media pool: %w", err)
	}
	if err := m.EnsurePool(ctx, m.pools.VMs, m.pools.VMsPath); err != nil {
		return fmt.Errorf("failed to ensure VMs pool: %w", err)
	}
	return nil
}
