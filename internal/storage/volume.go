package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// CreateVolume creates a new volume in the specified pool. A qcow2
// volume with a backing reference becomes a copy-on-write overlay of
// the backing volume, which may live in another pool.
func (m *Manager) CreateVolume(ctx context.Context, poolName string, spec VolumeSpec) (*VolumeInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume spec: %w", err)
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	vol := m.volumeDefinition(spec)
	if spec.Backing != nil {
		backing, err := m.LookupVolume(ctx, spec.Backing.Pool, spec.Backing.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get backing volume: %w", err)
		}
		format, err := m.volumeFormat(*spec.Backing)
		if err != nil {
			return nil, fmt.Errorf("failed to get backing volume format: %w", err)
		}
		vol.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path:   backing.Path,
			Format: &libvirtxml.StorageVolumeTargetFormat{Type: format},
		}
	}

	volumeXML, err := marshalVolume(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to generate volume XML: %w", err)
	}

	created, err := m.client.StorageVolCreateXML(pool, volumeXML, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	return m.volumeInfo(poolName, created)
}

// CopyVolume creates a volume in poolName holding a full copy of src.
// Capacity grows to spec.CapacityBytes when that is larger than the
// source.
func (m *Manager) CopyVolume(ctx context.Context, poolName string, spec VolumeSpec, src VolumeRef) (*VolumeInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume spec: %w", err)
	}
	if spec.Backing != nil {
		return nil, fmt.Errorf("a copied volume cannot have a backing volume")
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	srcPool, err := m.client.StoragePoolLookupByName(src.Pool)
	if err != nil {
		return nil, fmt.Errorf("source pool not found: %w", err)
	}
	srcVol, err := m.client.StorageVolLookupByName(srcPool, src.Name)
	if err != nil {
		return nil, fmt.Errorf("source volume not found: %w", err)
	}

	_, srcCapacity, _, err := m.client.StorageVolGetInfo(srcVol)
	if err != nil {
		return nil, fmt.Errorf("failed to get source volume info: %w", err)
	}
	if srcCapacity > spec.CapacityBytes {
		spec.CapacityBytes = srcCapacity
	}

	volumeXML, err := marshalVolume(m.volumeDefinition(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to generate volume XML: %w", err)
	}

	created, err := m.client.StorageVolCreateXMLFrom(pool, volumeXML, srcVol, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to copy volume %s/%s: %w", src.Pool, src.Name, err)
	}

	return m.volumeInfo(poolName, created)
}

// DeleteVolume deletes a volume from the specified pool.
func (m *Manager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}

	return nil
}

// ListVolumes lists all volumes in the specified pool.
func (m *Manager) ListVolumes(ctx context.Context, poolName string) ([]VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var volumeInfos []VolumeInfo
	for _, vol := range volumes {
		info, err := m.volumeInfo(poolName, vol)
		if err != nil {
			// Skip volumes removed while listing
			continue
		}
		volumeInfos = append(volumeInfos, *info)
	}

	return volumeInfos, nil
}

// LookupVolume returns information about one volume.
func (m *Manager) LookupVolume(ctx context.Context, poolName, volumeName string) (*VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return nil, fmt.Errorf("volume not found: %w", err)
	}

	return m.volumeInfo(poolName, vol)
}

// WriteVolumeData uploads data to a volume (used for cloud-init ISOs).
func (m *Manager) WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error {
	return m.UploadVolume(ctx, poolName, volumeName, bytes.NewReader(data), uint64(len(data)))
}

// UploadVolume streams length bytes from r into a volume.
func (m *Manager) UploadVolume(ctx context.Context, poolName, volumeName string, r io.Reader, length uint64) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolUpload(vol, r, 0, length, 0); err != nil {
		return fmt.Errorf("failed to upload data to volume: %w", err)
	}

	return nil
}

// VolumeExists checks if a volume exists in the specified pool.
func (m *Manager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return false, fmt.Errorf("pool not found: %w", err)
	}

	if _, err := m.client.StorageVolLookupByName(pool, volumeName); err != nil {
		return false, nil
	}

	return true, nil
}

func (m *Manager) volumeInfo(poolName string, vol libvirt.StorageVol) (*VolumeInfo, error) {
	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume path: %w", err)
	}

	_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume info: %w", err)
	}

	return &VolumeInfo{
		Name:       vol.Name,
		Key:        vol.Key,
		Path:       path,
		Pool:       poolName,
		Capacity:   capacity,
		Allocation: allocation,
	}, nil
}

// volumeFormat reads the target format libvirt recorded for a volume.
func (m *Manager) volumeFormat(ref VolumeRef) (string, error) {
	pool, err := m.client.StoragePoolLookupByName(ref.Pool)
	if err != nil {
		return "", fmt.Errorf("pool not found: %w", err)
	}
	vol, err := m.client.StorageVolLookupByName(pool, ref.Name)
	if err != nil {
		return "", fmt.Errorf("volume not found: %w", err)
	}
	xmlDesc, err := m.client.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get volume XML: %w", err)
	}

	var def libvirtxml.StorageVolume
	if err := def.Unmarshal(xmlDesc); err != nil {
		return "", fmt.Errorf("failed to parse volume XML: %w", err)
	}
	if def.Target == nil || def.Target.Format == nil || def.Target.Format.Type == "" {
		return string(VolumeFormatRaw), nil
	}
	return def.Target.Format.Type, nil
}

func (m *Manager) volumeDefinition(spec VolumeSpec) *libvirtxml.StorageVolume {
	return &libvirtxml.StorageVolume{
		Type: "file",
		Name: spec.Name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: spec.CapacityBytes,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: spec.Format.libvirtFormat(),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: m.owner.UID,
				Group: m.owner.GID,
				Mode:  "0644",
			},
		},
	}
}

func marshalVolume(vol *libvirtxml.StorageVolume) (string, error) {
	xmlStr, err := vol.Marshal()
	if err != nil {
		return "", err
	}
	return trimXMLHeader(xmlStr), nil
}
