package storage

import "fmt"

// PoolType represents the type of storage pool backend.
type PoolType string

const (
	PoolTypeDir PoolType = "dir" // Directory-based storage
)

// VolumeFormat represents the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2" // QCOW2 format
	VolumeFormatRaw   VolumeFormat = "raw"   // Raw format
	VolumeFormatISO   VolumeFormat = "iso"   // ISO 9660 image, stored raw
)

// VolumeRef names a volume in a pool.
type VolumeRef struct {
	Pool string
	Name string
}

// VolumeSpec specifies how to create a storage volume.
type VolumeSpec struct {
	Name          string       // Volume name (e.g., "web-01_root.qcow2")
	Format        VolumeFormat // Disk format
	CapacityBytes uint64       // Capacity in bytes
	// Backing is an optional backing volume for qcow2 overlays.
	Backing *VolumeRef
}

// Validate checks if the volume spec is valid.
func (v *VolumeSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	switch v.Format {
	case VolumeFormatQCOW2, VolumeFormatRaw, VolumeFormatISO:
	case "":
		return fmt.Errorf("volume format is required")
	default:
		return fmt.Errorf("invalid volume format: %s (must be qcow2, raw or iso)", v.Format)
	}
	if v.CapacityBytes == 0 {
		return fmt.Errorf("volume capacity must be greater than 0")
	}
	if v.Backing != nil && v.Format != VolumeFormatQCOW2 {
		return fmt.Errorf("backing volumes are only supported for qcow2 format")
	}
	return nil
}

// libvirtFormat is the target format written to volume XML.
func (f VolumeFormat) libvirtFormat() string {
	if f == VolumeFormatISO {
		return string(VolumeFormatRaw)
	}
	return string(f)
}

// PoolInfo contains information about a storage pool.
type PoolInfo struct {
	Name       string   // Pool name
	Type       PoolType // Pool type
	Path       string   // Pool path (for dir-based pools)
	UUID       string   // Pool UUID
	State      string   // Pool state (running, stopped, etc.)
	Capacity   uint64   // Total capacity in bytes
	Allocation uint64   // Allocated space in bytes
	Available  uint64   // Available space in bytes
}

// AvailableGB returns the pool available space in GB.
func (p *PoolInfo) AvailableGB() float64 {
	return float64(p.Available) / (1024 * 1024 * 1024)
}

// VolumeInfo contains information about a storage volume.
type VolumeInfo struct {
	Name       string `json:"name" yaml:"name"`             // Volume name
	Key        string `json:"key" yaml:"key"`               // libvirt volume key, unique per host
	Path       string `json:"path" yaml:"path"`             // Full path to volume
	Pool       string `json:"pool" yaml:"pool"`             // Pool name
	Capacity   uint64 `json:"capacity" yaml:"capacity"`     // Capacity in bytes
	Allocation uint64 `json:"allocation" yaml:"allocation"` // Allocated space in bytes
}

// CapacityGB returns the volume capacity in GB.
func (v *VolumeInfo) CapacityGB() float64 {
	return float64(v.Capacity) / (1024 * 1024 * 1024)
}

// Pools names the two pools anvil works with.
type Pools struct {
	// Media holds media sources: installer ISOs and images to import
	// or clone.
	Media     string
	MediaPath string
	// VMs holds per-VM volumes: drives, EFI variables, cloud-init ISOs.
	VMs     string
	VMsPath string
}

// Default pool configuration.
const (
	DefaultMediaPool = "anvil-media"
	DefaultVMsPool   = "anvil-vms"
	DefaultMediaPath = "/var/lib/libvirt/images/anvil/media"
	DefaultVMsPath   = "/var/lib/libvirt/images/anvil/vms"
)

// DefaultPools returns the default pool layout.
func DefaultPools() Pools {
	return Pools{
		Media:     DefaultMediaPool,
		MediaPath: DefaultMediaPath,
		VMs:       DefaultVMsPool,
		VMsPath:   DefaultVMsPath,
	}
}
