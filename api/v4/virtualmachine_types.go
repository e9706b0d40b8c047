package v4

import (
	"fmt"

	"github.com/jbweber/anvil/internal/units"
)

const (
	// APIVersion is the only supported document apiVersion.
	APIVersion = "v4"

	// KindVirtualMachine documents carry a single vm object.
	KindVirtualMachine = "VirtualMachine"

	// KindVirtualMachineSet documents carry defaults plus a vms list.
	KindVirtualMachineSet = "VirtualMachineSet"
)

// OSFamily is the guest operating system family.
// +enum=linux;windows;freebsd;other
type OSFamily string

const (
	OSFamilyLinux   OSFamily = "linux"
	OSFamilyWindows OSFamily = "windows"
	OSFamilyFreeBSD OSFamily = "freebsd"
	OSFamilyOther   OSFamily = "other"
)

// MachineType is the emulated chipset.
// +enum=q35;pc
type MachineType string

const (
	MachineTypeQ35 MachineType = "q35"
	MachineTypePC  MachineType = "pc"
)

// BootOrder lists boot devices by letter: c disk, d cdrom, n network,
// o the first drive with an explicit order.
// +enum=d;cd;cdn;c;dc;n;nd;do
type BootOrder string

// Console is the graphical console protocol.
// +enum=vnc;spice
type Console string

const (
	ConsoleVNC   Console = "vnc"
	ConsoleSPICE Console = "spice"
)

// Video is the emulated video adapter.
// +enum=std;cirrus;vmware;qxl;virtio;none
type Video string

// RTCBase selects the real time clock offset.
// +enum=utc;localtime
type RTCBase string

const (
	RTCBaseUTC       RTCBase = "utc"
	RTCBaseLocalTime RTCBase = "localtime"
)

// DriveMedia describes what a drive is and how it is populated.
// +enum=disk;cdrom;import;clone;efidisk
type DriveMedia string

const (
	DriveMediaDisk    DriveMedia = "disk"
	DriveMediaCDROM   DriveMedia = "cdrom"
	DriveMediaImport  DriveMedia = "import"
	DriveMediaClone   DriveMedia = "clone"
	DriveMediaEFIDisk DriveMedia = "efidisk"
)

// DriveInterface is the bus a drive is attached to.
// +enum=virtio-scsi;virtio;ide;ahci;lsi53c895a;nvme
type DriveInterface string

// NICInterface is the emulated network adapter model.
// +enum=virtio;e1000;e1000e;rtl8139;pcnet;igb;vmxnet3
type NICInterface string

// DeviceType is the kind of an extra device.
// +enum=tpm
type DeviceType string

const (
	DeviceTypeTPM DeviceType = "tpm"
)

// Datasource is the cloud-init datasource the VM is given.
// +enum=nocloud;config_drive_v2
type Datasource string

const (
	DatasourceNoCloud       Datasource = "nocloud"
	DatasourceConfigDriveV2 Datasource = "config_drive_v2"
)

// Enumerations accepted by the document schema.
var (
	OSFamilies      = []string{"linux", "windows", "freebsd", "other"}
	MachineTypes    = []string{"q35", "pc"}
	BootOrders      = []string{"d", "cd", "cdn", "c", "dc", "n", "nd", "do"}
	Consoles        = []string{"vnc", "spice"}
	Videos          = []string{"std", "cirrus", "vmware", "qxl", "virtio", "none"}
	RTCBases        = []string{"utc", "localtime"}
	DriveMedias     = []string{"disk", "cdrom", "import", "clone", "efidisk"}
	DriveInterfaces = []string{"virtio-scsi", "virtio", "ide", "ahci", "lsi53c895a", "nvme"}
	NICInterfaces   = []string{"virtio", "e1000", "e1000e", "rtl8139", "pcnet", "igb", "vmxnet3"}
	DeviceTypes     = []string{"tpm"}
	TPMModels       = []string{"tis", "crb"}
	TPMVersions     = []string{"1.2", "2.0"}
	Datasources     = []string{"nocloud", "config_drive_v2"}
	CloudInitFiles  = []string{"user-data", "meta-data", "vendor-data", "network-data"}
)

// MemorySize is an amount of memory in MB.
type MemorySize int64

// String implements fmt.Stringer.
func (m MemorySize) String() string {
	return units.Format(int64(m), units.Memory)
}

// DiskSize is a disk capacity in GB.
type DiskSize int64

// String implements fmt.Stringer.
func (d DiskSize) String() string {
	return units.Format(int64(d), units.Disk)
}

// Bytes returns the capacity in bytes.
func (d DiskSize) Bytes() uint64 {
	return uint64(d) * 1024 * 1024 * 1024
}

// Document is a decoded template document. For a VirtualMachineSet, VMs
// holds the effective (defaults-merged) spec of every entry in order; for a
// VirtualMachine it holds exactly one spec.
type Document struct {
	APIVersion string            `json:"apiVersion" yaml:"apiVersion"`
	Kind       string            `json:"kind" yaml:"kind"`
	Vars       map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
	VMs        []VMSpec          `json:"vms" yaml:"vms"`
}

// VMSpec is the desired configuration of one virtual machine.
type VMSpec struct {
	// Name is the VM name. Required.
	Name          string   `mapstructure:"name" json:"name" yaml:"name"`
	Description   string   `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`
	Enabled       bool     `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	OSFamily      OSFamily `mapstructure:"os_family" json:"os_family" yaml:"os_family"`
	OSDescription string   `mapstructure:"os_description" json:"os_description,omitempty" yaml:"os_description,omitempty"`

	// +minimum=1
	CPUCores int        `mapstructure:"cpu_cores" json:"cpu_cores" yaml:"cpu_cores"`
	CPUType  string     `mapstructure:"cpu_type" json:"cpu_type" yaml:"cpu_type"`
	RAM      MemorySize `mapstructure:"ram" json:"ram" yaml:"ram"`

	MachineType  MachineType `mapstructure:"machine_type" json:"machine_type" yaml:"machine_type"`
	BootOrder    BootOrder   `mapstructure:"boot_order" json:"boot_order" yaml:"boot_order"`
	AllowHotplug bool        `mapstructure:"allow_hotplug" json:"allow_hotplug" yaml:"allow_hotplug"`
	UEFI         bool        `mapstructure:"uefi" json:"uefi" yaml:"uefi"`
	// SecureBoot requires UEFI.
	SecureBoot bool `mapstructure:"secure_boot" json:"secure_boot" yaml:"secure_boot"`

	Console    Console `mapstructure:"console" json:"console" yaml:"console"`
	Video      Video   `mapstructure:"video" json:"video" yaml:"video"`
	GuestAgent bool    `mapstructure:"guest_agent" json:"guest_agent" yaml:"guest_agent"`
	RTCBase    RTCBase `mapstructure:"rtc_base" json:"rtc_base" yaml:"rtc_base"`

	Cluster         Ref `mapstructure:"cluster" json:"cluster,omitempty" yaml:"cluster,omitempty"`
	FailoverCluster Ref `mapstructure:"failover_cluster" json:"failover_cluster,omitempty" yaml:"failover_cluster,omitempty"`
	PreferredNode   Ref `mapstructure:"preferred_node" json:"preferred_node,omitempty" yaml:"preferred_node,omitempty"`
	HAGroup         Ref `mapstructure:"ha_group" json:"ha_group,omitempty" yaml:"ha_group,omitempty"`
	SnapshotProfile Ref `mapstructure:"snapshot_profile" json:"snapshot_profile,omitempty" yaml:"snapshot_profile,omitempty"`

	PowerOnAfterCreate bool   `mapstructure:"power_on_after_create" json:"power_on_after_create" yaml:"power_on_after_create"`
	AdvancedOptions    string `mapstructure:"advanced_options" json:"advanced_options,omitempty" yaml:"advanced_options,omitempty"`

	Drives    []DriveSpec    `mapstructure:"drives" json:"drives,omitempty" yaml:"drives,omitempty"`
	NICs      []NICSpec      `mapstructure:"nics" json:"nics,omitempty" yaml:"nics,omitempty"`
	Devices   []DeviceSpec   `mapstructure:"devices" json:"devices,omitempty" yaml:"devices,omitempty"`
	CloudInit *CloudInitSpec `mapstructure:"cloudinit" json:"cloudinit,omitempty" yaml:"cloudinit,omitempty"`
}

// DriveSpec is one entry of a VM's drives list.
type DriveSpec struct {
	Name        string         `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`
	Media       DriveMedia     `mapstructure:"media" json:"media" yaml:"media"`
	Interface   DriveInterface `mapstructure:"interface" json:"interface" yaml:"interface"`
	// Size is required unless Media is cdrom.
	Size          DiskSize `mapstructure:"size" json:"size,omitempty" yaml:"size,omitempty"`
	PreferredTier int      `mapstructure:"preferred_tier" json:"preferred_tier" yaml:"preferred_tier"`
	MediaSource   Ref      `mapstructure:"media_source" json:"media_source,omitempty" yaml:"media_source,omitempty"`
	Enabled       bool     `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Order         *int     `mapstructure:"order" json:"order,omitempty" yaml:"order,omitempty"`
}

// NICSpec is one entry of a VM's nics list.
type NICSpec struct {
	// Network is required.
	Network     Ref          `mapstructure:"network" json:"network" yaml:"network"`
	Name        string       `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
	Description string       `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`
	Interface   NICInterface `mapstructure:"interface" json:"interface" yaml:"interface"`
	Enabled     bool         `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	MAC         string       `mapstructure:"mac" json:"mac,omitempty" yaml:"mac,omitempty"`
}

// DeviceSpec is one entry of a VM's devices list.
type DeviceSpec struct {
	// Type is required.
	Type    DeviceType `mapstructure:"type" json:"type" yaml:"type"`
	Name    string     `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
	Model   string     `mapstructure:"model" json:"model" yaml:"model"`
	Version string     `mapstructure:"version" json:"version" yaml:"version"`
}

// CloudInitSpec declares the first-boot data handed to the guest.
type CloudInitSpec struct {
	Datasource Datasource      `mapstructure:"datasource" json:"datasource" yaml:"datasource"`
	Files      []CloudInitFile `mapstructure:"files" json:"files,omitempty" yaml:"files,omitempty"`
}

// CloudInitFile is one named cloud-init data file.
type CloudInitFile struct {
	Name    string `mapstructure:"name" json:"name" yaml:"name"`
	Content string `mapstructure:"content" json:"content" yaml:"content"`
}

// DisplayName returns the drive's name, or a positional fallback.
func (d *DriveSpec) DisplayName(index int) string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("drive%d", index)
}

// DisplayName returns the NIC's name, or a positional fallback.
func (n *NICSpec) DisplayName(index int) string {
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("nic%d", index)
}

// DisplayName returns the device's name, or its type and position.
func (d *DeviceSpec) DisplayName(index int) string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%s%d", d.Type, index)
}

// DeepCopy creates a deep copy of VMSpec.
func (in *VMSpec) DeepCopy() *VMSpec {
	if in == nil {
		return nil
	}
	out := new(VMSpec)
	*out = *in

	if in.Drives != nil {
		out.Drives = make([]DriveSpec, len(in.Drives))
		for i := range in.Drives {
			out.Drives[i] = *in.Drives[i].DeepCopy()
		}
	}
	if in.NICs != nil {
		out.NICs = make([]NICSpec, len(in.NICs))
		copy(out.NICs, in.NICs)
	}
	if in.Devices != nil {
		out.Devices = make([]DeviceSpec, len(in.Devices))
		copy(out.Devices, in.Devices)
	}
	out.CloudInit = in.CloudInit.DeepCopy()

	return out
}

// DeepCopy creates a deep copy of DriveSpec.
func (in *DriveSpec) DeepCopy() *DriveSpec {
	if in == nil {
		return nil
	}
	out := new(DriveSpec)
	*out = *in
	if in.Order != nil {
		order := *in.Order
		out.Order = &order
	}
	return out
}

// DeepCopy creates a deep copy of CloudInitSpec.
func (in *CloudInitSpec) DeepCopy() *CloudInitSpec {
	if in == nil {
		return nil
	}
	out := new(CloudInitSpec)
	*out = *in
	if in.Files != nil {
		out.Files = make([]CloudInitFile, len(in.Files))
		copy(out.Files, in.Files)
	}
	return out
}

// Settings returns a copy of the spec without its child collections: the
// parameters of the VM creation step itself.
func (in *VMSpec) Settings() *VMSpec {
	out := in.DeepCopy()
	out.Drives = nil
	out.NICs = nil
	out.Devices = nil
	out.CloudInit = nil
	return out
}
