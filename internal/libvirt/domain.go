package libvirt

import (
	"fmt"
	"strings"

	"libvirt.org/go/libvirtxml"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/naming"
)

// GuestAgentChannel is the virtio channel name of the QEMU guest agent.
const GuestAgentChannel = "org.qemu.guest_agent.0"

// GenerateDomainXML generates the libvirt domain XML for the creation
// step of a VM. Drives, NICs and devices are attached afterwards, one
// operation each.
func GenerateDomainXML(settings *v4.VMSpec) (string, error) {
	domain, err := domainFor(settings)
	if err != nil {
		return "", err
	}
	return marshalDomain(domain)
}

func domainFor(settings *v4.VMSpec) (*libvirtxml.Domain, error) {
	if settings == nil || settings.Name == "" {
		return nil, fmt.Errorf("VM name is required")
	}
	if settings.CPUCores < 1 {
		return nil, fmt.Errorf("cpu_cores must be at least 1, got %d", settings.CPUCores)
	}
	if settings.RAM < 1 {
		return nil, fmt.Errorf("ram must be positive, got %s", settings.RAM)
	}
	if settings.SecureBoot && !settings.UEFI {
		return nil, fmt.Errorf("secure_boot requires uefi")
	}

	machine := settings.MachineType
	if machine == "" {
		machine = v4.MachineTypeQ35
	}

	domain := &libvirtxml.Domain{
		Type:        "kvm",
		Name:        settings.Name,
		Title:       settings.OSDescription,
		Description: settings.Description,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(settings.RAM),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(settings.CPUCores),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: string(machine),
				Type:    "hvm",
			},
			BootDevices: bootDevices(settings.BootOrder),
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU:        cpuFor(settings.CPUType),
		Clock:      clockFor(settings),
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{
					Type:  "pci",
					Index: uintPtr(0),
					Model: pciRootModel(machine),
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: uintPtr(0),
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: uintPtr(0),
					},
				},
			},
		},
	}

	if settings.UEFI {
		domain.OS.Firmware = "efi"
		if settings.SecureBoot {
			domain.OS.FirmwareInfo = &libvirtxml.DomainOSFirmwareInfo{
				Features: []libvirtxml.DomainOSFirmwareFeature{
					{Enabled: "yes", Name: "secure-boot"},
					{Enabled: "yes", Name: "enrolled-keys"},
				},
			}
			domain.OS.Loader = &libvirtxml.DomainLoader{Secure: "yes"}
			domain.Features.SMM = &libvirtxml.DomainFeatureSMM{State: "on"}
		}
	}

	if g := graphicsFor(settings.Console); g != nil {
		domain.Devices.Graphics = []libvirtxml.DomainGraphic{*g}
	}
	if v := videoFor(settings.Video); v != nil {
		domain.Devices.Videos = []libvirtxml.DomainVideo{*v}
	}

	if settings.GuestAgent {
		domain.Devices.Channels = append(domain.Devices.Channels, libvirtxml.DomainChannel{
			Source: &libvirtxml.DomainChardevSource{
				UNIX: &libvirtxml.DomainChardevSourceUNIX{Mode: "bind"},
			},
			Target: &libvirtxml.DomainChannelTarget{
				VirtIO: &libvirtxml.DomainChannelTargetVirtIO{Name: GuestAgentChannel},
			},
		})
	}

	return domain, nil
}

// bootDevices maps a boot order to OS boot devices. An order containing
// "o" uses per-drive boot entries instead, which libvirt does not allow
// together with OS boot devices.
func bootDevices(order v4.BootOrder) []libvirtxml.DomainBootDevice {
	if order == "" || usesDriveOrder(order) {
		return nil
	}

	var devs []libvirtxml.DomainBootDevice
	for _, c := range string(order) {
		switch c {
		case 'c':
			devs = append(devs, libvirtxml.DomainBootDevice{Dev: "hd"})
		case 'd':
			devs = append(devs, libvirtxml.DomainBootDevice{Dev: "cdrom"})
		case 'n':
			devs = append(devs, libvirtxml.DomainBootDevice{Dev: "network"})
		}
	}
	return devs
}

func usesDriveOrder(order v4.BootOrder) bool {
	return strings.ContainsRune(string(order), 'o')
}

// cpuFor maps cpu_type to a CPU definition. "auto" and the empty value
// use host-model.
func cpuFor(cpuType string) *libvirtxml.DomainCPU {
	switch cpuType {
	case "", "auto", "host-model":
		return &libvirtxml.DomainCPU{
			Mode:  "host-model",
			Model: &libvirtxml.DomainCPUModel{Fallback: "allow"},
		}
	case "host", "host-passthrough":
		return &libvirtxml.DomainCPU{Mode: "host-passthrough"}
	}
	return &libvirtxml.DomainCPU{
		Mode:  "custom",
		Match: "exact",
		Model: &libvirtxml.DomainCPUModel{Fallback: "allow", Value: cpuType},
	}
}

// clockFor picks the RTC offset. Windows guests expect localtime when
// nothing is set.
func clockFor(settings *v4.VMSpec) *libvirtxml.DomainClock {
	offset := string(settings.RTCBase)
	if offset == "" {
		offset = string(v4.RTCBaseUTC)
		if settings.OSFamily == v4.OSFamilyWindows {
			offset = string(v4.RTCBaseLocalTime)
		}
	}

	return &libvirtxml.DomainClock{
		Offset: offset,
		Timer: []libvirtxml.DomainTimer{
			{Name: "rtc", TickPolicy: "catchup"},
			{Name: "pit", TickPolicy: "delay"},
			{Name: "hpet", Present: "no"},
		},
	}
}

func pciRootModel(machine v4.MachineType) string {
	if machine == v4.MachineTypePC {
		return "pci-root"
	}
	return "pcie-root"
}

func graphicsFor(console v4.Console) *libvirtxml.DomainGraphic {
	switch console {
	case v4.ConsoleVNC:
		return &libvirtxml.DomainGraphic{
			VNC: &libvirtxml.DomainGraphicVNC{AutoPort: "yes", Listen: "127.0.0.1"},
		}
	case v4.ConsoleSPICE:
		return &libvirtxml.DomainGraphic{
			Spice: &libvirtxml.DomainGraphicSpice{AutoPort: "yes", Listen: "127.0.0.1"},
		}
	}
	return nil
}

// videoModels maps video adapters to libvirt model types.
var videoModels = map[v4.Video]string{
	"std":    "vga",
	"cirrus": "cirrus",
	"vmware": "vmvga",
	"qxl":    "qxl",
	"virtio": "virtio",
	"none":   "none",
}

func videoFor(video v4.Video) *libvirtxml.DomainVideo {
	model, ok := videoModels[video]
	if !ok {
		return nil
	}
	return &libvirtxml.DomainVideo{
		Model: libvirtxml.DomainVideoModel{Type: model},
	}
}

// diskBus describes how a drive interface maps to a libvirt disk target.
type diskBus struct {
	bus    string
	prefix string
	// scsiModel is the SCSI controller model the bus needs, if any.
	scsiModel string
}

var diskBuses = map[v4.DriveInterface]diskBus{
	"virtio-scsi": {bus: "scsi", prefix: "sd", scsiModel: "virtio-scsi"},
	"lsi53c895a":  {bus: "scsi", prefix: "sd", scsiModel: "lsilogic"},
	"virtio":      {bus: "virtio", prefix: "vd"},
	"ide":         {bus: "ide", prefix: "hd"},
	"ahci":        {bus: "sata", prefix: "sd"},
}

// busFor returns the bus of a drive interface. The empty interface means
// virtio-scsi.
func busFor(iface v4.DriveInterface) (diskBus, error) {
	if iface == "" {
		iface = "virtio-scsi"
	}
	b, ok := diskBuses[iface]
	if !ok {
		return diskBus{}, fmt.Errorf("drive interface %q is not supported by libvirt", iface)
	}
	return b, nil
}

// cdromBus returns the bus used for CD-ROMs: SATA on q35, IDE on pc.
func cdromBus(def *libvirtxml.Domain) diskBus {
	if def.OS != nil && def.OS.Type != nil && strings.HasPrefix(def.OS.Type.Machine, "pc") &&
		!strings.Contains(def.OS.Type.Machine, "q35") {
		return diskBuses["ide"]
	}
	return diskBuses["ahci"]
}

// freeTarget returns the first target device name with prefix that no
// disk of def uses.
func freeTarget(def *libvirtxml.Domain, prefix string) string {
	used := make(map[string]bool)
	if def.Devices != nil {
		for _, d := range def.Devices.Disks {
			if d.Target != nil {
				used[d.Target.Dev] = true
			}
		}
	}
	for i := 0; ; i++ {
		if dev := naming.DiskTarget(prefix, i); !used[dev] {
			return dev
		}
	}
}

// hasSCSIController reports whether def already has a SCSI controller.
func hasSCSIController(def *libvirtxml.Domain) bool {
	if def.Devices == nil {
		return false
	}
	for _, c := range def.Devices.Controllers {
		if c.Type == "scsi" {
			return true
		}
	}
	return false
}

func scsiControllerXML(model string) (string, error) {
	c := &libvirtxml.DomainController{
		Type:  "scsi",
		Index: uintPtr(0),
		Model: model,
	}
	return marshalDevice(c)
}

// volumeDiskXML returns the XML of a disk backed by a pool volume.
func volumeDiskXML(device, pool, volume, format string, bus diskBus, target string, boot *uint) (string, error) {
	disk := &libvirtxml.DomainDisk{
		Device: device,
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: format,
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: target,
			Bus: bus.bus,
		},
	}
	if pool != "" {
		disk.Source = &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{Pool: pool, Volume: volume},
		}
	}
	if device == "cdrom" {
		disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
	} else {
		disk.Driver.Cache = "none"
	}
	if boot != nil {
		disk.Boot = &libvirtxml.DomainDeviceBoot{Order: *boot}
	}
	return marshalDevice(disk)
}

// interfaceXML returns the XML of a NIC on a libvirt network.
func interfaceXML(network, mac string, model v4.NICInterface, up bool) (string, error) {
	if model == "" {
		model = "virtio"
	}
	iface := &libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{Address: mac},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: network},
		},
		Model: &libvirtxml.DomainInterfaceModel{Type: string(model)},
	}
	if !up {
		iface.Link = &libvirtxml.DomainInterfaceLink{State: "down"}
	}
	return marshalDevice(iface)
}

// tpmXML returns the XML of an emulated TPM.
func tpmXML(model, version string) (string, error) {
	switch model {
	case "", "crb":
		model = "tpm-crb"
	case "tis":
		model = "tpm-tis"
	default:
		return "", fmt.Errorf("unsupported TPM model %q", model)
	}
	if version == "" {
		version = "2.0"
	}

	tpm := &libvirtxml.DomainTPM{
		Model: model,
		Backend: &libvirtxml.DomainTPMBackend{
			Emulator: &libvirtxml.DomainTPMBackendEmulator{Version: version},
		},
	}
	return marshalDevice(tpm)
}

type marshaler interface {
	Marshal() (string, error)
}

func marshalDevice(dev marshaler) (string, error) {
	xml, err := dev.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal device XML: %w", err)
	}
	return strings.TrimSpace(xml), nil
}

func marshalDomain(domain *libvirtxml.Domain) (string, error) {
	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func uintPtr(v uint) *uint {
	return &v
}
