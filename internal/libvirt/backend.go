package libvirt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/builder"
	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/metadata"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/resolver"
	"github.com/jbweber/anvil/internal/storage"
)

var (
	_ resolver.Lookup     = (*Backend)(nil)
	_ builder.Provisioner = (*Backend)(nil)
	_ builder.PlanChecker = (*Backend)(nil)
)

// HostID is the id of the connected libvirt host. A single host stands
// in for both the cluster and the node.
const HostID int64 = 1

// ErrUnsupportedKind is returned by Find for resource kinds libvirt has
// no equivalent of.
var ErrUnsupportedKind = errors.New("resource kind is not supported by libvirt")

// Backend resolves references against a libvirt host and provisions VMs
// on it. Domains, networks and volumes get the ids of the naming
// package, so the same resource always has the same id.
//
// Every child operation updates the anvil record stored in the domain
// metadata, so the record lists exactly what was built.
type Backend struct {
	lv     DomainClient
	vols   VolumeManager
	log    logr.Logger
	source string

	mu      sync.Mutex
	domains map[int64]libvirt.Domain
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) BackendOption {
	return func(b *Backend) { b.log = log }
}

// WithSource records the template location in the metadata of every VM
// the Backend creates.
func WithSource(source string) BackendOption {
	return func(b *Backend) { b.source = source }
}

// NewBackend creates a Backend.
func NewBackend(lv DomainClient, vols VolumeManager, opts ...BackendOption) *Backend {
	b := &Backend{
		lv:      lv,
		vols:    vols,
		log:     logr.Discard(),
		domains: make(map[int64]libvirt.Domain),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Find returns the resources of kind named name.
func (b *Backend) Find(ctx context.Context, kind v4.ResourceKind, name string) ([]v4.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch kind {
	case v4.ResourceCluster, v4.ResourceNode:
		host, err := b.lv.ConnectGetHostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get libvirt hostname: %w", err)
		}
		if !hostMatches(host, name) {
			return nil, nil
		}
		return []v4.Resource{{ID: HostID, Name: host}}, nil

	case v4.ResourceNetwork:
		nets, _, err := b.lv.ConnectListAllNetworks(1, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list networks: %w", err)
		}
		var found []v4.Resource
		for _, n := range nets {
			if n.Name == name {
				found = append(found, v4.Resource{ID: naming.ID(uuid.UUID(n.UUID)), Name: n.Name})
			}
		}
		return found, nil

	case v4.ResourceMedia:
		media, err := b.vols.ListMedia(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list media: %w", err)
		}
		var found []v4.Resource
		for _, m := range media {
			if m.Name == name {
				found = append(found, v4.Resource{ID: naming.KeyID(m.Key), Name: m.Name})
			}
		}
		return found, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
}

// hostMatches accepts the full hostname or its first label.
func hostMatches(host, name string) bool {
	if name == host {
		return true
	}
	short, _, _ := strings.Cut(host, ".")
	return name == short
}

// CreateVM defines the domain and stores its record. Autostart follows
// the enabled setting; the domain is not started. Once the domain is
// defined its id is returned even if a later part fails.
func (b *Backend) CreateVM(ctx context.Context, settings *v4.VMSpec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if dom, err := b.lv.DomainLookupByName(settings.Name); err == nil {
		if !metadata.Exists(b.lv, dom) {
			return 0, fmt.Errorf("VM %q already exists and is not managed by anvil", settings.Name)
		}
		return 0, fmt.Errorf("VM %q already exists", settings.Name)
	}

	domainXML, err := GenerateDomainXML(settings)
	if err != nil {
		return 0, fmt.Errorf("failed to generate domain XML: %w", err)
	}

	dom, err := b.lv.DomainDefineXML(domainXML)
	if err != nil {
		return 0, fmt.Errorf("failed to define domain: %w", err)
	}

	id := naming.ID(uuid.UUID(dom.UUID))
	b.remember(id, dom)

	rec := metadata.NewRecord(settings)
	rec.Source = b.source
	if err := metadata.Store(b.lv, dom, rec); err != nil {
		return id, fmt.Errorf("domain %s is defined but its record was not stored: %w", dom.Name, err)
	}

	if settings.Enabled {
		if err := b.lv.DomainSetAutostart(dom, 1); err != nil {
			return id, fmt.Errorf("domain %s is defined but autostart failed: %w", dom.Name, err)
		}
	}

	b.log.V(1).Info("defined domain", "vm", dom.Name, "id", id)
	return id, nil
}

// SetCloudInitFile adds file to the VM's cloud-init data and rewrites the
// cloud-init ISO. The first file attaches the ISO as a CD-ROM. If the ISO
// was written but could not be attached, the file stays in the record and
// its id is returned with the error.
func (b *Backend) SetCloudInitFile(ctx context.Context, vmID int64, ds v4.Datasource, file v4.CloudInitFile) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dom, err := b.domain(vmID)
	if err != nil {
		return 0, err
	}

	pool := b.vols.Pools().VMs
	volName := naming.VolumeNameCloudInit(dom.Name)
	id := naming.ChildID(uuid.UUID(dom.UUID), "cloud-init-file/"+file.Name, 0)

	var written bool
	var attachErr error
	_, err = metadata.Update(b.lv, dom, func(rec *metadata.Record) error {
		if rec.VM.CloudInit == nil {
			rec.VM.CloudInit = &v4.CloudInitSpec{}
		}
		ci := rec.VM.CloudInit
		ci.Datasource = ds
		ci.Files = setFile(ci.Files, file)

		iso, err := cloudinit.GenerateISO(dom.Name, ds, ci.Files)
		if err != nil {
			return fmt.Errorf("failed to generate cloud-init ISO: %w", err)
		}

		exists, err := b.vols.VolumeExists(ctx, pool, volName)
		if err != nil {
			return err
		}
		if exists {
			// The ISO size changes with its content.
			if err := b.vols.DeleteVolume(ctx, pool, volName); err != nil {
				return fmt.Errorf("failed to replace cloud-init ISO: %w", err)
			}
		}
		spec := storage.VolumeSpec{
			Name:          volName,
			Format:        storage.VolumeFormatISO,
			CapacityBytes: uint64(len(iso)),
		}
		if _, err := b.vols.CreateVolume(ctx, pool, spec); err != nil {
			return fmt.Errorf("failed to create cloud-init volume: %w", err)
		}
		if err := b.vols.WriteVolumeData(ctx, pool, volName, iso); err != nil {
			return fmt.Errorf("failed to write cloud-init ISO: %w", err)
		}
		written = true
		attachErr = b.attachCloudInit(dom, pool, volName)
		return nil
	})
	switch {
	case err != nil && written:
		return id, err
	case err != nil:
		return 0, err
	case attachErr != nil:
		return id, attachErr
	}
	return id, nil
}

func (b *Backend) attachCloudInit(dom libvirt.Domain, pool, volName string) error {
	def, err := b.definition(dom)
	if err != nil {
		return err
	}
	if diskAttached(def, pool, volName) {
		return nil
	}
	bus := cdromBus(def)
	diskXML, err := volumeDiskXML("cdrom", pool, volName, "raw", bus, freeTarget(def, bus.prefix), nil)
	if err != nil {
		return err
	}
	if err := b.attach(dom, diskXML); err != nil {
		return fmt.Errorf("cloud-init ISO %s is written but not attached: %w", volName, err)
	}
	return nil
}

// setFile replaces the file with the same name or appends it.
func setFile(files []v4.CloudInitFile, file v4.CloudInitFile) []v4.CloudInitFile {
	for i := range files {
		if files[i].Name == file.Name {
			files[i] = file
			return files
		}
	}
	return append(files, file)
}

// CreateDrive creates the volume of a drive and attaches it. Disabled
// drives get their volume but are not attached. The returned id is the
// id of the volume, or of the attachment for CD-ROMs. A volume that was
// created but could not be attached is kept in the record and its id is
// returned with the error.
func (b *Backend) CreateDrive(ctx context.Context, vmID int64, index int, drive v4.DriveSpec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dom, err := b.domain(vmID)
	if err != nil {
		return 0, err
	}

	var (
		id       int64
		driveErr error
	)
	_, err = metadata.Update(b.lv, dom, func(rec *metadata.Record) error {
		def, err := b.definition(dom)
		if err != nil {
			return err
		}
		id, driveErr = b.createDrive(ctx, dom, def, rec.VM, index, drive)
		if id == 0 {
			return driveErr
		}
		rec.VM.Drives = append(rec.VM.Drives, drive)
		return nil
	})
	if err != nil {
		return id, err
	}
	return id, driveErr
}

func (b *Backend) createDrive(ctx context.Context, dom libvirt.Domain, def *libvirtxml.Domain, vm *v4.VMSpec, index int, drive v4.DriveSpec) (int64, error) {
	boot := bootOrderFor(vm.BootOrder, drive)

	switch drive.Media {
	case v4.DriveMediaEFIDisk:
		return b.setNVRAM(dom, def)

	case v4.DriveMediaCDROM:
		var pool, vol string
		if !drive.MediaSource.IsZero() {
			media, err := b.mediaByID(ctx, drive.MediaSource.ID())
			if err != nil {
				return 0, err
			}
			pool, vol = media.Pool, media.Name
		}
		if drive.Enabled {
			bus := cdromBus(def)
			if drive.Interface == "ide" {
				bus = diskBuses["ide"]
			}
			diskXML, err := volumeDiskXML("cdrom", pool, vol, "raw", bus, freeTarget(def, bus.prefix), boot)
			if err != nil {
				return 0, err
			}
			if err := b.attach(dom, diskXML); err != nil {
				return 0, err
			}
		}
		return naming.ChildID(uuid.UUID(dom.UUID), "drive", index), nil
	}

	bus, err := busFor(drive.Interface)
	if err != nil {
		return 0, err
	}

	pools := b.vols.Pools()
	spec := storage.VolumeSpec{
		Name:          naming.VolumeNameDrive(dom.Name, drive.DisplayName(index), string(storage.VolumeFormatQCOW2)),
		Format:        storage.VolumeFormatQCOW2,
		CapacityBytes: drive.Size.Bytes(),
	}

	var vol *storage.VolumeInfo
	switch drive.Media {
	case v4.DriveMediaDisk:
		vol, err = b.vols.CreateVolume(ctx, pools.VMs, spec)
	case v4.DriveMediaImport, v4.DriveMediaClone:
		if drive.MediaSource.IsZero() {
			return 0, fmt.Errorf("%s drive %q needs a media_source", drive.Media, drive.DisplayName(index))
		}
		media, merr := b.mediaByID(ctx, drive.MediaSource.ID())
		if merr != nil {
			return 0, merr
		}
		src := storage.VolumeRef{Pool: media.Pool, Name: media.Name}
		if drive.Media == v4.DriveMediaImport {
			vol, err = b.vols.CopyVolume(ctx, pools.VMs, spec, src)
		} else {
			spec.Backing = &src
			vol, err = b.vols.CreateVolume(ctx, pools.VMs, spec)
		}
	default:
		return 0, fmt.Errorf("unsupported drive media %q", drive.Media)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create volume %s: %w", spec.Name, err)
	}

	id := naming.KeyID(vol.Key)
	if !drive.Enabled {
		return id, nil
	}
	if err := b.attachDrive(dom, def, bus, vol.Name, boot); err != nil {
		return id, fmt.Errorf("volume %s is created but not attached: %w", vol.Name, err)
	}
	return id, nil
}

func (b *Backend) attachDrive(dom libvirt.Domain, def *libvirtxml.Domain, bus diskBus, volName string, boot *uint) error {
	if bus.scsiModel != "" && !hasSCSIController(def) {
		ctrlXML, err := scsiControllerXML(bus.scsiModel)
		if err != nil {
			return err
		}
		if err := b.attach(dom, ctrlXML); err != nil {
			return fmt.Errorf("failed to add SCSI controller: %w", err)
		}
	}
	diskXML, err := volumeDiskXML("disk", b.vols.Pools().VMs, volName, string(storage.VolumeFormatQCOW2), bus, freeTarget(def, bus.prefix), boot)
	if err != nil {
		return err
	}
	return b.attach(dom, diskXML)
}

// bootOrderFor returns the per-drive boot index when the VM boots by
// drive order.
func bootOrderFor(order v4.BootOrder, drive v4.DriveSpec) *uint {
	if !usesDriveOrder(order) || drive.Order == nil || *drive.Order < 1 {
		return nil
	}
	return uintPtr(uint(*drive.Order))
}

// setNVRAM points the domain's UEFI variable store at a per-VM file in
// the VMs pool. libvirt fills it from the firmware template on first
// start.
func (b *Backend) setNVRAM(dom libvirt.Domain, def *libvirtxml.Domain) (int64, error) {
	if def.OS == nil || def.OS.Firmware != "efi" {
		return 0, fmt.Errorf("an efidisk drive requires uefi")
	}

	path := filepath.Join(b.vols.Pools().VMsPath, naming.VolumeNameEFIVars(dom.Name))
	def.OS.NVRam = &libvirtxml.DomainNVRam{NVRam: path}

	domainXML, err := marshalDomain(def)
	if err != nil {
		return 0, err
	}
	if _, err := b.lv.DomainDefineXML(domainXML); err != nil {
		return 0, fmt.Errorf("failed to set UEFI variable store: %w", err)
	}
	return naming.KeyID(path), nil
}

// CreateNIC attaches a NIC on the libvirt network with the given id.
// Without an explicit MAC the NIC gets a stable generated one.
func (b *Backend) CreateNIC(ctx context.Context, vmID int64, index int, nic v4.NICSpec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dom, err := b.domain(vmID)
	if err != nil {
		return 0, err
	}

	network, err := b.networkByID(nic.Network.ID())
	if err != nil {
		return 0, err
	}
	if nic.MAC == "" {
		nic.MAC = naming.MACFor(uuid.UUID(dom.UUID), index)
	}

	ifaceXML, err := interfaceXML(network.Name, nic.MAC, nic.Interface, nic.Enabled)
	if err != nil {
		return 0, err
	}

	id := naming.ChildID(uuid.UUID(dom.UUID), "nic", index)
	var attached bool
	_, err = metadata.Update(b.lv, dom, func(rec *metadata.Record) error {
		if err := b.attach(dom, ifaceXML); err != nil {
			return err
		}
		attached = true
		rec.VM.NICs = append(rec.VM.NICs, nic)
		return nil
	})
	if err != nil {
		if attached {
			return id, err
		}
		return 0, err
	}
	return id, nil
}

// CreateDevice attaches an extra device.
func (b *Backend) CreateDevice(ctx context.Context, vmID int64, index int, device v4.DeviceSpec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dom, err := b.domain(vmID)
	if err != nil {
		return 0, err
	}

	devXML, err := deviceXML(device)
	if err != nil {
		return 0, err
	}

	id := naming.ChildID(uuid.UUID(dom.UUID), "device", index)
	var attached bool
	_, err = metadata.Update(b.lv, dom, func(rec *metadata.Record) error {
		if err := b.attach(dom, devXML); err != nil {
			return err
		}
		attached = true
		rec.VM.Devices = append(rec.VM.Devices, device)
		return nil
	})
	if err != nil {
		if attached {
			return id, err
		}
		return 0, err
	}
	return id, nil
}

// PowerOn starts the domain.
func (b *Backend) PowerOn(ctx context.Context, vmID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dom, err := b.domain(vmID)
	if err != nil {
		return err
	}
	if err := b.lv.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", dom.Name, err)
	}
	return nil
}

// CheckPlan rejects drives and devices this host cannot attach, so a plan
// using them fails before the domain is defined.
func (b *Backend) CheckPlan(plan *v4.Plan) error {
	var (
		uefi bool
		errs []error
	)
	for i := range plan.Operations {
		op := &plan.Operations[i]
		switch {
		case op.VM != nil:
			uefi = op.VM.UEFI
		case op.Drive != nil:
			switch op.Drive.Media {
			case v4.DriveMediaCDROM:
			case v4.DriveMediaEFIDisk:
				if !uefi {
					errs = append(errs, fmt.Errorf("drive %q: an efidisk drive requires uefi", op.Name))
				}
			default:
				if _, err := busFor(op.Drive.Interface); err != nil {
					errs = append(errs, fmt.Errorf("drive %q: %w", op.Name, err))
				}
			}
		case op.Device != nil:
			if _, err := deviceXML(*op.Device); err != nil {
				errs = append(errs, fmt.Errorf("device %q: %w", op.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func deviceXML(device v4.DeviceSpec) (string, error) {
	switch device.Type {
	case v4.DeviceTypeTPM:
		return tpmXML(device.Model, device.Version)
	default:
		return "", fmt.Errorf("unsupported device type %q", device.Type)
	}
}

func (b *Backend) remember(id int64, dom libvirt.Domain) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.domains[id] = dom
}

// domain returns the domain with the given id, listing domains when it
// was not created through this Backend. Listed domains without an anvil
// record are skipped.
func (b *Backend) domain(id int64) (libvirt.Domain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dom, ok := b.domains[id]; ok {
		return dom, nil
	}

	doms, _, err := b.lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("failed to list domains: %w", err)
	}
	for _, dom := range doms {
		if metadata.Exists(b.lv, dom) {
			b.domains[naming.ID(uuid.UUID(dom.UUID))] = dom
		}
	}

	if dom, ok := b.domains[id]; ok {
		return dom, nil
	}
	return libvirt.Domain{}, fmt.Errorf("no anvil domain with id %d", id)
}

func (b *Backend) networkByID(id int64) (libvirt.Network, error) {
	nets, _, err := b.lv.ConnectListAllNetworks(1, 0)
	if err != nil {
		return libvirt.Network{}, fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range nets {
		if naming.ID(uuid.UUID(n.UUID)) == id {
			return n, nil
		}
	}
	return libvirt.Network{}, fmt.Errorf("no network with id %d", id)
}

func (b *Backend) mediaByID(ctx context.Context, id int64) (*storage.VolumeInfo, error) {
	media, err := b.vols.ListMedia(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	for i := range media {
		if naming.KeyID(media[i].Key) == id {
			return &media[i], nil
		}
	}
	return nil, fmt.Errorf("no media with id %d", id)
}

// definition returns the persistent definition of the domain.
func (b *Backend) definition(dom libvirt.Domain) (*libvirtxml.Domain, error) {
	xmlDesc, err := b.lv.DomainGetXMLDesc(dom, libvirt.DomainXMLInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain XML: %w", err)
	}
	var def libvirtxml.Domain
	if err := def.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return &def, nil
}

// attach adds a device to the persistent definition.
func (b *Backend) attach(dom libvirt.Domain, deviceXML string) error {
	if err := b.lv.DomainAttachDeviceFlags(dom, deviceXML, uint32(libvirt.DomainAffectConfig)); err != nil {
		return fmt.Errorf("failed to attach device to %s: %w", dom.Name, err)
	}
	return nil
}

func diskAttached(def *libvirtxml.Domain, pool, volume string) bool {
	if def.Devices == nil {
		return false
	}
	for _, d := range def.Devices.Disks {
		if d.Source != nil && d.Source.Volume != nil &&
			d.Source.Volume.Pool == pool && d.Source.Volume.Volume == volume {
			return true
		}
	}
	return false
}
