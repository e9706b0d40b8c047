package libvirt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/internal/storage"
)

// mockDomainClient is an in-memory libvirt host. Defined domains keep
// their XML, attached devices are merged into it, and metadata is kept
// per domain.
type mockDomainClient struct {
	mu sync.Mutex

	hostname string
	networks []libvirt.Network
	domains  map[string]string // name -> domain XML
	uuids    map[string]libvirt.UUID
	metadata map[string]string // name -> metadata XML

	// Configurable behavior
	attachErr    error
	createErr    error
	autostartErr error

	// Call tracking
	defineCalls    []string
	attachCalls    []string
	autostartCalls []string
	createCalls    []string
	listDomains    int
}

func newMockDomainClient() *mockDomainClient {
	return &mockDomainClient{
		hostname: "kvm01.lab.example",
		domains:  make(map[string]string),
		uuids:    make(map[string]libvirt.UUID),
		metadata: make(map[string]string),
	}
}

func (m *mockDomainClient) addNetwork(name string) libvirt.Network {
	n := libvirt.Network{Name: name, UUID: libvirt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)))}
	m.networks = append(m.networks, n)
	return n
}

// def returns the parsed definition of a domain.
func (m *mockDomainClient) def(name string) *libvirtxml.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d libvirtxml.Domain
	if err := d.Unmarshal(m.domains[name]); err != nil {
		panic(err)
	}
	return &d
}

func (m *mockDomainClient) DomainSetMetadata(dom libvirt.Domain, typ int32, md libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[dom.Name]; !ok {
		return fmt.Errorf("domain not found: %s", dom.Name)
	}
	if len(md) > 0 {
		m.metadata[dom.Name] = md[0]
	}
	return nil
}

func (m *mockDomainClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.metadata[dom.Name]
	if !ok {
		return "", fmt.Errorf("metadata not found")
	}
	return md, nil
}

func (m *mockDomainClient) ConnectGetHostname() (string, error) {
	return m.hostname, nil
}

func (m *mockDomainClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listDomains++
	var out []libvirt.Domain
	for name := range m.domains {
		out = append(out, libvirt.Domain{Name: name, UUID: m.uuids[name]})
	}
	return out, uint32(len(out)), nil
}

func (m *mockDomainClient) ConnectListAllNetworks(needResults int32, flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error) {
	return m.networks, uint32(len(m.networks)), nil
}

func (m *mockDomainClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.domains[name]; !ok {
		return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
	}
	return libvirt.Domain{Name: name, UUID: m.uuids[name]}, nil
}

func (m *mockDomainClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	var d libvirtxml.Domain
	if err := d.Unmarshal(xml); err != nil {
		return libvirt.Domain{}, fmt.Errorf("invalid domain XML: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defineCalls = append(m.defineCalls, d.Name)
	m.domains[d.Name] = xml
	if _, ok := m.uuids[d.Name]; !ok {
		m.uuids[d.Name] = libvirt.UUID(uuid.NewSHA1(uuid.NameSpaceDNS, []byte(d.Name)))
	}
	return libvirt.Domain{Name: d.Name, UUID: m.uuids[d.Name]}, nil
}

func (m *mockDomainClient) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	xml, ok := m.domains[dom.Name]
	if !ok {
		return "", fmt.Errorf("domain not found: %s", dom.Name)
	}
	return xml, nil
}

func (m *mockDomainClient) DomainAttachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error {
	if m.attachErr != nil {
		return m.attachErr
	}

	d := m.def(dom.Name)
	if d.Devices == nil {
		d.Devices = &libvirtxml.DomainDeviceList{}
	}

	switch {
	case strings.HasPrefix(xml, "<disk"):
		var dev libvirtxml.DomainDisk
		if err := dev.Unmarshal(xml); err != nil {
			return err
		}
		d.Devices.Disks = append(d.Devices.Disks, dev)
	case strings.HasPrefix(xml, "<interface"):
		var dev libvirtxml.DomainInterface
		if err := dev.Unmarshal(xml); err != nil {
			return err
		}
		d.Devices.Interfaces = append(d.Devices.Interfaces, dev)
	case strings.HasPrefix(xml, "<controller"):
		var dev libvirtxml.DomainController
		if err := dev.Unmarshal(xml); err != nil {
			return err
		}
		d.Devices.Controllers = append(d.Devices.Controllers, dev)
	case strings.HasPrefix(xml, "<tpm"):
		var dev libvirtxml.DomainTPM
		if err := dev.Unmarshal(xml); err != nil {
			return err
		}
		d.Devices.TPMs = append(d.Devices.TPMs, dev)
	default:
		return fmt.Errorf("unexpected device XML: %s", xml)
	}

	out, err := d.Marshal()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[dom.Name] = out
	m.attachCalls = append(m.attachCalls, xml)
	return nil
}

func (m *mockDomainClient) DomainSetAutostart(dom libvirt.Domain, autostart int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autostartCalls = append(m.autostartCalls, dom.Name)
	return m.autostartErr
}

func (m *mockDomainClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, dom.Name)
	return m.createErr
}

// mockVolumeManager keeps volumes per pool.
type mockVolumeManager struct {
	mu sync.Mutex

	pools   storage.Pools
	volumes map[string]map[string]*storage.VolumeInfo

	// Call tracking
	created []storage.VolumeSpec
	copies  []storage.VolumeRef
	deleted []string
	writes  map[string][]byte
}

func newMockVolumeManager() *mockVolumeManager {
	pools := storage.DefaultPools()
	return &mockVolumeManager{
		pools: pools,
		volumes: map[string]map[string]*storage.VolumeInfo{
			pools.Media: {},
			pools.VMs:   {},
		},
		writes: make(map[string][]byte),
	}
}

// addMedia registers a media volume and returns it.
func (m *mockVolumeManager) addMedia(name string) *storage.VolumeInfo {
	v := &storage.VolumeInfo{
		Name: name,
		Pool: m.pools.Media,
		Path: m.pools.MediaPath + "/" + name,
		Key:  m.pools.MediaPath + "/" + name,
	}
	m.volumes[m.pools.Media][name] = v
	return v
}

func (m *mockVolumeManager) Pools() storage.Pools {
	return m.pools
}

func (m *mockVolumeManager) CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) (*storage.VolumeInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	vols, ok := m.volumes[poolName]
	if !ok {
		return nil, fmt.Errorf("pool not found: %s", poolName)
	}
	if _, ok := vols[spec.Name]; ok {
		return nil, fmt.Errorf("volume already exists: %s", spec.Name)
	}
	if spec.Backing != nil {
		if _, ok := m.volumes[spec.Backing.Pool][spec.Backing.Name]; !ok {
			return nil, fmt.Errorf("backing volume not found: %s", spec.Backing.Name)
		}
	}
	v := &storage.VolumeInfo{
		Name:     spec.Name,
		Pool:     poolName,
		Path:     "/pools/" + poolName + "/" + spec.Name,
		Key:      "/pools/" + poolName + "/" + spec.Name,
		Capacity: spec.CapacityBytes,
	}
	vols[spec.Name] = v
	m.created = append(m.created, spec)
	return v, nil
}

func (m *mockVolumeManager) CopyVolume(ctx context.Context, poolName string, spec storage.VolumeSpec, src storage.VolumeRef) (*storage.VolumeInfo, error) {
	m.mu.Lock()
	_, ok := m.volumes[src.Pool][src.Name]
	if ok {
		m.copies = append(m.copies, src)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("source volume not found: %s", src.Name)
	}
	return m.CreateVolume(ctx, poolName, spec)
}

func (m *mockVolumeManager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.volumes[poolName][volumeName]
	return ok, nil
}

func (m *mockVolumeManager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[poolName][volumeName]; !ok {
		return fmt.Errorf("volume not found: %s", volumeName)
	}
	delete(m.volumes[poolName], volumeName)
	m.deleted = append(m.deleted, volumeName)
	return nil
}

func (m *mockVolumeManager) WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.volumes[poolName][volumeName]; !ok {
		return fmt.Errorf("volume not found: %s", volumeName)
	}
	m.writes[volumeName] = data
	return nil
}

func (m *mockVolumeManager) ListMedia(ctx context.Context) ([]storage.VolumeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.VolumeInfo
	for _, v := range m.volumes[m.pools.Media] {
		out = append(out, *v)
	}
	return out, nil
}
