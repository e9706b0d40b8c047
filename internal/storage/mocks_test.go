package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// mockLibvirtClient is an in-memory LibvirtClient. Pools and volumes are
// kept in maps so tests can inspect what the manager created.
type mockLibvirtClient struct {
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume

	// For controlling behavior
	buildErr  error
	uploadErr error

	// For verification
	createFromCalls []string // "srcPool/srcName->pool/name"
}

type mockPool struct {
	name      string
	uuid      libvirt.UUID
	state     libvirt.StoragePoolState
	capacity  uint64
	allocated uint64
	available uint64
	xmlDesc   string
	autostart bool
}

type mockVolume struct {
	name      string
	path      string
	capacity  uint64
	allocated uint64
	xmlDesc   string
	data      []byte
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:   make(map[string]*mockPool),
		volumes: make(map[string]map[string]*mockVolume),
	}
}

// addPool registers a running pool.
func (m *mockLibvirtClient) addPool(name string) {
	m.pools[name] = &mockPool{
		name:      name,
		uuid:      libvirt.UUID{0x01, byte(len(m.pools))},
		state:     libvirt.StoragePoolRunning,
		capacity:  1 << 40,
		available: 1 << 40,
		xmlDesc:   fmt.Sprintf(`<pool type="dir"><name>%s</name><target><path>/pools/%s</path></target></pool>`, name, name),
	}
	m.volumes[name] = make(map[string]*mockVolume)
}

// addVolume registers an existing volume.
func (m *mockLibvirtClient) addVolume(pool, name, format string, capacity uint64) {
	m.volumes[pool][name] = &mockVolume{
		name:     name,
		path:     "/pools/" + pool + "/" + name,
		capacity: capacity,
		xmlDesc:  fmt.Sprintf(`<volume><name>%s</name><target><format type="%s"></format></target></volume>`, name, format),
	}
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	pool, ok := m.pools[name]
	if !ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: pool.name, UUID: pool.uuid}, nil
}

func (m *mockLibvirtClient) StoragePoolDefineXML(xml string, flags uint32) (libvirt.StoragePool, error) {
	name := extractTagValue(xml, "name")
	if name == "" {
		return libvirt.StoragePool{}, fmt.Errorf("invalid pool XML: missing name")
	}
	if _, ok := m.pools[name]; ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool already exists: %s", name)
	}

	pool := &mockPool{
		name:      name,
		uuid:      libvirt.UUID{0x02, byte(len(m.pools))},
		state:     libvirt.StoragePoolInactive,
		capacity:  1 << 40,
		available: 1 << 40,
		xmlDesc:   xml,
	}
	m.pools[name] = pool
	m.volumes[name] = make(map[string]*mockVolume)

	return libvirt.StoragePool{Name: pool.name, UUID: pool.uuid}, nil
}

func (m *mockLibvirtClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	p, ok := m.pools[pool.Name]
	if !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	p.state = libvirt.StoragePoolRunning
	return nil
}

func (m *mockLibvirtClient) StoragePoolBuild(pool libvirt.StoragePool, flags libvirt.StoragePoolBuildFlags) error {
	if m.buildErr != nil {
		return m.buildErr
	}
	if _, ok := m.pools[pool.Name]; !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return nil
}

func (m *mockLibvirtClient) StoragePoolSetAutostart(pool libvirt.StoragePool, autostart int32) error {
	p, ok := m.pools[pool.Name]
	if !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	p.autostart = autostart == 1
	return nil
}

func (m *mockLibvirtClient) StoragePoolUndefine(pool libvirt.StoragePool) error {
	if _, ok := m.pools[pool.Name]; !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	delete(m.pools, pool.Name)
	delete(m.volumes, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolGetInfo(pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return uint8(p.state), p.capacity, p.allocated, p.available, nil
}

func (m *mockLibvirtClient) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return "", fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return p.xmlDesc, nil
}

func (m *mockLibvirtClient) StoragePoolListAllVolumes(pool libvirt.StoragePool, needResults int32, flags uint32) ([]libvirt.StorageVol, uint32, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return nil, 0, fmt.Errorf("storage pool not found: %s", pool.Name)
	}

	var result []libvirt.StorageVol
	for _, v := range vols {
		result = append(result, libvirt.StorageVol{Pool: pool.Name, Name: v.name, Key: v.path})
	}
	return result, uint32(len(result)), nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	if _, ok := m.pools[pool.Name]; !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	return nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	v, err := m.volume(pool.Name, name)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: v.name, Key: v.path}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage pool not found: %s", pool.Name)
	}

	var def libvirtxml.StorageVolume
	if err := def.Unmarshal(xml); err != nil {
		return libvirt.StorageVol{}, fmt.Errorf("invalid volume XML: %w", err)
	}
	if def.Name == "" {
		return libvirt.StorageVol{}, fmt.Errorf("invalid volume XML: missing name")
	}
	if _, ok := vols[def.Name]; ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage volume already exists: %s", def.Name)
	}

	vol := &mockVolume{
		name:    def.Name,
		path:    "/pools/" + pool.Name + "/" + def.Name,
		xmlDesc: xml,
	}
	if def.Capacity != nil {
		vol.capacity = def.Capacity.Value
	}
	vols[def.Name] = vol

	return libvirt.StorageVol{Pool: pool.Name, Name: vol.name, Key: vol.path}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clonevol libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	src, err := m.volume(clonevol.Pool, clonevol.Name)
	if err != nil {
		return libvirt.StorageVol{}, err
	}

	vol, err := m.StorageVolCreateXML(pool, xml, 0)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	m.volumes[pool.Name][vol.Name].data = append([]byte(nil), src.data...)
	m.createFromCalls = append(m.createFromCalls, clonevol.Pool+"/"+clonevol.Name+"->"+pool.Name+"/"+vol.Name)
	return vol, nil
}

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if _, err := m.volume(vol.Pool, vol.Name); err != nil {
		return err
	}
	delete(m.volumes[vol.Pool], vol.Name)
	return nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	v, err := m.volume(vol.Pool, vol.Name)
	if err != nil {
		return "", err
	}
	return v.path, nil
}

func (m *mockLibvirtClient) StorageVolGetXMLDesc(vol libvirt.StorageVol, flags uint32) (string, error) {
	v, err := m.volume(vol.Pool, vol.Name)
	if err != nil {
		return "", err
	}
	return v.xmlDesc, nil
}

func (m *mockLibvirtClient) StorageVolGetInfo(vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error) {
	v, err := m.volume(vol.Pool, vol.Name)
	if err != nil {
		return 0, 0, 0, err
	}
	return 0, v.capacity, v.allocated, nil
}

func (m *mockLibvirtClient) StorageVolUpload(vol libvirt.StorageVol, reader io.Reader, offset uint64, length uint64, flags libvirt.StorageVolUploadFlags) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	v, err := m.volume(vol.Pool, vol.Name)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	v.data = data
	v.allocated = uint64(len(data))
	return nil
}

func (m *mockLibvirtClient) volume(pool, name string) (*mockVolume, error) {
	vols, ok := m.volumes[pool]
	if !ok {
		return nil, fmt.Errorf("storage pool not found: %s", pool)
	}
	v, ok := vols[name]
	if !ok {
		return nil, fmt.Errorf("storage volume not found: %s", name)
	}
	return v, nil
}

// Helper function to extract tag value from XML
func extractTagValue(xml, tag string) string {
	start := strings.Index(xml, "<"+tag+">")
	if start == -1 {
		return ""
	}
	start += len(tag) + 2
	end := strings.Index(xml[start:], "</"+tag+">")
	if end == -1 {
		return ""
	}
	return xml[start : start+end]
}
