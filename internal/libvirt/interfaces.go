package libvirt

import (
	"context"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/anvil/internal/storage"
)

// DomainClient defines the libvirt operations needed to look up
// resources and build VMs.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type DomainClient interface {
	// Domain metadata, see the metadata package
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)

	// ConnectGetHostname returns the hostname of the libvirt host
	ConnectGetHostname() (string, error)

	// ConnectListAllDomains lists defined domains
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	// ConnectListAllNetworks lists defined networks
	ConnectListAllNetworks(NeedResults int32, Flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error)

	// DomainLookupByName looks up a domain by name
	DomainLookupByName(Name string) (libvirt.Domain, error)

	// DomainDefineXML defines (or redefines) a domain from XML
	DomainDefineXML(XML string) (libvirt.Domain, error)

	// DomainGetXMLDesc returns the domain XML
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)

	// DomainAttachDeviceFlags attaches a device to a domain
	DomainAttachDeviceFlags(Dom libvirt.Domain, XML string, Flags uint32) error

	// DomainSetAutostart sets autostart for a domain
	DomainSetAutostart(Dom libvirt.Domain, Autostart int32) error

	// DomainCreate starts a domain
	DomainCreate(Dom libvirt.Domain) error
}

// VolumeManager defines the storage operations needed to build VMs.
//
// In production, this is satisfied by *storage.Manager.
// In tests, this is satisfied by mock implementations.
type VolumeManager interface {
	// Pools returns the media and VMs pool names
	Pools() storage.Pools

	// CreateVolume creates a new volume, optionally as an overlay
	CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) (*storage.VolumeInfo, error)

	// CopyVolume creates a volume holding a full copy of src
	CopyVolume(ctx context.Context, poolName string, spec storage.VolumeSpec, src storage.VolumeRef) (*storage.VolumeInfo, error)

	// VolumeExists checks if a volume exists in a pool
	VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error)

	// DeleteVolume deletes a volume from a pool
	DeleteVolume(ctx context.Context, poolName, volumeName string) error

	// WriteVolumeData writes data to a volume (for cloud-init ISOs)
	WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error

	// ListMedia lists the volumes of the media pool
	ListMedia(ctx context.Context) ([]storage.VolumeInfo, error)
}
