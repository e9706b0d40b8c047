// Package libvirt connects anvil to a libvirt host.
//
// Client wraps github.com/digitalocean/go-libvirt connection handling:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Backend implements both sides of a build against that connection. As a
// reference lookup it maps the cluster and node kinds to the connected
// host, networks to libvirt networks and media to volumes of the media
// pool. As a provisioner it defines the domain from the VM settings, then
// attaches each drive, NIC and device to the persistent definition one
// operation at a time:
//
//	pools := storage.NewManager(client.Libvirt(), storage.DefaultPools())
//	backend := libvirt.NewBackend(client.Libvirt(), pools)
//
// Every completed operation is also added to the anvil record kept in the
// domain metadata (see the metadata package), so a failed build leaves a
// domain whose record lists exactly what exists.
//
// The libvirt operations are consumed through the DomainClient and
// VolumeManager interfaces; *libvirt.Libvirt and *storage.Manager satisfy
// them, and tests substitute in-memory fakes.
package libvirt
