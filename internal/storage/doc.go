// Package storage provides libvirt storage pool, volume and media
// management.
//
// anvil keeps two directory pools:
//   - anvil-media: media sources such as installer ISOs and disk images
//     that drives import, clone or attach
//   - anvil-vms: per-VM volumes (drives, EFI variables, cloud-init ISOs)
//
// Volume names follow the scheme of the naming package, for example
// web-01_root.qcow2 or web-01_cloudinit.iso.
//
// Imported media is validated by magic bytes: QCOW2 ("QFI\xfb" at
// offset 0), ISO 9660 ("CD001" at 0x8001) and bootable raw disks (0x55aa
// at offset 510).
//
// Example usage:
//
//	mgr := storage.NewManager(client.Libvirt(), storage.DefaultPools())
//	if err := mgr.EnsureDefaultPools(ctx); err != nil {
//	    return err
//	}
//
//	media, err := mgr.ImportMedia(ctx, "/tmp/debian-12.qcow2", "debian-12")
//	if err != nil {
//	    return err
//	}
//
//	// Overlay on the imported media
//	_, err = mgr.CreateVolume(ctx, storage.DefaultVMsPool, storage.VolumeSpec{
//	    Name:          "web-01_root.qcow2",
//	    Format:        storage.VolumeFormatQCOW2,
//	    CapacityBytes: 20 << 30,
//	    Backing:       &storage.VolumeRef{Pool: media.Pool, Name: media.Name},
//	})
package storage
