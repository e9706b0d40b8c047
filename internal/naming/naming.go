// Package naming provides the naming conventions for libvirt resources
// created by anvil: volume names, disk target devices, deterministic MAC
// addresses and the numeric ids handed back to the builder.
//
// libvirt identifies domains and networks by UUID and volumes by key, while
// the builder works with positive integer ids. Ids are derived from those
// identities so that the same resource always maps to the same id.
package naming

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the UUID namespace for ids derived from strings.
var Namespace = uuid.MustParse("6f1c8a2e-3b7d-5e90-a4c1-2d8f0b6e7a35")

// ID maps a UUID to a positive id that fits in 53 bits, so it survives a
// round trip through JSON numbers.
func ID(u uuid.UUID) int64 {
	id := int64(binary.BigEndian.Uint64(u[:8]) >> 11)
	if id == 0 {
		return 1
	}
	return id
}

// KeyID returns the id of a resource identified by a string key, such as
// a storage volume key.
func KeyID(key string) int64 {
	return ID(uuid.NewSHA1(Namespace, []byte(key)))
}

// ChildID returns the id of the index-th child of the given kind attached
// to the resource identified by parent.
func ChildID(parent uuid.UUID, kind string, index int) int64 {
	return ID(uuid.NewSHA1(parent, []byte(fmt.Sprintf("%s/%d", kind, index))))
}

// MACFor returns a deterministic, locally administered MAC address for the
// index-th NIC of a VM. Uses the be:ef: prefix.
//
// Example: be:ef:5d:0c:91:3a
func MACFor(vm uuid.UUID, index int) string {
	h := uuid.NewSHA1(vm, []byte(fmt.Sprintf("mac/%d", index)))
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", h[0], h[1], h[2], h[3])
}

// VolumeNameDrive returns the volume name for a VM drive.
// Format: {vmName}_{driveName}.{format} (e.g., "web-01_root.qcow2")
func VolumeNameDrive(vmName, driveName, format string) string {
	return fmt.Sprintf("%s_%s.%s", vmName, driveName, format)
}

// VolumeNameCloudInit returns the volume name for a VM's cloud-init ISO.
// Format: {vmName}_cloudinit.iso
func VolumeNameCloudInit(vmName string) string {
	return fmt.Sprintf("%s_cloudinit.iso", vmName)
}

// VolumeNameEFIVars returns the volume name holding a VM's UEFI variables.
// Format: {vmName}_VARS.fd
func VolumeNameEFIVars(vmName string) string {
	return fmt.Sprintf("%s_VARS.fd", vmName)
}

// DiskTarget returns the guest device name of the index-th disk on a bus
// with the given prefix ("vd", "sd", "hd").
//
// Example: DiskTarget("vd", 0) → vda, DiskTarget("sd", 26) → sdaa
func DiskTarget(prefix string, index int) string {
	return prefix + diskLetters(index)
}

// diskLetters follows the libvirt scheme: a..z, aa..zz, aaa...
func diskLetters(index int) string {
	var b strings.Builder
	var letters []byte
	for n := index; ; n = n/26 - 1 {
		letters = append(letters, byte('a'+n%26))
		if n < 26 {
			break
		}
	}
	for i := len(letters) - 1; i >= 0; i-- {
		b.WriteByte(letters[i])
	}
	return b.String()
}
