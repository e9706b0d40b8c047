package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Magic bytes and signatures for media format detection
var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// iso9660Magic is the standard identifier of the primary volume
	// descriptor, found at isoMagicOffset.
	iso9660Magic   = []byte("CD001")
	isoMagicOffset = int64(0x8001)

	// mbrSignature is the boot sector signature at offset 510. GPT disks
	// carry it too in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectImageFormat detects the media format of a file by reading magic
// bytes. QCOW2 images, ISO 9660 images and bootable raw disks are
// accepted; anything else is rejected so arbitrary data files never end
// up in the media pool.
//
// Hybrid ISOs carry both an MBR signature and an ISO 9660 descriptor and
// are reported as ISO.
func DetectImageFormat(filePath string) (VolumeFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return detectFormat(f)
}

func detectFormat(r io.ReaderAt) (VolumeFormat, error) {
	magic := make([]byte, 4)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}

	iso := make([]byte, len(iso9660Magic))
	if _, err := r.ReadAt(iso, isoMagicOffset); err == nil && bytes.Equal(iso, iso9660Magic) {
		return VolumeFormatISO, nil
	}

	sig := make([]byte, 2)
	if _, err := r.ReadAt(sig, 510); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return VolumeFormatRaw, nil
	}

	return "", fmt.Errorf("unsupported or invalid image: not qcow2, not ISO 9660 and missing boot sector signature (0x55aa at offset 510)")
}

// extension returns the file extension media of this format is stored
// under.
func (f VolumeFormat) extension() string {
	switch f {
	case VolumeFormatQCOW2:
		return ".qcow2"
	case VolumeFormatISO:
		return ".iso"
	}
	return ".raw"
}
