package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"

	v4 "github.com/jbweber/anvil/api/v4"
)

// GenerateISO creates a cloud-init ISO image for the VM from the declared
// files, laid out and labeled for the datasource.
//
// Returns the ISO image as a byte slice, ready to be uploaded to libvirt storage.
func GenerateISO(vmName string, ds v4.Datasource, declared []v4.CloudInitFile) ([]byte, error) {
	label, err := Label(ds)
	if err != nil {
		return nil, err
	}

	files, err := Files(vmName, ds, declared)
	if err != nil {
		return nil, err
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// The image is already in buf when cleanup runs.
		_ = writer.Cleanup()
	}()

	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.Content)), f.Path); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.Path, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, label); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
