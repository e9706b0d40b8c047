package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/naming"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/storage"
	"github.com/jbweber/anvil/internal/units"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatReport formats a run report. A preview lists the planned
// operations of every entry; an executed run lists one row per entry.
func (f *TableFormatter) FormatReport(r *pipeline.Report) (string, error) {
	if r == nil || len(r.Entries) == 0 {
		return "No VMs in document\n", nil
	}
	if r.Mode == "preview" {
		return f.formatPlans(r), nil
	}
	return f.formatResults(r), nil
}

func (f *TableFormatter) formatPlans(r *pipeline.Report) string {
	var buf bytes.Buffer

	for i := range r.Entries {
		e := &r.Entries[i]
		if i > 0 {
			buf.WriteString("\n")
		}
		if e.Plan == nil {
			_, _ = fmt.Fprintf(&buf, "%s: not planned (%s failed): %s\n", entryName(e), e.Stage, e.Error)
			continue
		}

		_, _ = fmt.Fprintf(&buf, "%s: %d operations\n", entryName(e), len(e.Plan.Operations))
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		if !f.NoHeaders {
			_, _ = fmt.Fprintln(w, "STEP\tKIND\tNAME\tDETAIL")
		}
		for j := range e.Plan.Operations {
			op := &e.Plan.Operations[j]
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", j+1, op.Kind, op.Name, operationDetail(op))
		}
		_ = w.Flush()
	}

	return buf.String()
}

func (f *TableFormatter) formatResults(r *pipeline.Report) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tPHASE\tVM ID\tCREATED\tERROR")
	}
	for i := range r.Entries {
		e := &r.Entries[i]
		vmID, created := "-", 0
		if e.Result != nil {
			if e.Result.VMID != 0 {
				vmID = fmt.Sprintf("%d", e.Result.VMID)
			}
			created = len(e.Result.Created)
		}
		errMsg := "-"
		if e.Error != "" {
			errMsg = e.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", entryName(e), e.Phase(), vmID, created, errMsg)
	}

	_ = w.Flush()
	return buf.String()
}

func entryName(e *pipeline.EntryReport) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("entry %d", e.Index)
}

// operationDetail summarizes the parameters of an operation.
func operationDetail(op *v4.Operation) string {
	var parts []string
	switch {
	case op.VM != nil:
		parts = append(parts, fmt.Sprintf("%d cores", op.VM.CPUCores), units.Format(int64(op.VM.RAM), units.Memory))
		if op.VM.UEFI {
			parts = append(parts, "uefi")
		}
	case op.CloudInitFile != nil:
		parts = append(parts, fmt.Sprintf("%d bytes", len(op.CloudInitFile.Content)))
	case op.Drive != nil:
		parts = append(parts, string(op.Drive.Media))
		if op.Drive.Interface != "" {
			parts = append(parts, string(op.Drive.Interface))
		}
		if op.Drive.Size > 0 {
			parts = append(parts, units.Format(int64(op.Drive.Size), units.Disk))
		}
		if !op.Drive.MediaSource.IsZero() {
			parts = append(parts, "from "+op.Drive.MediaSource.String())
		}
	case op.NIC != nil:
		parts = append(parts, "network "+op.NIC.Network.String())
		if op.NIC.Interface != "" {
			parts = append(parts, string(op.NIC.Interface))
		}
		if op.NIC.MAC != "" {
			parts = append(parts, op.NIC.MAC)
		}
	case op.Device != nil:
		parts = append(parts, string(op.Device.Type))
		if op.Device.Model != "" {
			parts = append(parts, op.Device.Model)
		}
		if op.Device.Version != "" {
			parts = append(parts, op.Device.Version)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// FormatDocument formats the effective VMs of a document, one row each.
// DISK is the total size of the disk drives.
func (f *TableFormatter) FormatDocument(doc *v4.Document) (string, error) {
	if doc == nil || len(doc.VMs) == 0 {
		return "No VMs in document\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tCORES\tRAM\tDISK\tDRIVES\tNICS\tCLUSTER")
	}
	for i := range doc.VMs {
		vm := &doc.VMs[i]
		var disk int64
		for _, d := range vm.Drives {
			disk += int64(d.Size)
		}
		cluster := "-"
		if !vm.Cluster.IsZero() {
			cluster = vm.Cluster.String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%d\t%s\n", vm.Name, vm.CPUCores,
			units.Format(int64(vm.RAM), units.Memory), units.Format(disk, units.Disk),
			len(vm.Drives), len(vm.NICs), cluster)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatMediaList formats media volumes as a table. The ID column is the
// numeric id a template can use instead of the media name.
func (f *TableFormatter) FormatMediaList(media []storage.VolumeInfo) (string, error) {
	if len(media) == 0 {
		return "No media found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tID\tSIZE\tPATH")
	}
	for i := range media {
		m := &media[i]
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.1f GB\t%s\n", m.Name, naming.KeyID(m.Key), m.CapacityGB(), m.Path)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatHostInfo formats host information as key/value rows.
func (f *TableFormatter) FormatHostInfo(info *libvirt.HostInfo) (string, error) {
	if info == nil {
		return "", fmt.Errorf("host info cannot be nil")
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Socket:\t%s\n", info.Socket)
	_, _ = fmt.Fprintf(w, "Hostname:\t%s\n", info.Hostname)
	_, _ = fmt.Fprintf(w, "libvirt:\t%s\n", info.Version)
	_ = w.Flush()
	return buf.String(), nil
}
