// Package output provides formatters for displaying anvil results
// in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/storage"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format for declarative configs.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// Formatter formats anvil results for output.
type Formatter interface {
	// FormatReport formats the outcome of a create or plan run.
	FormatReport(r *pipeline.Report) (string, error)

	// FormatDocument formats the effective VMs of a validated document.
	FormatDocument(doc *v4.Document) (string, error)

	// FormatMediaList formats the volumes of the media pool.
	FormatMediaList(media []storage.VolumeInfo) (string, error)

	// FormatHostInfo formats the connected libvirt host.
	FormatHostInfo(info *libvirt.HostInfo) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
