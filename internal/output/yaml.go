package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/storage"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatReport formats a run report as a YAML document.
func (f *YAMLFormatter) FormatReport(r *pipeline.Report) (string, error) {
	return marshalYAML(r, "report")
}

// FormatDocument formats a decoded document as YAML.
func (f *YAMLFormatter) FormatDocument(doc *v4.Document) (string, error) {
	return marshalYAML(doc, "document")
}

// FormatMediaList formats media volumes as a YAML sequence.
func (f *YAMLFormatter) FormatMediaList(media []storage.VolumeInfo) (string, error) {
	if len(media) == 0 {
		return "[]\n", nil
	}
	return marshalYAML(media, "media list")
}

// FormatHostInfo formats host information as a YAML document.
func (f *YAMLFormatter) FormatHostInfo(info *libvirt.HostInfo) (string, error) {
	return marshalYAML(info, "host info")
}

func marshalYAML(v any, what string) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to YAML: %w", what, err)
	}
	return string(data), nil
}
