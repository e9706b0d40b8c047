package output

import (
	"encoding/json"
	"fmt"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/storage"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatReport formats a run report as a JSON object.
func (f *JSONFormatter) FormatReport(r *pipeline.Report) (string, error) {
	return marshalJSON(r, "report")
}

// FormatDocument formats a decoded document as a JSON object.
func (f *JSONFormatter) FormatDocument(doc *v4.Document) (string, error) {
	return marshalJSON(doc, "document")
}

// FormatMediaList formats media volumes as a JSON array.
func (f *JSONFormatter) FormatMediaList(media []storage.VolumeInfo) (string, error) {
	if len(media) == 0 {
		return "[]\n", nil
	}
	return marshalJSON(media, "media list")
}

// FormatHostInfo formats host information as a JSON object.
func (f *JSONFormatter) FormatHostInfo(info *libvirt.HostInfo) (string, error) {
	return marshalJSON(info, "host info")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
