// Package metadata stores the anvil VM record in libvirt's custom XML
// domain metadata, so the record of what anvil built persists with the
// domain itself.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	v4 "github.com/jbweber/anvil/api/v4"
)

const (
	// MetadataNamespace is the XML namespace for anvil metadata.
	MetadataNamespace = "https://github.com/jbweber/anvil/v4"

	// MetadataKey is the element prefix used for anvil metadata.
	MetadataKey = "anvil"
)

// Client is the subset of libvirt used for domain metadata.
type Client interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// Record is what anvil knows about a VM it built. VM starts as the
// settings of the creation step and gains one child per completed
// operation, so after a partial build it lists exactly what exists.
type Record struct {
	APIVersion string     `yaml:"apiVersion"`
	CreatedAt  v4.Time    `yaml:"createdAt"`
	Source     string     `yaml:"source,omitempty"`
	VM         *v4.VMSpec `yaml:"vm"`
}

// NewRecord returns a record for a VM created from settings.
func NewRecord(settings *v4.VMSpec) *Record {
	return &Record{
		APIVersion: v4.APIVersion,
		CreatedAt:  v4.Now(),
		VM:         settings.DeepCopy(),
	}
}

// anvilMetadata is the XML element stored in the domain. The record is
// kept as YAML text so it stays readable in virsh dumpxml.
type anvilMetadata struct {
	XMLName    xml.Name `xml:"record"`
	Xmlns      string   `xml:"xmlns,attr"`
	RecordYAML string   `xml:",chardata"`
}

// Store saves rec to the domain metadata, replacing any previous record.
func Store(l Client, domain libvirt.Domain, rec *Record) error {
	if rec == nil || rec.VM == nil {
		return fmt.Errorf("record cannot be empty")
	}

	yamlData, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal VM record to YAML: %w", err)
	}

	xmlData, err := xml.Marshal(anvilMetadata{
		Xmlns:      MetadataNamespace,
		RecordYAML: "\n" + string(yamlData),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	err = l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{MetadataKey},
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load retrieves the record from the domain metadata.
func Load(l Client, domain libvirt.Domain) (*Record, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var md anvilMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var rec Record
	if err := yaml.Unmarshal([]byte(md.RecordYAML), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VM record from YAML: %w", err)
	}
	if rec.VM == nil {
		return nil, fmt.Errorf("metadata holds no VM record")
	}
	return &rec, nil
}

// Update loads the record, applies mutate and stores the result.
func Update(l Client, domain libvirt.Domain, mutate func(*Record) error) (*Record, error) {
	rec, err := Load(l, domain)
	if err != nil {
		return nil, err
	}
	if err := mutate(rec); err != nil {
		return nil, err
	}
	if err := Store(l, domain, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Exists checks if anvil metadata exists for a domain.
func Exists(l Client, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{MetadataNamespace},
		libvirt.DomainAffectConfig,
	)
	return err == nil
}
