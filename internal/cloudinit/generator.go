// Package cloudinit assembles the cloud-init data a VM boots with.
//
// The files come from the document's cloudinit block. They are laid out
// for the declared datasource: NoCloud (volume label "CIDATA", files in the
// root directory) or OpenStack config drive v2 (volume label "config-2",
// files under openstack/latest).
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
// and https://cloudinit.readthedocs.io/en/latest/reference/datasources/configdrive.html
package cloudinit

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	v4 "github.com/jbweber/anvil/api/v4"
)

// Volume labels required by each datasource.
const (
	LabelNoCloud     = "CIDATA"
	LabelConfigDrive = "config-2"
)

// File is one file placed on the cloud-init ISO.
type File struct {
	Path    string
	Content string
}

// MetaData represents the NoCloud meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// nocloudPaths maps document file names to NoCloud file names.
var nocloudPaths = map[string]string{
	"user-data":    "user-data",
	"meta-data":    "meta-data",
	"vendor-data":  "vendor-data",
	"network-data": "network-config",
}

// configDrivePaths maps document file names to config drive v2 paths.
var configDrivePaths = map[string]string{
	"user-data":    "openstack/latest/user_data",
	"meta-data":    "openstack/latest/meta_data.json",
	"vendor-data":  "openstack/latest/vendor_data.json",
	"network-data": "openstack/latest/network_data.json",
}

// Label returns the ISO volume label for a datasource.
func Label(ds v4.Datasource) (string, error) {
	switch ds {
	case v4.DatasourceNoCloud, "":
		return LabelNoCloud, nil
	case v4.DatasourceConfigDriveV2:
		return LabelConfigDrive, nil
	default:
		return "", fmt.Errorf("unsupported cloud-init datasource %q", ds)
	}
}

// Files lays out the declared files for the datasource. When no meta-data
// file is declared one is generated from the VM name, since both
// datasources require it.
func Files(vmName string, ds v4.Datasource, declared []v4.CloudInitFile) ([]File, error) {
	if vmName == "" {
		return nil, fmt.Errorf("VM name cannot be empty")
	}

	paths := nocloudPaths
	if ds == v4.DatasourceConfigDriveV2 {
		paths = configDrivePaths
	} else if _, err := Label(ds); err != nil {
		return nil, err
	}

	var files []File
	hasMeta := false
	for _, f := range declared {
		p, ok := paths[f.Name]
		if !ok {
			return nil, fmt.Errorf("unsupported cloud-init file %q", f.Name)
		}
		if f.Name == "meta-data" {
			hasMeta = true
		}
		files = append(files, File{Path: p, Content: f.Content})
	}

	if !hasMeta {
		content, err := GenerateMetaData(vmName, ds)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: paths["meta-data"], Content: content})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// GenerateMetaData generates default meta-data for a VM.
//
// The instance-id is set to the VM name. Cloud-init uses instance-id to
// determine if this is a first boot, so it re-runs when a VM is recreated
// with the same name.
func GenerateMetaData(vmName string, ds v4.Datasource) (string, error) {
	if vmName == "" {
		return "", fmt.Errorf("VM name cannot be empty")
	}

	if ds == v4.DatasourceConfigDriveV2 {
		data, err := json.Marshal(map[string]string{
			"uuid":     vmName,
			"hostname": vmName,
			"name":     vmName,
		})
		if err != nil {
			return "", fmt.Errorf("failed to marshal meta_data.json: %w", err)
		}
		return string(data), nil
	}

	metaData := MetaData{
		InstanceID:    vmName,
		LocalHostname: vmName,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
