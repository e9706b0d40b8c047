package v4

import (
	"reflect"
	"testing"
)

func TestMergeSetEntry_EntryDrivesReplaceDefaults(t *testing.T) {
	defaults := map[string]any{
		"os_family": "linux",
		"cpu_cores": 2,
		"drives":    []any{map[string]any{"name": "A", "size": "10GB"}},
	}
	entry := map[string]any{
		"name":   "web-01",
		"drives": []any{map[string]any{"name": "B", "size": "20GB"}},
	}

	got := MergeSetEntry(defaults, entry)

	want := []any{map[string]any{"name": "B", "size": "20GB"}}
	if !reflect.DeepEqual(got["drives"], want) {
		t.Errorf("drives = %v, want exactly %v", got["drives"], want)
	}
	if got["cpu_cores"] != 2 || got["os_family"] != "linux" {
		t.Errorf("scalar defaults not carried over: %v", got)
	}
	if got["name"] != "web-01" {
		t.Errorf("name = %v, want web-01", got["name"])
	}
}

func TestMergeSetEntry_MissingCollectionInheritsDefaults(t *testing.T) {
	defaults := map[string]any{
		"drives": []any{map[string]any{"name": "A"}},
		"nics":   []any{map[string]any{"network": "lan"}},
	}
	entry := map[string]any{"name": "db-01"}

	got := MergeSetEntry(defaults, entry)

	if !reflect.DeepEqual(got["drives"], []any{map[string]any{"name": "A"}}) {
		t.Errorf("drives = %v, want [A]", got["drives"])
	}
	if !reflect.DeepEqual(got["nics"], []any{map[string]any{"network": "lan"}}) {
		t.Errorf("nics = %v, want defaults", got["nics"])
	}
}

func TestMergeSetEntry_ScalarOverrideAndCloudInitReplacement(t *testing.T) {
	defaults := map[string]any{
		"cpu_cores": 2,
		"cloudinit": map[string]any{
			"datasource": "nocloud",
			"files":      []any{map[string]any{"name": "user-data", "content": "a"}},
		},
	}
	entry := map[string]any{
		"cpu_cores": 8,
		"cloudinit": map[string]any{"datasource": "config_drive_v2"},
	}

	got := MergeSetEntry(defaults, entry)

	if got["cpu_cores"] != 8 {
		t.Errorf("cpu_cores = %v, want 8", got["cpu_cores"])
	}
	ci := got["cloudinit"].(map[string]any)
	if _, ok := ci["files"]; ok {
		t.Errorf("cloudinit should be replaced wholesale, got %v", ci)
	}
}

func TestMergeSetEntry_DoesNotAliasInputs(t *testing.T) {
	defaults := map[string]any{
		"drives": []any{map[string]any{"name": "A"}},
	}
	entry := map[string]any{"name": "x"}

	got := MergeSetEntry(defaults, entry)
	got["drives"].([]any)[0].(map[string]any)["name"] = "changed"
	got["name"] = "y"

	if defaults["drives"].([]any)[0].(map[string]any)["name"] != "A" {
		t.Error("mutating the result changed defaults")
	}
	if entry["name"] != "x" {
		t.Error("mutating the result changed the entry")
	}
}

func TestMergeSetEntry_EmptyEntryListStillReplaces(t *testing.T) {
	defaults := map[string]any{"devices": []any{map[string]any{"type": "tpm"}}}
	entry := map[string]any{"devices": []any{}}

	got := MergeSetEntry(defaults, entry)
	if devs := got["devices"].([]any); len(devs) != 0 {
		t.Errorf("devices = %v, want empty", devs)
	}
}
