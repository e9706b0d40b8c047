package loader

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const stagingDoc = `
apiVersion: v4
kind: VirtualMachine
vars:
  env: staging
vm:
  name: "${env}-web-01"
  os_family: linux
`

func vmField(t *testing.T, doc *Document, key string) any {
	t.Helper()
	vm, ok := doc.Tree["vm"].(map[string]any)
	if !ok {
		t.Fatalf("vm is %T, want mapping", doc.Tree["vm"])
	}
	return vm[key]
}

func TestLoadBytes_VarsSubstitution(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if got := vmField(t, doc, "name"); got != "staging-web-01" {
		t.Errorf("Expected name 'staging-web-01', got %v", got)
	}
	if doc.Vars["env"] != "staging" {
		t.Errorf("Expected vars env=staging, got %v", doc.Vars)
	}
}

func TestLoadBytes_EnvironmentWins(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{Env: map[string]string{"env": "production"}})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if got := vmField(t, doc, "name"); got != "production-web-01" {
		t.Errorf("Expected name 'production-web-01', got %v", got)
	}
}

func TestLoadBytes_UnreferencedEnvIgnored(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{Env: map[string]string{"HOME": "/root"}})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if _, ok := doc.Vars["HOME"]; ok {
		t.Error("environment variables not referenced by the document should not enter the context")
	}
}

func TestLoadBytes_MissingVariables(t *testing.T) {
	input := `
apiVersion: v4
kind: VirtualMachine
vm:
  name: ${VM_NAME}
  description: ${OWNER} owns ${VM_NAME}
  os_family: ${OS:-linux}
`

	_, err := LoadBytes([]byte(input), Options{})
	if err == nil {
		t.Fatal("Expected error for undefined variables")
	}

	var missing *MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected *MissingVariableError, got %T: %v", err, err)
	}
	want := []string{"VM_NAME", "OWNER"}
	if !reflect.DeepEqual(missing.Names, want) {
		t.Errorf("Expected missing %v, got %v", want, missing.Names)
	}
}

func TestLoadBytes_InvalidReferences(t *testing.T) {
	input := `
apiVersion: v4
kind: VirtualMachine
vm:
  name: ${foo-bar}
  description: ${1X} and ${foo-bar}
  advanced_options: "${UNCLOSED"
  os_family: ${OS:-linux}
`

	_, err := LoadBytes([]byte(input), Options{})
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected *InvalidReferenceError, got %T: %v", err, err)
	}
	want := []string{"${foo-bar}", "${1X}", `${UNCLOSED"`}
	if !reflect.DeepEqual(invalid.Refs, want) {
		t.Errorf("Expected invalid %v, got %v", want, invalid.Refs)
	}
}

func TestLoadBytes_EscapedMalformedReference(t *testing.T) {
	input := `
apiVersion: v4
kind: VirtualMachine
vm:
  advanced_options: "echo $${foo-bar}"
`

	doc, err := LoadBytes([]byte(input), Options{})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if got := vmField(t, doc, "advanced_options"); got != "echo ${foo-bar}" {
		t.Errorf("Expected literal ${foo-bar}, got %v", got)
	}
}

func TestLoadBytes_Defaults(t *testing.T) {
	input := `
apiVersion: v4
kind: VirtualMachine
vm:
  name: ${NAME:-fallback}
  description: "${DESC:-}"
  cpu_cores: ${CORES:-4}
`

	doc, err := LoadBytes([]byte(input), Options{Env: map[string]string{"CORES": "8"}})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if got := vmField(t, doc, "name"); got != "fallback" {
		t.Errorf("Expected name 'fallback', got %v", got)
	}
	if got := vmField(t, doc, "description"); got != "" {
		t.Errorf("Expected empty description, got %v", got)
	}
	if got := vmField(t, doc, "cpu_cores"); got != 8 {
		t.Errorf("Expected cpu_cores 8 (int), got %#v", got)
	}
}

func TestLoadBytes_EscapedReference(t *testing.T) {
	input := `
apiVersion: v4
kind: VirtualMachine
vm:
  advanced_options: "echo $${HOME}"
`

	doc, err := LoadBytes([]byte(input), Options{})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if got := vmField(t, doc, "advanced_options"); got != "echo ${HOME}" {
		t.Errorf("Expected literal ${HOME}, got %v", got)
	}
}

func TestExtractVars_FallsBackToVarsBlock(t *testing.T) {
	input := "apiVersion: v4\nvars:\n  A: \"1\"\n\n  B: two\nvm: [unclosed\n"

	vars, err := extractVars(input)
	if err != nil {
		t.Fatalf("extractVars() error = %v", err)
	}
	want := map[string]string{"A": "1", "B": "two"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("Expected %v, got %v", want, vars)
	}
}

func TestLoadBytes_FlowMappingReference(t *testing.T) {
	input := `apiVersion: v4
kind: VirtualMachine
vars:
  CORES: "2"
  # comment
vm: {name: db-01, cpu_cores: ${CORES}}
`

	doc, err := LoadBytes([]byte(input), Options{})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if got := vmField(t, doc, "cpu_cores"); got != 2 {
		t.Errorf("Expected cpu_cores 2, got %#v", got)
	}
}

func TestLoadBytes_SetOverrideCoercesInt(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{Overrides: []string{"vm.cpu_cores=2"}})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	got := vmField(t, doc, "cpu_cores")
	if n, ok := got.(int); !ok || n != 2 {
		t.Errorf("Expected integer 2, got %#v", got)
	}
}

func TestLoadBytes_OverridesAfterSubstitution(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{
		Overrides: []string{"vm.name=first", "vm.name=second", "vm.cloudinit.datasource=nocloud"},
	})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	if got := vmField(t, doc, "name"); got != "second" {
		t.Errorf("Expected later override to win, got %v", got)
	}
	ci, ok := vmField(t, doc, "cloudinit").(map[string]any)
	if !ok || ci["datasource"] != "nocloud" {
		t.Errorf("Expected intermediate mapping to be created, got %v", vmField(t, doc, "cloudinit"))
	}
}

func TestLoadBytes_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		overrides []string
	}{
		{name: "empty document", input: ""},
		{name: "list root", input: "- a\n- b\n"},
		{name: "malformed yaml", input: "vm: [unclosed\n"},
		{name: "non-scalar var", input: "vars:\n  env: [a, b]\nvm: {}\n"},
		{name: "override without equals", input: "vm: {}\n", overrides: []string{"vm.name"}},
		{name: "override empty segment", input: "vm: {}\n", overrides: []string{"vm..name=x"}},
		{name: "override through scalar", input: "vm: {name: x}\n", overrides: []string{"vm.name.first=y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.input), Options{Overrides: tt.overrides})
			if err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "web.vrg.yaml")
	if err := os.WriteFile(path, []byte(stagingDoc), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	doc, err := LoadFile(path, Options{})
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if doc.Source != path {
		t.Errorf("Expected source %s, got %s", path, doc.Source)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml"), Options{}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDocument_Marshal(t *testing.T) {
	doc, err := LoadBytes([]byte(stagingDoc), Options{})
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	again, err := LoadBytes(data, Options{})
	if err != nil {
		t.Fatalf("reloading marshaled document: %v", err)
	}
	if got := vmField(t, again, "name"); got != "staging-web-01" {
		t.Errorf("Expected name to survive marshaling, got %v", got)
	}
}
