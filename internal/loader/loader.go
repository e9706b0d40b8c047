// Package loader reads template documents: it extracts the vars block,
// overlays the environment, substitutes ${NAME} references, parses the
// result and applies --set overrides. The returned tree is not validated.
package loader

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a loaded template document.
type Document struct {
	// Tree is the parsed, substituted and overridden document.
	Tree map[string]any
	// Vars is the variable context used for substitution.
	Vars map[string]string
	// Source names where the document came from, if known.
	Source string
}

// Options control how a document is loaded.
type Options struct {
	// Env is the environment snapshot. A variable referenced by the
	// document overrides the vars entry of the same name.
	Env map[string]string
	// Overrides are "path=value" assignments applied after parsing.
	Overrides []string
}

// MissingVariableError reports every variable reference that had no value
// and no default.
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("undefined variables: %s (define them under vars:, in the environment, or use ${NAME:-default})",
		strings.Join(e.Names, ", "))
}

// InvalidReferenceError reports ${...} text that is not a well-formed
// reference, such as ${foo-bar}, ${1X} or an unclosed ${NAME.
type InvalidReferenceError struct {
	Refs []string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid variable references: %s (use ${NAME} or ${NAME:-default}, or $${ for a literal ${)",
		strings.Join(e.Refs, ", "))
}

// tokenPattern matches an escaped "$${", a ${NAME} / ${NAME:-default}
// reference, or any other ${ up to the closing brace or end of line.
var tokenPattern = regexp.MustCompile(`\$\$\{|\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$\{[^}\n]*\}?`)

// EnvFromOS returns the current process environment as a map.
func EnvFromOS() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// LoadFile loads a document from a file.
func LoadFile(path string, opts Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	doc, err := LoadBytes(data, opts)
	if err != nil {
		return nil, err
	}
	doc.Source = path
	return doc, nil
}

// LoadBytes loads a document from raw text.
func LoadBytes(data []byte, opts Options) (*Document, error) {
	text := string(data)

	vars, err := extractVars(text)
	if err != nil {
		return nil, err
	}

	if bad := invalidReferences(text); len(bad) > 0 {
		return nil, &InvalidReferenceError{Refs: bad}
	}

	for _, name := range referencedNames(text) {
		if v, ok := opts.Env[name]; ok {
			vars[name] = v
		}
	}

	substituted, missing := Substitute(text, vars)
	if len(missing) > 0 {
		return nil, &MissingVariableError{Names: missing}
	}

	var root any
	if err := yaml.Unmarshal([]byte(substituted), &root); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("document is empty")
	}
	tree, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document root must be a mapping, got %T", root)
	}

	for _, o := range opts.Overrides {
		if err := ApplyOverride(tree, o); err != nil {
			return nil, err
		}
	}

	return &Document{Tree: tree, Vars: vars}, nil
}

// Substitute replaces ${NAME} and ${NAME:-default} references in text.
// "$${" is written out as a literal "${" and malformed references are left
// as they are. It returns the substituted text and the names that had
// neither a value nor a default, deduplicated in order of first appearance.
func Substitute(text string, vars map[string]string) (string, []string) {
	var missing []string
	seen := make(map[string]bool)

	out := tokenPattern.ReplaceAllStringFunc(text, func(tok string) string {
		if tok == "$${" {
			return "${"
		}
		m := tokenPattern.FindStringSubmatch(tok)
		name := m[1]
		if name == "" {
			return tok
		}
		if v, ok := vars[name]; ok {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return tok
	})

	return out, missing
}

// referencedNames returns the variable names used by ${...} references.
func referencedNames(text string) []string {
	var names []string
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			names = append(names, m[1])
		}
	}
	return names
}

// invalidReferences returns the malformed ${...} tokens of text,
// deduplicated in order of first appearance.
func invalidReferences(text string) []string {
	var bad []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		if m[0] == "$${" || m[1] != "" || seen[m[0]] {
			continue
		}
		seen[m[0]] = true
		bad = append(bad, m[0])
	}
	return bad
}

// extractVars returns the document's vars block. The raw text may not be
// valid YAML before substitution (a reference used as a number, say), in
// which case only the top-level vars block is parsed.
func extractVars(text string) (map[string]string, error) {
	var head struct {
		Vars map[string]any `yaml:"vars"`
	}
	if err := yaml.Unmarshal([]byte(text), &head); err != nil {
		block := varsBlock(text)
		if block == "" {
			return map[string]string{}, nil
		}
		head.Vars = nil
		if err := yaml.Unmarshal([]byte(block), &head); err != nil {
			return nil, fmt.Errorf("failed to parse vars block: %w", err)
		}
	}

	vars := make(map[string]string, len(head.Vars))
	for k, v := range head.Vars {
		switch val := v.(type) {
		case nil:
			vars[k] = ""
		case string:
			vars[k] = val
		case bool, int, int64, uint64, float64:
			vars[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("vars.%s must be a scalar value, got %T", k, v)
		}
	}
	return vars, nil
}

// varsBlock returns the lines of the top-level vars mapping.
func varsBlock(text string) string {
	lines := strings.Split(text, "\n")
	var block []string
	in := false
	for _, line := range lines {
		if !in {
			if strings.HasPrefix(line, "vars:") {
				in = true
				block = append(block, line)
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || line[0] == ' ' || line[0] == '\t' {
			block = append(block, line)
			continue
		}
		break
	}
	return strings.Join(block, "\n")
}

// Marshal renders a loaded tree back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(d.Tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document to YAML: %w", err)
	}
	return data, nil
}
