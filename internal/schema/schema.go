// Package schema validates loaded template documents and decodes them into
// the typed model of api/v4.
//
// Validation runs on the generic tree produced by the loader, after
// substitution and overrides and before any name resolution. Defaults are
// filled in first, then every field is checked against its declared type,
// enumeration and bounds. All violations are collected and reported
// together.
package schema

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/units"
)

// Violation is one field-level schema failure.
type Violation struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ValidationError carries every violation found in a document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0].String()
	}
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = "  - " + v.String()
	}
	return fmt.Sprintf("validation failed with %d violations:\n%s", len(e.Violations), strings.Join(lines, "\n"))
}

// Entry is one VM object of a document, ready for VM-level validation.
type Entry struct {
	// Index is the position in vms, 0 for a VirtualMachine document.
	Index int
	// Name is the effective VM name, empty if none was declared.
	Name string
	// Path prefixes violations for this entry: "vm" or "vms[i]".
	Path string
	// Object is the VM object; for a set entry, defaults merged with the
	// entry.
	Object map[string]any
}

type collector struct {
	violations []Violation
}

func (c *collector) add(field, format string, args ...any) {
	c.violations = append(c.violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *collector) err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: c.violations}
}

// Validate checks a whole document: document-level structure plus every VM
// it declares.
func Validate(tree map[string]any) error {
	c := &collector{}
	entries := checkDocument(c, tree)
	for _, e := range entries {
		checkVM(c, e.Path, e.Object)
	}
	return c.err()
}

// ValidateDocument checks only the document-level structure: apiVersion,
// kind, the payload shape, vars and set-level rules.
func ValidateDocument(tree map[string]any) error {
	c := &collector{}
	checkDocument(c, tree)
	return c.err()
}

// ValidateVM checks one VM object after applying defaults.
func ValidateVM(path string, obj map[string]any) error {
	c := &collector{}
	checkVM(c, path, obj)
	return c.err()
}

// Entries returns the VM objects of a structurally valid document in order.
// Set entries are merged with the set defaults.
func Entries(tree map[string]any) ([]Entry, error) {
	c := &collector{}
	entries := checkDocument(c, tree)
	if err := c.err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// checkDocument records document-level violations and returns whatever
// entries could be extracted.
func checkDocument(c *collector, tree map[string]any) []Entry {
	for _, k := range sortedKeys(tree) {
		if !rootKeys[k] {
			c.add(k, "unknown field")
		}
	}

	switch v, ok := tree["apiVersion"]; {
	case !ok || v == nil:
		c.add("apiVersion", "is required")
	case v != v4.APIVersion:
		c.add("apiVersion", "unsupported apiVersion %v (expected %s)", v, v4.APIVersion)
	}

	if vars, ok := tree["vars"]; ok && vars != nil {
		m, isMap := vars.(map[string]any)
		if !isMap {
			c.add("vars", "must be a mapping of names to strings")
		} else {
			for _, k := range sortedKeys(m) {
				switch m[k].(type) {
				case map[string]any, []any:
					c.add("vars."+k, "must be a scalar value")
				}
			}
		}
	}

	kind, ok := tree["kind"]
	if !ok || kind == nil {
		c.add("kind", "is required")
		return nil
	}

	switch kind {
	case v4.KindVirtualMachine:
		for _, k := range []string{"defaults", "vms"} {
			if _, present := tree[k]; present {
				c.add(k, "is not allowed when kind is %s", v4.KindVirtualMachine)
			}
		}
		vm, present := tree["vm"]
		if !present || vm == nil {
			c.add("vm", "is required when kind is %s", v4.KindVirtualMachine)
			return nil
		}
		obj, isMap := vm.(map[string]any)
		if !isMap {
			c.add("vm", "must be a mapping")
			return nil
		}
		name, _ := obj["name"].(string)
		return []Entry{{Index: 0, Name: name, Path: "vm", Object: obj}}

	case v4.KindVirtualMachineSet:
		return checkSet(c, tree)

	default:
		c.add("kind", "must be one of [%s, %s], got %v", v4.KindVirtualMachine, v4.KindVirtualMachineSet, kind)
		return nil
	}
}

func checkSet(c *collector, tree map[string]any) []Entry {
	if _, present := tree["vm"]; present {
		c.add("vm", "is not allowed when kind is %s", v4.KindVirtualMachineSet)
	}

	defaults := map[string]any{}
	if d, present := tree["defaults"]; present && d != nil {
		m, isMap := d.(map[string]any)
		if !isMap {
			c.add("defaults", "must be a mapping")
		} else {
			defaults = m
		}
	}

	raw, present := tree["vms"]
	if !present || raw == nil {
		c.add("vms", "is required when kind is %s", v4.KindVirtualMachineSet)
		return nil
	}
	list, isList := raw.([]any)
	if !isList {
		c.add("vms", "must be a list")
		return nil
	}
	if len(list) == 0 {
		c.add("vms", "must contain at least one entry")
		return nil
	}

	var entries []Entry
	seen := make(map[string]int)
	for i, item := range list {
		path := fmt.Sprintf("vms[%d]", i)
		obj, isMap := item.(map[string]any)
		if !isMap {
			c.add(path, "must be a mapping")
			continue
		}
		merged := v4.MergeSetEntry(defaults, obj)
		name, _ := merged["name"].(string)
		if name != "" {
			if first, dup := seen[name]; dup {
				c.add(path+".name", "duplicate name %q (also used by vms[%d])", name, first)
			} else {
				seen[name] = i
			}
		}
		entries = append(entries, Entry{Index: i, Name: name, Path: path, Object: merged})
	}
	return entries
}

// checkVM applies defaults to a copy of obj, validates it and returns the
// normalized copy.
func checkVM(c *collector, path string, obj map[string]any) map[string]any {
	vm := checkObject(c, path, obj, vmRules)

	if b, _ := vm["secure_boot"].(bool); b {
		if uefi, _ := vm["uefi"].(bool); !uefi {
			c.add(path+".secure_boot", "requires uefi: true")
		}
	}

	if drives, ok := vm["drives"].([]any); ok {
		uefi, _ := vm["uefi"].(bool)
		for i, d := range drives {
			drive, ok := d.(map[string]any)
			if !ok {
				continue
			}
			if drive["media"] != string(v4.DriveMediaCDROM) && drive["size"] == nil {
				c.add(fmt.Sprintf("%s.drives[%d].size", path, i), "is required unless media is cdrom")
			}
			if drive["media"] == string(v4.DriveMediaEFIDisk) && !uefi {
				c.add(fmt.Sprintf("%s.drives[%d].media", path, i), "efidisk requires uefi: true")
			}
		}
	}

	if nics, ok := vm["nics"].([]any); ok {
		for i, n := range nics {
			nic, ok := n.(map[string]any)
			if !ok {
				continue
			}
			if mac, ok := nic["mac"].(string); ok && mac != "" {
				if hw, err := net.ParseMAC(mac); err != nil || len(hw) != 6 {
					c.add(fmt.Sprintf("%s.nics[%d].mac", path, i), "%q is not a valid MAC address", mac)
				}
			}
		}
	}

	if ci, ok := vm["cloudinit"].(map[string]any); ok {
		files, _ := ci["files"].([]any)
		seen := make(map[string]int)
		for i, f := range files {
			file, ok := f.(map[string]any)
			if !ok {
				continue
			}
			fpath := fmt.Sprintf("%s.cloudinit.files[%d]", path, i)
			name, _ := file["name"].(string)
			if name != "" {
				if first, dup := seen[name]; dup {
					c.add(fpath+".name", "duplicate file %q (also declared by files[%d])", name, first)
				} else {
					seen[name] = i
				}
			}
			if content, ok := file["content"].(string); ok && name == "user-data" {
				if err := cloudinit.LintUserData(content); err != nil {
					c.add(fpath+".content", "%v", err)
				}
			}
		}
	}

	return vm
}

// checkObject validates obj against rules and returns a copy with defaults
// applied and scalar values normalized.
func checkObject(c *collector, path string, obj map[string]any, rules objectRules) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}

	for _, k := range sortedKeys(obj) {
		if _, ok := rules[k]; !ok {
			c.add(path+"."+k, "unknown field")
			delete(out, k)
		}
	}

	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f := rules[k]
		fpath := path + "." + k
		v, present := out[k]
		if !present || v == nil {
			if f.def != nil {
				out[k] = v4.DeepCopyValue(f.def)
				continue
			}
			if f.required {
				c.add(fpath, "is required")
			}
			delete(out, k)
			continue
		}
		out[k] = checkValue(c, fpath, v, f)
	}

	return out
}

func checkValue(c *collector, path string, v any, f field) any {
	switch f.typ {
	case typeString:
		s, ok := v.(string)
		if !ok {
			c.add(path, "must be %s, got %T", f.typ, v)
			return v
		}
		if f.required && strings.TrimSpace(s) == "" {
			c.add(path, "must not be empty")
		}
		return s

	case typeInt:
		n, ok := toInt(v)
		if !ok {
			c.add(path, "must be %s, got %v", f.typ, v)
			return v
		}
		if f.min != nil && n < *f.min {
			if f.max != nil {
				c.add(path, "must be between %d and %d, got %d", *f.min, *f.max, n)
			} else {
				c.add(path, "must be at least %d, got %d", *f.min, n)
			}
		} else if f.max != nil && n > *f.max {
			c.add(path, "must be between %d and %d, got %d", *f.min, *f.max, n)
		}
		return n

	case typeBool:
		if _, ok := v.(bool); !ok {
			c.add(path, "must be %s, got %v", f.typ, v)
		}
		return v

	case typeMemory, typeDisk:
		domain, minimum, unit := units.Memory, int64(1), "1MB"
		if f.typ == typeDisk {
			domain, unit = units.Disk, "1GB"
		}
		n, err := units.Parse(v, domain)
		if err != nil {
			var perr *units.ParseError
			if errors.As(err, &perr) {
				c.add(path, "invalid size %q: %s", perr.Value, perr.Reason)
			} else {
				c.add(path, "%v", err)
			}
			return v
		}
		if n < minimum {
			c.add(path, "must be at least %s, got %v", unit, v)
		}
		return v

	case typeRef:
		if _, err := v4.ParseRef(v); err != nil {
			c.add(path, "%v", err)
		}
		return v

	case typeEnum:
		s, ok := enumString(v)
		if !ok || !contains(f.enum, s) {
			c.add(path, "must be one of [%s], got %v", strings.Join(f.enum, ", "), v)
			return v
		}
		return s

	case typeList:
		list, ok := v.([]any)
		if !ok {
			c.add(path, "must be %s, got %T", f.typ, v)
			return v
		}
		out := make([]any, len(list))
		for i, item := range list {
			ipath := fmt.Sprintf("%s[%d]", path, i)
			obj, ok := item.(map[string]any)
			if !ok {
				c.add(ipath, "must be a mapping")
				out[i] = item
				continue
			}
			out[i] = checkObject(c, ipath, obj, f.item)
		}
		return out

	case typeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			c.add(path, "must be %s, got %T", f.typ, v)
			return v
		}
		return checkObject(c, path, obj, f.item)
	}

	return v
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// enumString accepts strings, and numbers for enums such as the TPM
// version whose values look numeric (2.0 parses as a float).
func enumString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatFloat(s, 'f', 1, 64), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
