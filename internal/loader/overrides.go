package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	intLiteral   = regexp.MustCompile(`^[+-]?[0-9]+$`)
	floatLiteral = regexp.MustCompile(`^[+-]?([0-9]+\.[0-9]*|\.[0-9]+|[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// ApplyOverride applies one "path=value" assignment to tree. Path segments
// are separated by dots; a numeric segment indexes into an existing list.
// Missing intermediate mappings are created.
func ApplyOverride(tree map[string]any, override string) error {
	path, raw, ok := strings.Cut(override, "=")
	if !ok {
		return fmt.Errorf("invalid override %q: expected path=value", override)
	}

	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("invalid override %q: empty path segment", override)
		}
	}

	value := Coerce(raw)

	var cur any = tree
	for i, seg := range segments {
		last := i == len(segments)-1

		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[seg] = value
				return nil
			}
			next, exists := node[seg]
			if !exists || next == nil {
				next = map[string]any{}
				node[seg] = next
			}
			cur = next

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("invalid override %q: %s is not an index of %s (length %d)",
					override, seg, strings.Join(segments[:i], "."), len(node))
			}
			if last {
				node[idx] = value
				return nil
			}
			if node[idx] == nil {
				node[idx] = map[string]any{}
			}
			cur = node[idx]

		default:
			return fmt.Errorf("invalid override %q: %s is a %T, not a mapping or list",
				override, strings.Join(segments[:i], "."), cur)
		}
	}

	return nil
}

// Coerce converts an override value into a bool, int, float64 or string
// using literal rules: exactly "true"/"false", optionally signed digits,
// a plain decimal number, otherwise the string unchanged.
func Coerce(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if intLiteral.MatchString(raw) {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	if floatLiteral.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}
