// Package units converts human-friendly size expressions into the canonical
// integer units of the template document: MB for memory, GB for disk.
//
// A bare integer is taken in the domain's native unit, so "4096" is 4096 MB
// of memory but 4096 GB of disk. Suffixed values use binary multiples:
//
//	memory: 1GB = 1024MB, 1TB = 1048576MB
//	disk:   1TB = 1024GB, MB values are divided by 1024 and rounded down
package units

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Domain selects the unit a size expression is converted into.
type Domain string

const (
	// Memory sizes are returned in MB.
	Memory Domain = "memory"
	// Disk sizes are returned in GB.
	Disk Domain = "disk"
)

// ParseError reports a malformed size expression.
type ParseError struct {
	Value  string
	Domain Domain
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s size %q: %s", e.Domain, e.Value, e.Reason)
}

var sizePattern = regexp.MustCompile(`^\s*(\d+)\s*([A-Za-z]*)\s*$`)

// mbPerUnit is the number of MB in one unit of each suffix.
var mbPerUnit = map[string]int64{
	"MB": 1,
	"GB": 1024,
	"TB": 1024 * 1024,
}

// Parse converts value into MB (Memory) or GB (Disk). value may be an
// integer of any Go integer type, an integral float64 (as produced by JSON
// decoding), or a string with an optional MB, GB or TB suffix.
func Parse(value any, domain Domain) (int64, error) {
	if domain != Memory && domain != Disk {
		return 0, fmt.Errorf("unknown size domain %q", domain)
	}

	switch v := value.(type) {
	case int:
		return native(int64(v), fmt.Sprint(v), domain)
	case int32:
		return native(int64(v), fmt.Sprint(v), domain)
	case int64:
		return native(v, fmt.Sprint(v), domain)
	case uint:
		return native(int64(v), fmt.Sprint(v), domain)
	case uint32:
		return native(int64(v), fmt.Sprint(v), domain)
	case uint64:
		if v > 1<<62 {
			return 0, &ParseError{Value: fmt.Sprint(v), Domain: domain, Reason: "value out of range"}
		}
		return native(int64(v), fmt.Sprint(v), domain)
	case float64:
		if v != float64(int64(v)) {
			return 0, &ParseError{Value: fmt.Sprint(v), Domain: domain, Reason: "magnitude must be a whole number"}
		}
		return native(int64(v), fmt.Sprint(v), domain)
	case string:
		return parseString(v, domain)
	default:
		return 0, &ParseError{Value: fmt.Sprint(value), Domain: domain, Reason: fmt.Sprintf("unsupported type %T", value)}
	}
}

func native(n int64, raw string, domain Domain) (int64, error) {
	if n < 0 {
		return 0, &ParseError{Value: raw, Domain: domain, Reason: "size must not be negative"}
	}
	return n, nil
}

func parseString(s string, domain Domain) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, &ParseError{Value: s, Domain: domain, Reason: "empty size"}
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, &ParseError{Value: s, Domain: domain, Reason: "expected <integer>[MB|GB|TB]"}
	}

	magnitude, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &ParseError{Value: s, Domain: domain, Reason: "magnitude out of range"}
	}

	suffix := strings.ToUpper(m[2])
	if suffix == "" {
		return magnitude, nil
	}

	perUnit, ok := mbPerUnit[suffix]
	if !ok {
		return 0, &ParseError{Value: s, Domain: domain, Reason: fmt.Sprintf("unrecognized unit %q", m[2])}
	}

	mb := magnitude * perUnit
	if perUnit != 0 && mb/perUnit != magnitude {
		return 0, &ParseError{Value: s, Domain: domain, Reason: "size out of range"}
	}

	if domain == Memory {
		return mb, nil
	}
	// Disk sizes below 1GB round down to 0.
	return mb / 1024, nil
}

// Format renders n (MB for Memory, GB for Disk) with the largest suffix
// that represents it exactly.
func Format(n int64, domain Domain) string {
	switch domain {
	case Memory:
		if n > 0 && n%(1024*1024) == 0 {
			return fmt.Sprintf("%dTB", n/(1024*1024))
		}
		if n > 0 && n%1024 == 0 {
			return fmt.Sprintf("%dGB", n/1024)
		}
		return fmt.Sprintf("%dMB", n)
	default:
		if n > 0 && n%1024 == 0 {
			return fmt.Sprintf("%dTB", n/1024)
		}
		return fmt.Sprintf("%dGB", n)
	}
}
