package schema

import (
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/units"
)

var (
	refType    = reflect.TypeOf(v4.Ref{})
	memoryType = reflect.TypeOf(v4.MemorySize(0))
	diskType   = reflect.TypeOf(v4.DiskSize(0))
)

// DecodeVM validates one VM object and decodes it into a VMSpec with
// defaults applied. References stay unresolved.
func DecodeVM(path string, obj map[string]any) (*v4.VMSpec, error) {
	c := &collector{}
	normalized := checkVM(c, path, obj)
	if err := c.err(); err != nil {
		return nil, err
	}

	var spec v4.VMSpec
	if err := decode(normalized, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &spec, nil
}

// Decode validates a whole document and decodes every VM it declares. For
// a VirtualMachineSet the VMs are the merged entries in order.
func Decode(tree map[string]any) (*v4.Document, error) {
	if err := Validate(tree); err != nil {
		return nil, err
	}

	entries, err := Entries(tree)
	if err != nil {
		return nil, err
	}

	doc := &v4.Document{
		APIVersion: v4.APIVersion,
		Kind:       fmt.Sprint(tree["kind"]),
	}
	if vars, ok := tree["vars"].(map[string]any); ok {
		doc.Vars = make(map[string]string, len(vars))
		for k, v := range vars {
			if v != nil {
				doc.Vars[k] = fmt.Sprint(v)
			}
		}
	}

	for _, e := range entries {
		spec, err := DecodeVM(e.Path, e.Object)
		if err != nil {
			return nil, err
		}
		doc.VMs = append(doc.VMs, *spec)
	}
	return doc, nil
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			refHook,
			sizeHook,
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return dec.Decode(input)
}

// refHook turns document values into name-or-id references.
func refHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != refType {
		return data, nil
	}
	return v4.ParseRef(data)
}

// sizeHook converts size expressions into canonical MB or GB values.
func sizeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to {
	case memoryType:
		n, err := units.Parse(data, units.Memory)
		if err != nil {
			return nil, err
		}
		return v4.MemorySize(n), nil
	case diskType:
		n, err := units.Parse(data, units.Disk)
		if err != nil {
			return nil, err
		}
		return v4.DiskSize(n), nil
	default:
		return data, nil
	}
}
