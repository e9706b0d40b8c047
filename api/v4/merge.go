package v4

// MergeSetEntry returns the effective VM object of a VirtualMachineSet
// entry: every key of defaults, overridden by every key of entry.
//
// The merge is shallow. Child collections (drives, nics, devices) and the
// cloudinit block declared by the entry therefore replace those of defaults
// entirely; they are never concatenated or merged key by key.
// Neither input is modified and the result shares no structure with them.
func MergeSetEntry(defaults, entry map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(entry))
	for k, v := range defaults {
		out[k] = DeepCopyValue(v)
	}
	for k, v := range entry {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue copies a generic document value (maps, lists, scalars).
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = DeepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
