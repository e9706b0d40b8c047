package v4

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ResourceKind names a collection of platform resources that a Ref can
// point into.
type ResourceKind string

const (
	ResourceCluster         ResourceKind = "cluster"
	ResourceNode            ResourceKind = "node"
	ResourceHAGroup         ResourceKind = "ha-group"
	ResourceSnapshotProfile ResourceKind = "snapshot-profile"
	ResourceNetwork         ResourceKind = "network"
	ResourceMedia           ResourceKind = "media"
)

// Resource is one entry returned by a platform lookup.
type Resource struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Ref is a name-or-id reference. The zero Ref is unset.
//
// A Ref is in exactly one of two states: unresolved, carrying the name
// written in the document, or resolved, carrying a positive numeric id.
type Ref struct {
	name string
	id   int64
}

// NameRef returns an unresolved reference to the named resource.
func NameRef(name string) Ref {
	return Ref{name: name}
}

// IDRef returns a resolved reference. id must be positive.
func IDRef(id int64) Ref {
	return Ref{id: id}
}

// ParseRef converts a document value into a Ref. Positive integers are
// already resolved ids; strings are names awaiting resolution.
func ParseRef(value any) (Ref, error) {
	switch v := value.(type) {
	case nil:
		return Ref{}, nil
	case Ref:
		return v, nil
	case string:
		if v == "" {
			return Ref{}, fmt.Errorf("reference must not be empty")
		}
		return NameRef(v), nil
	case int:
		return idFromInt(int64(v))
	case int64:
		return idFromInt(v)
	case int32:
		return idFromInt(int64(v))
	case uint64:
		if v > 1<<62 {
			return Ref{}, fmt.Errorf("reference id %d is out of range", v)
		}
		return idFromInt(int64(v))
	case float64:
		if v != float64(int64(v)) {
			return Ref{}, fmt.Errorf("reference id must be an integer, got %v", v)
		}
		return idFromInt(int64(v))
	default:
		return Ref{}, fmt.Errorf("reference must be a name or a positive integer id, got %T", value)
	}
}

func idFromInt(id int64) (Ref, error) {
	if id <= 0 {
		return Ref{}, fmt.Errorf("reference id must be positive, got %d", id)
	}
	return IDRef(id), nil
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.name == "" && r.id == 0
}

// Resolved reports whether the reference carries an id.
func (r Ref) Resolved() bool {
	return r.id > 0
}

// ID returns the resolved id, or 0 for an unresolved reference.
func (r Ref) ID() int64 {
	return r.id
}

// Name returns the name of an unresolved reference.
func (r Ref) Name() string {
	return r.name
}

// String renders the reference the way it would be written in a document.
func (r Ref) String() string {
	if r.Resolved() {
		return strconv.FormatInt(r.id, 10)
	}
	return r.name
}

// MarshalYAML writes a resolved reference as an integer and an
// unresolved one as its name.
func (r Ref) MarshalYAML() (interface{}, error) {
	if r.IsZero() {
		return nil, nil
	}
	if r.Resolved() {
		return r.id, nil
	}
	return r.name, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseRef(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	if r.Resolved() {
		return json.Marshal(r.id)
	}
	return json.Marshal(r.name)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (r *Ref) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseRef(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
