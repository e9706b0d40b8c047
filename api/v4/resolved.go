package v4

import "fmt"

// RefField locates one reference inside a VMSpec.
type RefField struct {
	// Path is the field path within the VM object, e.g. "nics[0].network".
	Path string
	// Kind is the resource collection the reference points into.
	Kind ResourceKind
	// Ref points at the field itself so it can be resolved in place.
	Ref *Ref
}

// RefFields returns every reference field of the spec in document order,
// including unset ones.
func (in *VMSpec) RefFields() []RefField {
	fields := []RefField{
		{Path: "cluster", Kind: ResourceCluster, Ref: &in.Cluster},
		{Path: "failover_cluster", Kind: ResourceCluster, Ref: &in.FailoverCluster},
		{Path: "preferred_node", Kind: ResourceNode, Ref: &in.PreferredNode},
		{Path: "ha_group", Kind: ResourceHAGroup, Ref: &in.HAGroup},
		{Path: "snapshot_profile", Kind: ResourceSnapshotProfile, Ref: &in.SnapshotProfile},
	}
	for i := range in.Drives {
		fields = append(fields, RefField{
			Path: fmt.Sprintf("drives[%d].media_source", i),
			Kind: ResourceMedia,
			Ref:  &in.Drives[i].MediaSource,
		})
	}
	for i := range in.NICs {
		fields = append(fields, RefField{
			Path: fmt.Sprintf("nics[%d].network", i),
			Kind: ResourceNetwork,
			Ref:  &in.NICs[i].Network,
		})
	}
	return fields
}

// ResolvedVM is a VM spec in which every reference carries an id. It can
// only be obtained through NewResolvedVM.
type ResolvedVM struct {
	spec *VMSpec
}

// NewResolvedVM checks that every set reference of spec is resolved and
// returns a ResolvedVM holding a private copy of it.
func NewResolvedVM(spec *VMSpec) (*ResolvedVM, error) {
	if spec == nil {
		return nil, fmt.Errorf("VM spec cannot be nil")
	}
	cp := spec.DeepCopy()
	for _, f := range cp.RefFields() {
		if !f.Ref.IsZero() && !f.Ref.Resolved() {
			return nil, fmt.Errorf("%s: reference %q has not been resolved", f.Path, f.Ref.Name())
		}
	}
	return &ResolvedVM{spec: cp}, nil
}

// Name returns the VM name.
func (r *ResolvedVM) Name() string {
	return r.spec.Name
}

// Spec returns a copy of the resolved spec.
func (r *ResolvedVM) Spec() *VMSpec {
	return r.spec.DeepCopy()
}
