package v4

// Phase is the lifecycle phase of a build.
// +enum=Pending;Previewed;Creating;Created;Failed
type Phase string

const (
	// PhasePending means nothing has been attempted yet.
	PhasePending Phase = "Pending"
	// PhasePreviewed means the plan was produced without any remote calls.
	PhasePreviewed Phase = "Previewed"
	// PhaseCreating means operations are being executed.
	PhaseCreating Phase = "Creating"
	// PhaseCreated means every operation succeeded.
	PhaseCreated Phase = "Created"
	// PhaseFailed means an operation failed; Created lists what remains.
	PhaseFailed Phase = "Failed"
)

// Condition types set on a Result, one per class of build step.
const (
	ConditionVMCreated          = "VMCreated"
	ConditionCloudInitReady     = "CloudInitReady"
	ConditionStorageProvisioned = "StorageProvisioned"
	ConditionNetworkConfigured  = "NetworkConfigured"
	ConditionDevicesAttached    = "DevicesAttached"
	ConditionPoweredOn          = "PoweredOn"
)

// ConditionFor returns the condition type tracking operations of kind.
func ConditionFor(kind OperationKind) string {
	switch kind {
	case OperationVM:
		return ConditionVMCreated
	case OperationCloudInitFile:
		return ConditionCloudInitReady
	case OperationDrive:
		return ConditionStorageProvisioned
	case OperationNIC:
		return ConditionNetworkConfigured
	case OperationDevice:
		return ConditionDevicesAttached
	case OperationPowerOn:
		return ConditionPoweredOn
	default:
		return string(kind)
	}
}

// CreatedResource is one entry of a build's manifest.
type CreatedResource struct {
	Kind OperationKind `json:"kind" yaml:"kind"`
	Name string        `json:"name" yaml:"name"`
	ID   int64         `json:"id" yaml:"id"`
}

// Result is the observed outcome of building one VM.
type Result struct {
	VMName string `json:"vmName" yaml:"vmName"`
	Phase  Phase  `json:"phase" yaml:"phase"`
	// VMID is the id of the created VM, 0 if it was never created.
	VMID int64 `json:"vmID,omitempty" yaml:"vmID,omitempty"`
	// Created lists every resource created, in creation order.
	Created []CreatedResource `json:"created,omitempty" yaml:"created,omitempty"`
	// FailedStep is the operation that failed, if any.
	FailedStep *Operation `json:"failedStep,omitempty" yaml:"failedStep,omitempty"`
	// Conditions record the state of each class of step.
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// NewResult returns a Result in phase Pending.
func NewResult(vmName string) *Result {
	return &Result{VMName: vmName, Phase: PhasePending}
}

// IDs returns the ids of created resources of the given kind.
func (r *Result) IDs(kind OperationKind) []int64 {
	var ids []int64
	for _, c := range r.Created {
		if c.Kind == kind {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// DeepCopy creates a deep copy of Result.
func (in *Result) DeepCopy() *Result {
	if in == nil {
		return nil
	}
	out := new(Result)
	*out = *in
	if in.Created != nil {
		out.Created = make([]CreatedResource, len(in.Created))
		copy(out.Created, in.Created)
	}
	if in.FailedStep != nil {
		step := *in.FailedStep
		out.FailedStep = &step
	}
	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		for i := range in.Conditions {
			out.Conditions[i] = *in.Conditions[i].DeepCopy()
		}
	}
	return out
}
