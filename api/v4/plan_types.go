package v4

// OperationKind tags a planned operation with the resource it creates.
type OperationKind string

const (
	OperationVM            OperationKind = "vm"
	OperationCloudInitFile OperationKind = "cloud-init-file"
	OperationDrive         OperationKind = "drive"
	OperationNIC           OperationKind = "nic"
	OperationDevice        OperationKind = "device"
	OperationPowerOn       OperationKind = "power-on"
)

// Operation is one step of a build plan. Exactly one of the parameter
// fields is set, matching Kind; power-on carries none.
type Operation struct {
	Kind OperationKind `json:"kind" yaml:"kind"`
	// Index is the position of the entry within its collection.
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`

	VM            *VMSpec        `json:"vm,omitempty" yaml:"vm,omitempty"`
	CloudInitFile *CloudInitFile `json:"cloudInitFile,omitempty" yaml:"cloudInitFile,omitempty"`
	Drive         *DriveSpec     `json:"drive,omitempty" yaml:"drive,omitempty"`
	NIC           *NICSpec       `json:"nic,omitempty" yaml:"nic,omitempty"`
	Device        *DeviceSpec    `json:"device,omitempty" yaml:"device,omitempty"`
}

// Plan is the ordered list of operations that create one VM.
type Plan struct {
	VMName     string      `json:"vmName" yaml:"vmName"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

// Count returns the number of planned operations of the given kind.
func (p *Plan) Count(kind OperationKind) int {
	n := 0
	for i := range p.Operations {
		if p.Operations[i].Kind == kind {
			n++
		}
	}
	return n
}

// Kinds returns the operation kinds in plan order, one per operation.
func (p *Plan) Kinds() []OperationKind {
	kinds := make([]OperationKind, len(p.Operations))
	for i := range p.Operations {
		kinds[i] = p.Operations[i].Kind
	}
	return kinds
}
