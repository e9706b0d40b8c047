// Package builder turns a resolved VM spec into an ordered build plan and
// executes it against a Provisioner.
//
// Operations run strictly in plan order: the VM, its cloud-init files,
// drives, NICs, devices, then the optional power-on. The first failure
// stops the build. Nothing already created is removed and nothing is
// retried; the returned StepError and Result list what exists.
package builder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	v4 "github.com/jbweber/anvil/api/v4"
	"github.com/jbweber/anvil/internal/status"
)

// Mode selects whether a build is executed or only described.
type Mode int

const (
	// Preview produces the plan without calling the Provisioner.
	Preview Mode = iota
	// Execute performs every planned operation.
	Execute
)

func (m Mode) String() string {
	if m == Execute {
		return "execute"
	}
	return "preview"
}

// Provisioner creates platform resources. Every method except CreateVM
// receives the id returned by CreateVM.
//
// A method that fails after its resource already exists returns the id of
// that resource together with the error. A zero id means nothing was left
// behind.
type Provisioner interface {
	CreateVM(ctx context.Context, settings *v4.VMSpec) (int64, error)
	SetCloudInitFile(ctx context.Context, vmID int64, ds v4.Datasource, file v4.CloudInitFile) (int64, error)
	CreateDrive(ctx context.Context, vmID int64, index int, drive v4.DriveSpec) (int64, error)
	CreateNIC(ctx context.Context, vmID int64, index int, nic v4.NICSpec) (int64, error)
	CreateDevice(ctx context.Context, vmID int64, index int, device v4.DeviceSpec) (int64, error)
	PowerOn(ctx context.Context, vmID int64) error
}

// PlanChecker is implemented by provisioners that can reject a plan before
// anything is created.
type PlanChecker interface {
	CheckPlan(plan *v4.Plan) error
}

// StepObserver is notified after every executed operation.
type StepObserver interface {
	ObserveStep(kind v4.OperationKind, err error, elapsed time.Duration)
}

// StepError reports the operation a build stopped at, together with every
// resource created before it.
type StepError struct {
	// Step is the position of the operation in the plan.
	Step    int
	Index   int
	Kind    v4.OperationKind
	Name    string
	Err     error
	Created []v4.CreatedResource
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %d (%s %q) failed: %v", e.Step+1, e.Kind, e.Name, e.Err)
	if len(e.Created) == 0 {
		return msg + "; nothing was created"
	}
	parts := make([]string, len(e.Created))
	for i, c := range e.Created {
		parts[i] = fmt.Sprintf("%s %q (id %d)", c.Kind, c.Name, c.ID)
	}
	return msg + "; left in place: " + strings.Join(parts, ", ")
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Builder plans and executes VM builds.
type Builder struct {
	prov     Provisioner
	log      logr.Logger
	observer StepObserver
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(b *Builder) { b.log = log }
}

// WithObserver attaches a StepObserver.
func WithObserver(o StepObserver) Option {
	return func(b *Builder) { b.observer = o }
}

// New creates a Builder. prov may be nil when the Builder is only used in
// Preview mode.
func New(prov Provisioner, opts ...Option) *Builder {
	b := &Builder{prov: prov, log: logr.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Plan returns the ordered operations that create rvm.
func Plan(rvm *v4.ResolvedVM) *v4.Plan {
	spec := rvm.Spec()
	plan := &v4.Plan{VMName: spec.Name}

	plan.Operations = append(plan.Operations, v4.Operation{
		Kind: v4.OperationVM,
		Name: spec.Name,
		VM:   spec.Settings(),
	})

	if spec.CloudInit != nil {
		for i := range spec.CloudInit.Files {
			f := spec.CloudInit.Files[i]
			plan.Operations = append(plan.Operations, v4.Operation{
				Kind:          v4.OperationCloudInitFile,
				Index:         i,
				Name:          f.Name,
				CloudInitFile: &f,
			})
		}
	}

	for i := range spec.Drives {
		d := spec.Drives[i].DeepCopy()
		plan.Operations = append(plan.Operations, v4.Operation{
			Kind:  v4.OperationDrive,
			Index: i,
			Name:  d.DisplayName(i),
			Drive: d,
		})
	}

	for i := range spec.NICs {
		n := spec.NICs[i]
		plan.Operations = append(plan.Operations, v4.Operation{
			Kind:  v4.OperationNIC,
			Index: i,
			Name:  n.DisplayName(i),
			NIC:   &n,
		})
	}

	for i := range spec.Devices {
		d := spec.Devices[i]
		plan.Operations = append(plan.Operations, v4.Operation{
			Kind:   v4.OperationDevice,
			Index:  i,
			Name:   d.DisplayName(i),
			Device: &d,
		})
	}

	if spec.PowerOnAfterCreate {
		plan.Operations = append(plan.Operations, v4.Operation{
			Kind: v4.OperationPowerOn,
			Name: spec.Name,
		})
	}

	return plan
}

// Run plans rvm and, in Execute mode, performs the plan. The returned
// Result is always set. On failure the error is a *StepError.
func (b *Builder) Run(ctx context.Context, rvm *v4.ResolvedVM, mode Mode) (*v4.Plan, *v4.Result, error) {
	plan := Plan(rvm)
	result := v4.NewResult(rvm.Name())

	if checker, ok := b.prov.(PlanChecker); ok {
		if err := checker.CheckPlan(plan); err != nil {
			return plan, result, fmt.Errorf("plan for %s rejected, nothing was created: %w", plan.VMName, err)
		}
	}

	if mode == Preview {
		if err := status.TransitionToPreviewed(result, plan); err != nil {
			return plan, result, err
		}
		b.log.V(1).Info("planned build", "vm", plan.VMName, "operations", len(plan.Operations))
		return plan, result, nil
	}

	if b.prov == nil {
		return plan, result, fmt.Errorf("no provisioner configured for execute mode")
	}
	if err := status.TransitionToCreating(result, plan); err != nil {
		return plan, result, err
	}

	var ds v4.Datasource
	if ci := rvm.Spec().CloudInit; ci != nil {
		ds = ci.Datasource
	}

	done := make(map[v4.OperationKind]int)
	for i := range plan.Operations {
		op := &plan.Operations[i]

		if err := ctx.Err(); err != nil {
			return plan, result, b.fail(result, i, op, err)
		}

		b.log.V(1).Info("executing operation", "vm", plan.VMName, "step", i+1, "kind", op.Kind, "name", op.Name)
		start := time.Now()
		id, err := b.execute(ctx, result.VMID, ds, op)
		if b.observer != nil {
			b.observer.ObserveStep(op.Kind, err, time.Since(start))
		}
		if err != nil {
			if id != 0 {
				b.record(result, op, id)
			}
			return plan, result, b.fail(result, i, op, err)
		}

		b.record(result, op, id)
		done[op.Kind]++
		status.MarkStepSucceeded(result, op.Kind, done[op.Kind], plan.Count(op.Kind))
		b.log.Info("created", "vm", plan.VMName, "kind", op.Kind, "name", op.Name, "id", id)
	}

	if err := status.TransitionToCreated(result); err != nil {
		return plan, result, err
	}
	return plan, result, nil
}

func (b *Builder) record(result *v4.Result, op *v4.Operation, id int64) {
	if op.Kind == v4.OperationVM {
		result.VMID = id
	}
	if op.Kind != v4.OperationPowerOn {
		result.Created = append(result.Created, v4.CreatedResource{Kind: op.Kind, Name: op.Name, ID: id})
	}
}

func (b *Builder) execute(ctx context.Context, vmID int64, ds v4.Datasource, op *v4.Operation) (int64, error) {
	switch op.Kind {
	case v4.OperationVM:
		return b.prov.CreateVM(ctx, op.VM)
	case v4.OperationCloudInitFile:
		return b.prov.SetCloudInitFile(ctx, vmID, ds, *op.CloudInitFile)
	case v4.OperationDrive:
		return b.prov.CreateDrive(ctx, vmID, op.Index, *op.Drive)
	case v4.OperationNIC:
		return b.prov.CreateNIC(ctx, vmID, op.Index, *op.NIC)
	case v4.OperationDevice:
		return b.prov.CreateDevice(ctx, vmID, op.Index, *op.Device)
	case v4.OperationPowerOn:
		return vmID, b.prov.PowerOn(ctx, vmID)
	default:
		return 0, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (b *Builder) fail(result *v4.Result, step int, op *v4.Operation, err error) error {
	status.TransitionToFailed(result, op, err)
	b.log.Error(err, "build stopped", "vm", result.VMName, "step", step+1, "kind", op.Kind, "name", op.Name,
		"created", len(result.Created))

	created := make([]v4.CreatedResource, len(result.Created))
	copy(created, result.Created)
	return &StepError{
		Step:    step,
		Index:   op.Index,
		Kind:    op.Kind,
		Name:    op.Name,
		Err:     err,
		Created: created,
	}
}
