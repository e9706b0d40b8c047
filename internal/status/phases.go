package status

import (
	"fmt"

	v4 "github.com/jbweber/anvil/api/v4"
)

// TransitionToPreviewed marks a result whose plan was only described.
func TransitionToPreviewed(r *v4.Result, plan *v4.Plan) error {
	if r.Phase != v4.PhasePending {
		return fmt.Errorf("cannot transition to Previewed from phase %s", r.Phase)
	}

	r.Phase = v4.PhasePreviewed
	MarkPlanned(r, plan)
	return nil
}

// TransitionToCreating transitions the result to Creating.
// This should be called before the first operation runs.
func TransitionToCreating(r *v4.Result, plan *v4.Plan) error {
	if r.Phase != v4.PhasePending {
		return fmt.Errorf("cannot transition to Creating from phase %s", r.Phase)
	}

	r.Phase = v4.PhaseCreating
	MarkPlanned(r, plan)
	return nil
}

// TransitionToCreated transitions the result to Created.
// This should be called when every operation has succeeded.
func TransitionToCreated(r *v4.Result) error {
	if r.Phase != v4.PhaseCreating {
		return fmt.Errorf("cannot transition to Created from phase %s", r.Phase)
	}

	r.Phase = v4.PhaseCreated
	return nil
}

// TransitionToFailed transitions the result to Failed at op.
// This can happen from any phase when an operation fails.
func TransitionToFailed(r *v4.Result, op *v4.Operation, err error) {
	r.Phase = v4.PhaseFailed
	step := *op
	r.FailedStep = &step
	MarkStepFailed(r, op, err)
}

// IsTerminal returns true if no further operations will run for the result.
func IsTerminal(phase v4.Phase) bool {
	return phase == v4.PhaseCreated || phase == v4.PhaseFailed || phase == v4.PhasePreviewed
}
