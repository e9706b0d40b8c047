// Package status manages the phase and conditions of a build Result.
package status

import (
	"fmt"

	v4 "github.com/jbweber/anvil/api/v4"
)

// Condition reasons.
const (
	ReasonPlanned    = "Planned"
	ReasonInProgress = "InProgress"
	ReasonSucceeded  = "Succeeded"
	ReasonFailed     = "Failed"
	ReasonNotReached = "NotReached"
)

// SetCondition adds or updates a condition on the result.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(r *v4.Result, condType string, status v4.ConditionStatus, reason, message string) {
	now := v4.Now()

	for i := range r.Conditions {
		if r.Conditions[i].Type == condType {
			existing := &r.Conditions[i]

			// Only update LastTransitionTime if status changed
			if existing.Status != status {
				existing.LastTransitionTime = now
			}

			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	r.Conditions = append(r.Conditions, v4.Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(r *v4.Result, condType string) *v4.Condition {
	for i := range r.Conditions {
		if r.Conditions[i].Type == condType {
			return &r.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(r *v4.Result, condType string) bool {
	cond := GetCondition(r, condType)
	return cond != nil && cond.Status == v4.ConditionTrue
}

// MarkPlanned records an Unknown condition for every class of step the
// plan contains.
func MarkPlanned(r *v4.Result, plan *v4.Plan) {
	for _, kind := range distinctKinds(plan) {
		n := plan.Count(kind)
		SetCondition(r, v4.ConditionFor(kind), v4.ConditionUnknown, ReasonPlanned,
			fmt.Sprintf("%d %s operation(s) planned", n, kind))
	}
}

// MarkStepSucceeded records progress after an operation of kind completed.
// done counts the completed operations of that kind out of total.
func MarkStepSucceeded(r *v4.Result, kind v4.OperationKind, done, total int) {
	if done >= total {
		SetCondition(r, v4.ConditionFor(kind), v4.ConditionTrue, ReasonSucceeded,
			fmt.Sprintf("%d of %d %s operation(s) completed", done, total, kind))
		return
	}
	SetCondition(r, v4.ConditionFor(kind), v4.ConditionUnknown, ReasonInProgress,
		fmt.Sprintf("%d of %d %s operation(s) completed", done, total, kind))
}

// MarkStepFailed records the failure of op. Conditions of classes that
// were never started are marked NotReached.
func MarkStepFailed(r *v4.Result, op *v4.Operation, err error) {
	SetCondition(r, v4.ConditionFor(op.Kind), v4.ConditionFalse, ReasonFailed,
		fmt.Sprintf("%s %q: %v", op.Kind, op.Name, err))

	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Status == v4.ConditionUnknown && c.Reason == ReasonPlanned {
			c.Reason = ReasonNotReached
			c.Message = "not attempted after an earlier step failed"
		}
	}
}

func distinctKinds(plan *v4.Plan) []v4.OperationKind {
	var kinds []v4.OperationKind
	seen := make(map[v4.OperationKind]bool)
	for _, k := range plan.Kinds() {
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}
