package status

import (
	"errors"
	"testing"

	v4 "github.com/jbweber/anvil/api/v4"
)

func testPlan() *v4.Plan {
	return &v4.Plan{
		VMName: "test-vm",
		Operations: []v4.Operation{
			{Kind: v4.OperationVM, Name: "test-vm"},
			{Kind: v4.OperationDrive, Index: 0, Name: "root"},
			{Kind: v4.OperationDrive, Index: 1, Name: "data"},
			{Kind: v4.OperationNIC, Index: 0, Name: "nic0"},
		},
	}
}

func TestSetCondition_NewCondition(t *testing.T) {
	r := v4.NewResult("test-vm")

	SetCondition(r, "TestCondition", v4.ConditionTrue, "TestReason", "Test message")

	if len(r.Conditions) != 1 {
		t.Fatalf("Expected 1 condition, got %d", len(r.Conditions))
	}

	cond := r.Conditions[0]
	if cond.Type != "TestCondition" {
		t.Errorf("Expected Type 'TestCondition', got %s", cond.Type)
	}
	if cond.Status != v4.ConditionTrue {
		t.Errorf("Expected Status True, got %s", cond.Status)
	}
	if cond.Reason != "TestReason" {
		t.Errorf("Expected Reason 'TestReason', got %s", cond.Reason)
	}
	if cond.LastTransitionTime.IsZero() {
		t.Error("Expected LastTransitionTime to be set")
	}
}

func TestSetCondition_UpdateExisting(t *testing.T) {
	r := v4.NewResult("test-vm")

	SetCondition(r, "Ready", v4.ConditionFalse, "NotReady", "not ready")
	first := r.Conditions[0].LastTransitionTime

	// Same status: transition time is kept.
	SetCondition(r, "Ready", v4.ConditionFalse, "StillNotReady", "still not ready")
	if len(r.Conditions) != 1 {
		t.Fatalf("Expected 1 condition, got %d", len(r.Conditions))
	}
	if !r.Conditions[0].LastTransitionTime.Equal(first.Time) {
		t.Error("LastTransitionTime should not change when status is unchanged")
	}
	if r.Conditions[0].Reason != "StillNotReady" {
		t.Errorf("Expected Reason 'StillNotReady', got %s", r.Conditions[0].Reason)
	}

	SetCondition(r, "Ready", v4.ConditionTrue, "Ready", "ready")
	if !IsConditionTrue(r, "Ready") {
		t.Error("Expected Ready to be True")
	}
}

func TestGetCondition_Missing(t *testing.T) {
	r := v4.NewResult("test-vm")
	if GetCondition(r, "Nope") != nil {
		t.Error("Expected nil for missing condition")
	}
	if IsConditionTrue(r, "Nope") {
		t.Error("Missing condition should not be True")
	}
}

func TestMarkPlanned(t *testing.T) {
	r := v4.NewResult("test-vm")
	MarkPlanned(r, testPlan())

	if len(r.Conditions) != 3 {
		t.Fatalf("Expected 3 conditions (vm, drive, nic), got %d", len(r.Conditions))
	}
	cond := GetCondition(r, v4.ConditionStorageProvisioned)
	if cond == nil || cond.Status != v4.ConditionUnknown || cond.Reason != ReasonPlanned {
		t.Errorf("Unexpected storage condition: %+v", cond)
	}
	if GetCondition(r, v4.ConditionPoweredOn) != nil {
		t.Error("Kinds absent from the plan should have no condition")
	}
}

func TestMarkStepSucceeded_Progress(t *testing.T) {
	r := v4.NewResult("test-vm")
	MarkPlanned(r, testPlan())

	MarkStepSucceeded(r, v4.OperationDrive, 1, 2)
	cond := GetCondition(r, v4.ConditionStorageProvisioned)
	if cond.Status != v4.ConditionUnknown || cond.Reason != ReasonInProgress {
		t.Errorf("Expected InProgress after 1 of 2, got %+v", cond)
	}

	MarkStepSucceeded(r, v4.OperationDrive, 2, 2)
	if !IsConditionTrue(r, v4.ConditionStorageProvisioned) {
		t.Error("Expected StorageProvisioned True after 2 of 2")
	}
}

func TestMarkStepFailed(t *testing.T) {
	r := v4.NewResult("test-vm")
	plan := testPlan()
	MarkPlanned(r, plan)
	MarkStepSucceeded(r, v4.OperationVM, 1, 1)

	MarkStepFailed(r, &plan.Operations[1], errors.New("pool full"))

	cond := GetCondition(r, v4.ConditionStorageProvisioned)
	if cond.Status != v4.ConditionFalse || cond.Reason != ReasonFailed {
		t.Errorf("Expected failed storage condition, got %+v", cond)
	}
	nic := GetCondition(r, v4.ConditionNetworkConfigured)
	if nic.Reason != ReasonNotReached {
		t.Errorf("Expected NotReached for later steps, got %+v", nic)
	}
	if !IsConditionTrue(r, v4.ConditionVMCreated) {
		t.Error("Completed steps should stay True")
	}
}
