package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v4 "github.com/jbweber/anvil/api/v4"
)

func TestObserveStep(t *testing.T) {
	r := NewRecorder()

	r.ObserveStep(v4.OperationDrive, nil, 50*time.Millisecond)
	r.ObserveStep(v4.OperationDrive, nil, 70*time.Millisecond)
	r.ObserveStep(v4.OperationNIC, errors.New("boom"), time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.stepTotal.WithLabelValues("drive", ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stepTotal.WithLabelValues("nic", ResultError)))

	// One histogram series per kind
	assert.Equal(t, 2, testutil.CollectAndCount(r.stepDuration))
}

func TestObserveStage(t *testing.T) {
	r := NewRecorder()

	r.ObserveStage("resolve", nil, time.Second)
	r.ObserveStage("resolve", errors.New("not found"), time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.stageTotal.WithLabelValues("resolve", ResultSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stageTotal.WithLabelValues("resolve", ResultError)))
}

func TestObserveVM(t *testing.T) {
	r := NewRecorder()

	r.ObserveVM(v4.PhaseCreated)
	r.ObserveVM(v4.PhaseFailed)
	r.ObserveVM(v4.PhaseCreated)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.vmTotal.WithLabelValues("Created")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder

	// None of these may panic.
	r.ObserveStage("load", nil, time.Second)
	r.ObserveStep(v4.OperationVM, nil, time.Second)
	r.ObserveVM(v4.PhaseCreated)
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveStep(v4.OperationVM, nil, time.Second)

	path := filepath.Join(t.TempDir(), "anvil.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `anvil_builder_operations_total{kind="vm",result="success"} 1`))

	err = r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "anvil.prom"))
	assert.Error(t, err)
}
