package reflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkItemValidate(t *testing.T) {
	item := &WorkItem{Name: "relax", Inputs: map[string]any{"kpoints": 8}}
	require.NoError(t, item.Validate())

	require.Error(t, (&WorkItem{Inputs: map[string]any{}}).Validate())
	require.Error(t, (&WorkItem{Name: "relax"}).Validate())
}

func TestWorkItemClone(t *testing.T) {
	item := &WorkItem{
		Name: "relax",
		Inputs: map[string]any{
			"kpoints": 8,
			"cell":    map[string]any{"a": 5.43},
		},
		Options:     map[string]any{"walltime": 3600},
		RestartFrom: "remote_folder",
	}
	clone := item.Clone()
	require.Equal(t, item, clone)

	clone.Inputs["cell"].(map[string]any)["a"] = 5.65
	require.Equal(t, 5.43, item.Inputs["cell"].(map[string]any)["a"])
}

func TestTerminationSignal(t *testing.T) {
	ok := &TerminationSignal{Status: StatusOK}
	require.True(t, ok.OK())
	require.False(t, ok.Failed())

	failed := &TerminationSignal{Status: StatusWalltimeExceeded}
	require.False(t, failed.OK())
	require.True(t, failed.Failed())

	var nilSignal *TerminationSignal
	require.False(t, nilSignal.OK())
	require.False(t, nilSignal.Failed())
}

func TestRunStatusIsTerminal(t *testing.T) {
	require.True(t, RunStatusCompleted.IsTerminal())
	require.True(t, RunStatusFailed.IsTerminal())
	require.True(t, RunStatusCancelled.IsTerminal())
	require.False(t, RunStatusPending.IsTerminal())
	require.False(t, RunStatusRunning.IsTerminal())
	require.False(t, RunStatusPaused.IsTerminal())
}

func TestCopyValues(t *testing.T) {
	original := map[string]any{
		"scalar": 1.5,
		"nested": map[string]any{"list": []any{1, 2, 3}},
		"names":  []string{"a", "b"},
	}
	copied := CopyValues(original)
	require.Equal(t, original, copied)

	copied["nested"].(map[string]any)["list"].([]any)[0] = 99
	copied["names"].([]string)[0] = "z"
	require.Equal(t, 1, original["nested"].(map[string]any)["list"].([]any)[0])
	require.Equal(t, "a", original["names"].([]string)[0])

	require.Nil(t, CopyValues(nil))
}

func TestHandlerError(t *testing.T) {
	cause := errors.New("bad arithmetic")
	err := &HandlerError{Handler: "reduce_mixing", Err: cause}
	require.Contains(t, err.Error(), "reduce_mixing")
	require.ErrorIs(t, err, cause)
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := fmt.Errorf("submit failed: %w", &TransportError{Err: cause})

	var transportErr *TransportError
	require.ErrorAs(t, wrapped, &transportErr)
	require.ErrorIs(t, wrapped, cause)
}
