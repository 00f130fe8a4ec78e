package controller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/deepnoodle-ai/reflow"
	"github.com/stretchr/testify/require"
)

func TestRetryingRunnerRecovers(t *testing.T) {
	calls := 0
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		calls++
		if calls < 3 {
			return nil, &reflow.TransportError{Err: fmt.Errorf("scheduler unreachable")}
		}
		return &reflow.TerminationSignal{Status: reflow.StatusOK}, nil
	})

	runner := NewRetryingRunner(inner,
		WithMaxRetries(5),
		WithBaseWait(time.Millisecond),
		WithMaxWait(5*time.Millisecond))

	signal, err := runner.Run(context.Background(), testItem(map[string]any{"kpoints": 8}))
	require.NoError(t, err)
	require.True(t, signal.OK())
	require.Equal(t, 3, calls)
}

func TestRetryingRunnerExhaustion(t *testing.T) {
	calls := 0
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		calls++
		return nil, &reflow.TransportError{Err: fmt.Errorf("connection refused")}
	})

	runner := NewRetryingRunner(inner,
		WithMaxRetries(3),
		WithBaseWait(time.Millisecond),
		WithMaxWait(2*time.Millisecond))

	_, err := runner.Run(context.Background(), testItem(map[string]any{"kpoints": 8}))
	require.Error(t, err)
	require.ErrorIs(t, err, reflow.ErrTransportExhausted)
	require.Contains(t, err.Error(), "connection refused")
	require.Equal(t, 3, calls)
}

func TestRetryingRunnerPassesThroughDomainFailures(t *testing.T) {
	// A nonzero-status signal is a domain failure, not transport trouble.
	// The retrying layer must hand it straight to the controller.
	calls := 0
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		calls++
		return &reflow.TerminationSignal{Status: reflow.StatusWalltimeExceeded}, nil
	})

	runner := NewRetryingRunner(inner, WithBaseWait(time.Millisecond))
	signal, err := runner.Run(context.Background(), testItem(map[string]any{"kpoints": 8}))
	require.NoError(t, err)
	require.Equal(t, reflow.StatusWalltimeExceeded, signal.Status)
	require.Equal(t, 1, calls)
}

func TestRetryingRunnerPassesThroughOtherErrors(t *testing.T) {
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		return nil, fmt.Errorf("disk full")
	})

	runner := NewRetryingRunner(inner, WithMaxRetries(5), WithBaseWait(time.Millisecond))
	_, err := runner.Run(context.Background(), testItem(map[string]any{"kpoints": 8}))
	require.Error(t, err)
	require.NotErrorIs(t, err, reflow.ErrTransportExhausted)
	require.Contains(t, err.Error(), "disk full")
}

func TestRetryingRunnerClampsRetryBudget(t *testing.T) {
	// Zero or negative budgets fall back to the default instead of producing
	// a runner that never invokes its inner runner.
	calls := 0
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		calls++
		return nil, &reflow.TransportError{Err: fmt.Errorf("timeout")}
	})

	runner := NewRetryingRunner(inner,
		WithMaxRetries(0),
		WithBaseWait(time.Millisecond),
		WithMaxWait(2*time.Millisecond))

	_, err := runner.Run(context.Background(), testItem(map[string]any{"kpoints": 8}))
	require.Error(t, err)
	require.ErrorIs(t, err, reflow.ErrTransportExhausted)
	require.Equal(t, DefaultTransportRetries, calls)
}

func TestRetryingRunnerRespectsContext(t *testing.T) {
	inner := reflow.RunnerFunc(func(ctx context.Context, item *reflow.WorkItem) (*reflow.TerminationSignal, error) {
		return nil, &reflow.TransportError{Err: fmt.Errorf("timeout")}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRetryingRunner(inner, WithBaseWait(time.Hour))
	_, err := runner.Run(ctx, testItem(map[string]any{"kpoints": 8}))
	require.ErrorIs(t, err, context.Canceled)
}
