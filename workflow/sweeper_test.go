package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewSweeper_DefaultThreshold(t *testing.T) {
	s := NewSweeper(newMemStore(), nil, 0, nil, nil)
	assert.Equal(t, DefaultStaleThreshold, s.Threshold())

	s = NewSweeper(newMemStore(), nil, time.Minute, nil, nil)
	assert.Equal(t, time.Minute, s.Threshold())
}

func TestSweeper_FailsStaleRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run := f.start()
	f.complete(run.ID, "a")
	f.complete(run.ID, "b")
	// a RUNNING c, a WAITING_INPUTS d and two finished steps
	c := f.stepFor(run.ID, "c")

	sweeper := NewSweeper(f.store, f.queue, 30*time.Minute, nil, zaptest.NewLogger(t))

	sweeper.now = func() time.Time { return testEpoch.Add(29 * time.Minute) }
	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "run is not stale yet")
	assert.Equal(t, RunRunning, f.run(run.ID).Status)

	sweeper.now = func() time.Time { return testEpoch.Add(31 * time.Minute) }
	res, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{RunsFailed: 1, StepsFailed: 2}, res)

	failed := f.run(run.ID)
	assert.Equal(t, RunFailed, failed.Status)
	assert.Equal(t, "Workflow timed out after 30m0s without completing", failed.ErrorMessage)
	require.NotNil(t, failed.CompletedAt)

	assert.Equal(t, StepCompleted, f.status(run.ID, "a"))
	assert.Equal(t, StepCompleted, f.status(run.ID, "b"))
	for _, id := range []string{"c", "d"} {
		st := f.stepFor(run.ID, id)
		assert.Equal(t, StepFailed, st.Status, id)
		assert.Equal(t, "Step timed out after 30m0s", st.ErrorMessage, id)
		require.NotNil(t, st.CompletedAt, id)
	}
	assert.Empty(t, f.stepFor(run.ID, "a").ErrorMessage, "finished steps keep their outcome")
	assert.Equal(t, []string{c.JobID}, f.queue.cancelled)

	res, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res, "second sweep is a no-op")
}

func TestSweeper_IgnoresTerminalRuns(t *testing.T) {
	f := newFixture(t)
	run := f.start()
	_, err := f.sched.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	sweeper := NewSweeper(f.store, nil, time.Minute, nil, nil)
	sweeper.now = func() time.Time { return testEpoch.Add(time.Hour) }
	res, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.RunsFailed)
	assert.Equal(t, RunCancelled, f.run(run.ID).Status)
}

func TestSweeper_LateCallbackAfterSweepIsDiscarded(t *testing.T) {
	f := newFixture(t)
	run := f.start()
	a := f.stepFor(run.ID, "a")

	sweeper := NewSweeper(f.store, f.queue, time.Minute, nil, nil)
	sweeper.now = func() time.Time { return testEpoch.Add(time.Hour) }
	_, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.sched.OnStepCompleted(context.Background(), a.ID, StepResult{Output: "late"}))
	assert.Equal(t, StepFailed, f.status(run.ID, "a"))
	assert.Equal(t, RunFailed, f.run(run.ID).Status)
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t)
	f.start()

	sweeper := NewSweeper(f.store, f.queue, time.Minute, nil, nil)
	sweeper.now = func() time.Time { return testEpoch.Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return f.run("run-1").Status == RunFailed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
