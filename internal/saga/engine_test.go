package saga

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures execution and compensation order across steps
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestEngine() *Engine {
	return NewEngine(zerolog.Nop(), Config{
		StepTimeout:       time.Second,
		CompensationTries: 3,
		RetryInterval:     time.Millisecond,
	})
}

func recordingStep(rec *recorder, name string, output int) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, state State) error {
			rec.add("do:" + name)
			state[name] = output
			return nil
		},
		Compensate: func(ctx context.Context, state State) error {
			rec.add("undo:" + name)
			return nil
		},
	}
}

func failingStep(rec *recorder, name string, err error) Step {
	return Step{
		Name: name,
		Execute: func(ctx context.Context, state State) error {
			rec.add("do:" + name)
			return err
		},
		Compensate: func(ctx context.Context, state State) error {
			rec.add("undo:" + name)
			return nil
		},
	}
}

func TestEngine_Run_ThreadsStateInOrder(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()

	steps := []Step{
		recordingStep(rec, "a", 1),
		{
			Name: "b",
			Execute: func(ctx context.Context, state State) error {
				a, err := Value[int](state, "a")
				if err != nil {
					return err
				}
				rec.add("do:b")
				state["b"] = a + 1
				return nil
			},
		},
		recordingStep(rec, "c", 3),
	}

	final, err := engine.Run(context.Background(), "test", steps, State{"seed": "x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"do:a", "do:b", "do:c"}, rec.list())
	assert.Equal(t, 1, final["a"])
	assert.Equal(t, 2, final["b"])
	assert.Equal(t, 3, final["c"])
	assert.Equal(t, "x", final["seed"])
}

func TestEngine_Run_DoesNotMutateInitialState(t *testing.T) {
	engine := newTestEngine()
	initial := State{"seed": 1}

	_, err := engine.Run(context.Background(), "test", []Step{recordingStep(&recorder{}, "a", 1)}, initial)
	require.NoError(t, err)

	assert.Equal(t, State{"seed": 1}, initial)
}

func TestEngine_Run_FailureCompensatesCompletedStepsInReverse(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()
	boom := errors.New("boom")

	steps := []Step{
		recordingStep(rec, "a", 1),
		recordingStep(rec, "b", 2),
		failingStep(rec, "c", boom),
		recordingStep(rec, "d", 4),
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)

	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, rec.list())

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "c", failure.Step)
	assert.Equal(t, []string{"b", "a"}, failure.RolledBack)
	assert.True(t, failure.Clean())
	assert.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCompensationFailed)
}

func TestEngine_Run_CompensationSeesSnapshotAfterItsStep(t *testing.T) {
	engine := newTestEngine()
	var seen State

	steps := []Step{
		{
			Name: "a",
			Execute: func(ctx context.Context, state State) error {
				state["a"] = "created"
				return nil
			},
			Compensate: func(ctx context.Context, state State) error {
				seen = state
				return nil
			},
		},
		{
			Name: "b",
			Execute: func(ctx context.Context, state State) error {
				state["b"] = "created"
				state["a"] = "overwritten"
				return nil
			},
		},
		failingStep(&recorder{}, "c", errors.New("boom")),
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)

	require.NotNil(t, seen)
	assert.Equal(t, "created", seen["a"])
	_, hasB := seen["b"]
	assert.False(t, hasB)
}

func TestEngine_Run_UnresolvedCompensationIsSurfaced(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()
	var attempts atomic.Int32
	stuck := errors.New("delete refused")

	steps := []Step{
		recordingStep(rec, "a", 1),
		{
			Name: "b",
			Execute: func(ctx context.Context, state State) error {
				return nil
			},
			Compensate: func(ctx context.Context, state State) error {
				attempts.Add(1)
				return stuck
			},
		},
		failingStep(rec, "c", errors.New("boom")),
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.False(t, failure.Clean())
	assert.Equal(t, []string{"a"}, failure.RolledBack)
	require.Len(t, failure.Unresolved, 1)
	assert.Equal(t, "b", failure.Unresolved[0].Step)
	assert.ErrorIs(t, failure.Unresolved[0].Err, stuck)
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, rec.list(), "undo:a")
}

func TestEngine_Run_CompensationRetrySucceeds(t *testing.T) {
	engine := newTestEngine()
	var attempts atomic.Int32

	steps := []Step{
		{
			Name:    "a",
			Execute: func(ctx context.Context, state State) error { return nil },
			Compensate: func(ctx context.Context, state State) error {
				if attempts.Add(1) < 2 {
					return errors.New("transient")
				}
				return nil
			},
		},
		failingStep(&recorder{}, "b", errors.New("boom")),
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.True(t, failure.Clean())
	assert.Equal(t, []string{"a"}, failure.RolledBack)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestEngine_Run_ConcurrentStage(t *testing.T) {
	engine := newTestEngine()

	// Every branch waits until all have started, which only succeeds when
	// they really run at the same time.
	const branches = 3
	var started sync.WaitGroup
	started.Add(branches)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	branch := func(name string) Step {
		return Step{
			Name: name,
			Execute: func(ctx context.Context, state State) error {
				started.Done()
				select {
				case <-allStarted:
				case <-ctx.Done():
					return ctx.Err()
				}
				state[name] = state["base"].(int) + 1
				return nil
			},
		}
	}

	steps := []Step{
		{
			Name: "base",
			Execute: func(ctx context.Context, state State) error {
				state["base"] = 10
				return nil
			},
		},
		Concurrent("fan-out", branch("x"), branch("y"), branch("z")),
		{
			Name: "join",
			Execute: func(ctx context.Context, state State) error {
				state["sum"] = state["x"].(int) + state["y"].(int) + state["z"].(int)
				return nil
			},
		},
	}

	final, err := engine.Run(context.Background(), "test", steps, nil)
	require.NoError(t, err)
	assert.Equal(t, 33, final["sum"])
}

func TestEngine_Run_ConcurrentBranchFailureCompensatesSiblings(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()
	boom := errors.New("boom")

	steps := []Step{
		recordingStep(rec, "a", 1),
		Concurrent("fan-out",
			recordingStep(rec, "x", 1),
			failingStep(rec, "y", boom),
			recordingStep(rec, "z", 1),
		),
		recordingStep(rec, "after", 1),
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "y", failure.Step)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"z", "x", "a"}, failure.RolledBack)

	events := rec.list()
	assert.NotContains(t, events, "do:after")
	assert.NotContains(t, events, "undo:y")
	assert.Equal(t, "undo:a", events[len(events)-1])
}

func TestEngine_Run_CancelledBetweenSteps(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steps := []Step{
		{
			Name: "a",
			Execute: func(stepCtx context.Context, state State) error {
				rec.add("do:a")
				cancel()
				// the in-flight step is not cut short by the caller
				return stepCtx.Err()
			},
			Compensate: func(ctx context.Context, state State) error {
				rec.add("undo:a")
				return ctx.Err()
			},
		},
		recordingStep(rec, "b", 2),
	}

	_, err := engine.Run(ctx, "test", steps, nil)
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "b", failure.Step)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, failure.Clean())
	assert.Equal(t, []string{"do:a", "undo:a"}, rec.list())
}

func TestEngine_Run_StepTimeoutIsFailure(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), Config{
		StepTimeout:       20 * time.Millisecond,
		CompensationTries: 1,
		RetryInterval:     time.Millisecond,
	})

	steps := []Step{
		{
			Name: "slow",
			Execute: func(ctx context.Context, state State) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrStepFailed)
}

func TestEngine_Run_PanicBecomesFailure(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine()

	steps := []Step{
		recordingStep(rec, "a", 1),
		{
			Name: "explode",
			Execute: func(ctx context.Context, state State) error {
				panic("nil map")
			},
		},
	}

	_, err := engine.Run(context.Background(), "test", steps, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in step explode")
	assert.Equal(t, []string{"do:a", "undo:a"}, rec.list())
}

func TestEngine_Run_RejectsInvalidDefinition(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Run(context.Background(), "test", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestEngine_LogsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	engine := NewEngine(zerolog.New(&buf), Config{
		StepTimeout:       time.Second,
		CompensationTries: 1,
		RetryInterval:     time.Millisecond,
	})
	rec := &recorder{}

	_, err := engine.Run(context.Background(), "logged", []Step{
		recordingStep(rec, "a", 1),
		failingStep(rec, "b", errors.New("boom")),
	}, State{})
	require.Error(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"component":`), line)
		assert.Contains(t, line, `"component":"saga"`)
	}
}

func TestValidate(t *testing.T) {
	noop := func(ctx context.Context, state State) error { return nil }

	tests := []struct {
		name    string
		steps   []Step
		wantErr bool
	}{
		{
			name:  "valid plain and concurrent steps",
			steps: []Step{{Name: "a", Execute: noop}, Concurrent("fan", Step{Name: "b", Execute: noop}, Step{Name: "c", Execute: noop})},
		},
		{
			name:    "empty list",
			steps:   nil,
			wantErr: true,
		},
		{
			name:    "unnamed step",
			steps:   []Step{{Execute: noop}},
			wantErr: true,
		},
		{
			name:    "duplicate names across stages",
			steps:   []Step{{Name: "a", Execute: noop}, Concurrent("fan", Step{Name: "a", Execute: noop})},
			wantErr: true,
		},
		{
			name:    "missing execute",
			steps:   []Step{{Name: "a"}},
			wantErr: true,
		},
		{
			name:    "empty concurrent stage",
			steps:   []Step{Concurrent("fan")},
			wantErr: true,
		},
		{
			name:    "nested concurrent stage",
			steps:   []Step{Concurrent("outer", Concurrent("inner", Step{Name: "a", Execute: noop}))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.steps)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDefinition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValue(t *testing.T) {
	state := State{"id": "abc", "count": 3}

	id, err := Value[string](state, "id")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = Value[string](state, "missing")
	assert.ErrorIs(t, err, ErrMissingValue)

	_, err = Value[string](state, "count")
	assert.ErrorIs(t, err, ErrMissingValue)
}
