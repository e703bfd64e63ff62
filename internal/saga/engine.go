package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dafibh/deskflow/deskflow-backend/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultStepTimeout bounds each step execution and each compensation attempt
	DefaultStepTimeout = 10 * time.Second
	// DefaultCompensationTries is how many times an undo is attempted
	DefaultCompensationTries = 3
	// DefaultRetryInterval is the first backoff interval between undo attempts
	DefaultRetryInterval = 200 * time.Millisecond

	tracerName = "github.com/dafibh/deskflow/deskflow-backend/internal/saga"
)

// Config holds engine settings
type Config struct {
	StepTimeout       time.Duration
	CompensationTries uint
	RetryInterval     time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		StepTimeout:       DefaultStepTimeout,
		CompensationTries: DefaultCompensationTries,
		RetryInterval:     DefaultRetryInterval,
	}
}

// Engine executes step lists. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	logger  zerolog.Logger
	config  Config
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewEngine creates a new Engine
func NewEngine(logger zerolog.Logger, config Config) *Engine {
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultStepTimeout
	}
	if config.CompensationTries == 0 {
		config.CompensationTries = DefaultCompensationTries
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}

	return &Engine{
		logger:  logger.With().Str("component", "saga").Logger(),
		config:  config,
		metrics: telemetry.GetMetrics(),
		tracer:  otel.Tracer(tracerName),
	}
}

type completedStep struct {
	step     Step
	snapshot State
}

type branchResult struct {
	state State
	err   error
}

// Run executes steps in order against a copy of initial and returns the final
// state. On the first failure no further step starts; completed steps are
// compensated newest first and a *Failure is returned.
//
// ctx is checked before every stage. A stage already in flight is allowed to
// finish, and rollback is never cut short by ctx.
func (e *Engine) Run(ctx context.Context, workflow string, steps []Step, initial State) (State, error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("workflow", workflow))
	e.metrics.SagaRunsTotal.Add(ctx, 1, attrs)

	ctx, span := e.tracer.Start(ctx, workflow)
	defer span.End()

	logger := e.logger.With().Str("workflow", workflow).Logger()

	state := initial.Clone()
	var done []completedStep

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			logger.Warn().Err(err).Str("step", step.Name).Msg("Saga cancelled before step")
			return state, e.rollback(ctx, workflow, step.Name, err, done, span)
		}

		if step.branches != nil {
			results := e.runConcurrent(ctx, workflow, step.branches, state)

			var failed string
			var errs []error
			for i, branch := range step.branches {
				r := results[i]
				if r.err != nil {
					if failed == "" {
						failed = branch.Name
					}
					errs = append(errs, r.err)
					continue
				}
				for k, v := range r.state {
					state[k] = v
				}
				done = append(done, completedStep{step: branch, snapshot: r.state})
			}
			if len(errs) > 0 {
				return state, e.rollback(ctx, workflow, failed, errors.Join(errs...), done, span)
			}
			continue
		}

		if err := e.execute(ctx, workflow, step, state); err != nil {
			return state, e.rollback(ctx, workflow, step.Name, err, done, span)
		}
		done = append(done, completedStep{step: step, snapshot: state.Clone()})
	}

	logger.Debug().Int("steps", len(done)).Msg("Saga completed")
	return state, nil
}

func (e *Engine) runConcurrent(ctx context.Context, workflow string, branches []Step, base State) []branchResult {
	results := make([]branchResult, len(branches))

	var wg sync.WaitGroup
	for i, branch := range branches {
		branchState := base.Clone()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.execute(ctx, workflow, branch, branchState)
			results[i] = branchResult{state: branchState, err: err}
		}()
	}
	wg.Wait()

	return results
}

// execute runs one step under the step timeout. The step context is detached
// from caller cancellation so an in-flight remote call is never abandoned.
func (e *Engine) execute(ctx context.Context, workflow string, step Step, state State) (err error) {
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.StepTimeout)
	defer cancel()

	stepCtx, span := e.tracer.Start(stepCtx, step.Name)
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in step %s: %v", step.Name, r)
		}

		e.metrics.SagaStepDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(
				attribute.String("workflow", workflow),
				attribute.String("step", step.Name),
				attribute.Bool("ok", err == nil),
			))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn().
				Err(err).
				Str("workflow", workflow).
				Str("step", step.Name).
				Dur("duration", time.Since(start)).
				Msg("Saga step failed")
			return
		}

		e.logger.Debug().
			Str("workflow", workflow).
			Str("step", step.Name).
			Dur("duration", time.Since(start)).
			Msg("Saga step completed")
	}()

	return step.Execute(stepCtx, state)
}

// rollback compensates completed steps newest first and builds the Failure.
func (e *Engine) rollback(ctx context.Context, workflow, failedStep string, cause error, done []completedStep, span trace.Span) error {
	ctx = context.WithoutCancel(ctx)

	failure := &Failure{
		Workflow: workflow,
		Step:     failedStep,
		Cause:    cause,
	}

	for i := len(done) - 1; i >= 0; i-- {
		c := done[i]
		if c.step.Compensate == nil {
			continue
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", workflow),
			attribute.String("step", c.step.Name),
		)

		if err := e.compensate(ctx, c); err != nil {
			e.metrics.SagaCompensationFailuresTotal.Add(ctx, 1, attrs)
			e.logger.Error().
				Err(err).
				Str("workflow", workflow).
				Str("step", c.step.Name).
				Msg("Compensation failed, manual remediation required")
			failure.Unresolved = append(failure.Unresolved, CompensationError{Step: c.step.Name, Err: err})
			continue
		}

		e.metrics.SagaCompensationsTotal.Add(ctx, 1, attrs)
		failure.RolledBack = append(failure.RolledBack, c.step.Name)
	}

	runAttrs := metric.WithAttributes(attribute.String("workflow", workflow))
	e.metrics.SagaFailuresTotal.Add(ctx, 1, runAttrs)
	if !failure.Clean() {
		e.metrics.SagaUncleanRollbacksTotal.Add(ctx, 1, runAttrs)
	}

	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())

	e.logger.Warn().
		Err(cause).
		Str("workflow", workflow).
		Str("step", failedStep).
		Strs("rolled_back", failure.RolledBack).
		Int("unresolved", len(failure.Unresolved)).
		Msg("Saga rolled back")

	return failure
}

// compensate retries one undo with exponential backoff
func (e *Engine) compensate(ctx context.Context, c completedStep) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.RetryInterval

	operation := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
		defer cancel()
		return struct{}{}, e.safeCompensate(attemptCtx, c)
	}

	notify := func(err error, next time.Duration) {
		e.logger.Debug().
			Err(err).
			Str("step", c.step.Name).
			Dur("retry_in", next).
			Msg("Compensation attempt failed")
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.config.CompensationTries),
		backoff.WithNotify(notify),
	)
	return err
}

func (e *Engine) safeCompensate(ctx context.Context, c completedStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("panic compensating %s: %v", c.step.Name, r))
		}
	}()
	return c.step.Compensate(ctx, c.snapshot)
}
