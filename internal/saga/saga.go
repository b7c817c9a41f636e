// Package saga runs a fixed list of steps and, when one fails, the
// compensations of the steps that already completed, newest first.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-saga/internal/saga")

type Step struct {
	Name string
	Do   func(ctx context.Context) error
	// Compensate undoes Do. Nil when the step has nothing to undo.
	Compensate func(ctx context.Context) error
	// Indeterminate reports whether a failed Do may still have taken effect
	// (timeout, transport error). Its own Compensate then runs as well, so
	// Compensate must be safe when Do did nothing.
	Indeterminate func(err error) bool
}

// CompensationError is returned when the saga failed and at least one
// compensation failed too. It needs manual remediation.
type CompensationError struct {
	Saga     string
	Step     string
	Cause    error
	Failures map[string]error
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for step, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", step, err))
	}
	return fmt.Sprintf("saga %s: step %s failed (%v); compensation failed: %s", e.Saga, e.Step, e.Cause, strings.Join(parts, "; "))
}

func (e *CompensationError) Unwrap() []error { return []error{e.Cause, apperr.ErrCompensation} }

// StepError wraps the failing step's error.
type StepError struct {
	Saga string
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

type Saga struct {
	Name string
	Log  zerolog.Logger
}

// Run executes steps in order. Compensations run on a context detached from
// ctx cancellation so an aborted request still unwinds.
func (s Saga) Run(ctx context.Context, steps ...Step) error {
	ctx, span := tracer.Start(ctx, "saga."+s.Name)
	defer span.End()

	for i, st := range steps {
		sctx, sspan := tracer.Start(ctx, "step."+st.Name)
		err := st.Do(sctx)
		sspan.End()
		if err == nil {
			continue
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, st.Name)
		span.SetAttributes(attribute.String("saga.failed_step", st.Name))

		done := steps[:i]
		if st.Indeterminate != nil && st.Indeterminate(err) {
			done = steps[:i+1]
		}
		failures := s.compensate(context.WithoutCancel(ctx), done, st.Name, err)
		if len(failures) > 0 {
			metrics.SagaRuns.WithLabelValues(s.Name, "compensation_failed").Inc()
			return &CompensationError{Saga: s.Name, Step: st.Name, Cause: err, Failures: failures}
		}
		metrics.SagaRuns.WithLabelValues(s.Name, "aborted").Inc()
		return &StepError{Saga: s.Name, Step: st.Name, Err: err}
	}
	metrics.SagaRuns.WithLabelValues(s.Name, "ok").Inc()
	return nil
}

func (s Saga) compensate(ctx context.Context, done []Step, failed string, cause error) map[string]error {
	failures := map[string]error{}
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Compensate == nil {
			continue
		}
		if err := st.Compensate(ctx); err != nil {
			failures[st.Name] = err
			// log terpisah supaya bisa di-route ke manual remediation
			s.Log.Error().Err(err).
				Bool("compensation", true).
				Str("saga", s.Name).
				Str("step", st.Name).
				Str("failedStep", failed).
				AnErr("cause", cause).
				Msg("compensation failed")
			continue
		}
		s.Log.Info().Str("saga", s.Name).Str("step", st.Name).Msg("compensated")
	}
	return failures
}

// IsCompensationFailure reports whether err carries a failed compensation.
func IsCompensationFailure(err error) bool {
	var ce *CompensationError
	return errors.As(err, &ce)
}
