package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	eventbus "github.com/hanpama/bucketflow/internal/eventbus"
	events "github.com/hanpama/bucketflow/internal/events"
	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// RequestContext carries the ambient, request-scoped inputs of bucket
// execution. It is the only state shared across buckets of one request.
type RequestContext struct {
	// MetaByStep maps step ids to an opaque per-step scratchpad passed into
	// ExecuteExtra.Meta. Entries persist across buckets of the request.
	MetaByStep map[plan.StepID]any

	// Events receives diagnostic events. May be nil.
	Events *eventbus.Bus

	// Children handles the child-layer hand-off variants that expand new
	// buckets. May be nil when the plan has no such children.
	Children ChildDispatcher
}

func (rc *RequestContext) meta(id plan.StepID) any {
	if rc == nil || rc.MetaByStep == nil {
		return nil
	}
	return rc.MetaByStep[id]
}

func (rc *RequestContext) events() *eventbus.Bus {
	if rc == nil {
		return nil
	}
	return rc.Events
}

// shapeError marks a step contract violation: the returned column does not
// match the bucket's row count. Together with a sync-and-safe step returning a
// deferred cell, it is the class of step failure that escapes ExecuteBucket
// instead of traveling as an error value.
type shapeError struct {
	step      plan.StepID
	got, want int
}

func (e *shapeError) Error() string {
	return fmt.Sprintf("bucketflow: step %d returned a column of %d rows, want %d (programming error in the step)", e.step, e.got, e.want)
}

// completion carries one finished step from its invocation back to the
// scheduler loop.
type completion struct {
	step plan.Step
	col  plan.Column
	err  error
	// sawErrors reports that the reduced column contains error values.
	sawErrors bool
	// fast marks a sync-and-safe column published without a reduction pass.
	fast bool
}

type scheduler struct {
	ctx    context.Context
	bucket *Bucket
	req    *RequestContext

	pending     map[plan.StepID]struct{}
	inProgress  map[plan.StepID]struct{}
	outstanding int
	completions chan completion
	startedAt   map[plan.StepID]time.Time
}

// ExecuteBucket runs every step of the bucket's layer plan in dependency
// order, publishes one column per step, and then hands completed work off to
// the child layer plans.
//
// Step failures never escape: they are embedded into columns as error
// values. The returned error is reserved for contract violations (a step
// returning a malformed column or breaking its sync-and-safe promise) and
// planner violations discovered during child hand-off.
func ExecuteBucket(ctx context.Context, b *Bucket, req *RequestContext) error {
	if b.complete {
		return errors.New("bucketflow: internal error: bucket executed twice")
	}
	start := time.Now()
	req.events().Emit(ctx, events.BucketStart{
		Size:   b.size,
		Steps:  len(b.plan.Steps),
		Reason: b.plan.Reason.String(),
	})

	s := &scheduler{
		ctx:         ctx,
		bucket:      b,
		req:         req,
		pending:     make(map[plan.StepID]struct{}, len(b.plan.Steps)),
		inProgress:  make(map[plan.StepID]struct{}),
		completions: make(chan completion, len(b.plan.Steps)),
		startedAt:   make(map[plan.StepID]time.Time, len(b.plan.Steps)),
	}
	for _, st := range b.plan.Steps {
		s.pending[st.ID()] = struct{}{}
	}

	for _, st := range b.plan.StartSteps() {
		if err := s.dispatch(st); err != nil {
			return err
		}
	}
	for len(s.pending) > 0 {
		if s.outstanding == 0 {
			return fmt.Errorf("bucketflow: internal error: %d steps are not runnable (missing seed columns?)", len(s.pending))
		}
		c := <-s.completions
		s.outstanding--
		if err := s.complete(c); err != nil {
			return err
		}
	}

	if err := runHandoff(ctx, b, req); err != nil {
		return err
	}
	b.complete = true
	req.events().Emit(ctx, events.BucketFinish{
		Size:      b.size,
		Reason:    b.plan.Reason.String(),
		HasErrors: b.hasErrors,
		Duration:  time.Since(start),
	})
	return nil
}

// ready implements the ready predicate: the step is still pending, not in
// progress, and every dependency column is materialized.
func (s *scheduler) ready(st plan.Step) bool {
	id := st.ID()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	if _, ok := s.inProgress[id]; ok {
		return false
	}
	for _, dep := range st.Dependencies() {
		if _, ok := s.bucket.store[dep]; !ok {
			return false
		}
	}
	return true
}

// dispatch starts one step. Sync-and-safe steps are invoked inline on the
// scheduler goroutine and complete immediately; all other steps run on their
// own goroutine and report back through the completion channel.
func (s *scheduler) dispatch(st plan.Step) error {
	id := st.ID()
	s.inProgress[id] = struct{}{}
	s.startedAt[id] = time.Now()
	s.req.events().Emit(s.ctx, events.StepStart{Step: id})

	deps, err := s.gatherDependencies(st)
	if err != nil {
		return err
	}
	extra := &plan.ExecuteExtra{Meta: s.req.meta(id), Events: s.req.events()}
	hasErrors := s.bucket.hasErrors

	if st.SyncAndSafe() {
		col, err := invokeStep(s.ctx, st, deps, hasErrors, extra)
		return s.complete(completion{step: st, col: col, err: err, fast: true})
	}

	s.outstanding++
	go func() {
		col, err := invokeStep(s.ctx, st, deps, hasErrors, extra)
		var sawErrors bool
		if err == nil {
			col, sawErrors, err = reduceColumn(s.ctx, st.ID(), col, s.bucket.size)
		}
		s.completions <- completion{step: st, col: col, err: err, sawErrors: sawErrors}
	}()
	return nil
}

func (s *scheduler) gatherDependencies(st plan.Step) ([]plan.Column, error) {
	ids := st.Dependencies()
	if len(ids) == 0 {
		return []plan.Column{s.bucket.noDepsList}, nil
	}
	deps := make([]plan.Column, len(ids))
	for i, dep := range ids {
		col, ok := s.bucket.store[dep]
		if !ok {
			return nil, fmt.Errorf("bucketflow: internal error: step %d dispatched before dependency %d materialized", st.ID(), dep)
		}
		deps[i] = col
	}
	return deps, nil
}

// complete publishes one finished step and dispatches any dependents that
// became ready. Contract violations abort scheduling; every other failure is
// embedded into the published column.
func (s *scheduler) complete(c completion) error {
	id := c.step.ID()
	col := c.col

	switch {
	case c.err != nil:
		var shape *shapeError
		if errors.As(c.err, &shape) {
			return c.err
		}
		// Whole-batch failure: every row carries the same error value.
		ev := value.NewError(c.err, id)
		col = make(plan.Column, s.bucket.size)
		for i := range col {
			col[i] = ev
		}
		s.bucket.hasErrors = true
	case c.fast:
		if len(col) != s.bucket.size {
			return &shapeError{step: id, got: len(col), want: s.bucket.size}
		}
		for _, cell := range col {
			if _, ok := cell.(*value.Deferred); ok {
				return fmt.Errorf("bucketflow: step %d is marked sync-and-safe but returned a deferred cell (programming error in the step)", id)
			}
		}
	default:
		if c.sawErrors {
			s.bucket.hasErrors = true
		}
	}

	if err := s.bucket.setColumn(id, col); err != nil {
		return err
	}
	delete(s.inProgress, id)
	delete(s.pending, id)
	s.req.events().Emit(s.ctx, events.StepFinish{
		Step:     id,
		Failed:   c.err != nil,
		Duration: time.Since(s.startedAt[id]),
	})

	if len(s.pending) == 0 {
		return nil
	}
	for _, dep := range s.bucket.plan.DependentsOf(id) {
		if s.ready(dep) {
			if err := s.dispatch(dep); err != nil {
				return err
			}
		}
	}
	return nil
}

// reduceColumn settles a step's raw column: deferred cells are awaited
// positionally, rejections become error values tagged with the producing
// step, and the presence of any error cell is reported so the scheduler can
// raise the bucket's error flag. A column without deferred cells or errors is
// returned untouched.
func reduceColumn(ctx context.Context, id plan.StepID, col plan.Column, size int) (plan.Column, bool, error) {
	if len(col) != size {
		return nil, false, &shapeError{step: id, got: len(col), want: size}
	}
	saw := false
	for i, cell := range col {
		switch v := cell.(type) {
		case *value.Deferred:
			res, err := v.Await(ctx)
			if err != nil {
				col[i] = value.NewError(err, id)
				saw = true
				continue
			}
			if _, isErr := value.IsError(res); isErr {
				saw = true
			}
			col[i] = res
		case *value.ErrorValue:
			saw = true
		}
	}
	return col, saw, nil
}
