package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// Pattern: Error-value propagation
func TestErrors_RowFailure_PropagatesWithoutReexecution(t *testing.T) {
	log := &CallLog{}
	boom := errors.New("boom")
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{
			&MockStep{
				StepID: 1,
				Log:    log,
				Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
					return plan.Column{"ok", value.NewError(boom, 1), "ok"}, nil
				},
			},
			MapStep(2, []plan.StepID{1}, log, func(ctx context.Context, row []any) (any, error) {
				return row[0].(string) + "!", nil
			}),
		},
	)
	b := mustBucket(t, lp, 3, nil)
	mustExecute(t, b, &RequestContext{})

	if !b.HasErrors() {
		t.Fatal("bucket should be flagged as carrying errors")
	}

	// The downstream step saw only the two healthy rows.
	calls := log.Calls()
	if len(calls) != 2 {
		t.Fatalf("want 2 invocations, got %d", len(calls))
	}
	if calls[1].Step != 2 || calls[1].Rows != 2 {
		t.Fatalf("step 2 should see a reduced batch of 2 rows, got step %d with %d rows", calls[1].Step, calls[1].Rows)
	}

	col := column(t, b, 2)
	if got := col[0]; got != "ok!" {
		t.Fatalf("row 0: want %q, got %v", "ok!", got)
	}
	ev, ok := value.IsError(col[1])
	if !ok {
		t.Fatalf("row 1: want error value, got %v", col[1])
	}
	if ev.Origin() != 1 {
		t.Fatalf("row 1: error should keep its origin step 1, got %d", ev.Origin())
	}
	if !errors.Is(ev.Unwrap(), boom) {
		t.Fatalf("row 1: error should wrap the original failure, got %v", ev.Unwrap())
	}
	if got := col[2]; got != "ok!" {
		t.Fatalf("row 2: want %q, got %v", "ok!", got)
	}
}

func TestErrors_AllRowsErrored_StepNotInvoked(t *testing.T) {
	log := &CallLog{}
	boom := errors.New("boom")
	downstream := MapStep(2, []plan.StepID{1}, log, func(ctx context.Context, row []any) (any, error) {
		return nil, nil
	})
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{
			&MockStep{
				StepID: 1,
				Log:    log,
				Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
					return plan.Column{value.NewError(boom, 1), value.NewError(boom, 1)}, nil
				},
			},
			downstream,
		},
	)
	b := mustBucket(t, lp, 2, nil)
	mustExecute(t, b, &RequestContext{})

	wantSteps := []plan.StepID{1}
	if diff := cmp.Diff(wantSteps, log.Steps()); diff != "" {
		t.Fatalf("step 2 must not execute when every row errored (-want +got):\n%s", diff)
	}
	col := column(t, b, 2)
	for i, cell := range col {
		if _, ok := value.IsError(cell); !ok {
			t.Fatalf("row %d: want error value, got %v", i, cell)
		}
	}
}

func TestErrors_FirstErrorPerRow_DeclaredDependencyOrder(t *testing.T) {
	errA := errors.New("from a")
	errB := errors.New("from b")
	log := &CallLog{}
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{
			&MockStep{StepID: 1, Log: log, Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
				return plan.Column{value.NewError(errA, 1), "a"}, nil
			}},
			&MockStep{StepID: 2, Log: log, Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
				return plan.Column{value.NewError(errB, 2), value.NewError(errB, 2)}, nil
			}},
			MapStep(3, []plan.StepID{1, 2}, log, func(ctx context.Context, row []any) (any, error) {
				return nil, nil
			}),
		},
	)
	b := mustBucket(t, lp, 2, nil)
	mustExecute(t, b, &RequestContext{})

	col := column(t, b, 3)
	ev0, ok := value.IsError(col[0])
	if !ok || !errors.Is(ev0.Unwrap(), errA) {
		t.Fatalf("row 0: want the first declared dependency's error, got %v", col[0])
	}
	ev1, ok := value.IsError(col[1])
	if !ok || !errors.Is(ev1.Unwrap(), errB) {
		t.Fatalf("row 1: want the second dependency's error, got %v", col[1])
	}
}

// Pattern: Whole-batch failure
func TestErrors_StepReturnsError_BroadcastsToEveryRow(t *testing.T) {
	boom := errors.New("backend down")
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{&MockStep{StepID: 1, Err: boom}},
	)
	b := mustBucket(t, lp, 3, nil)
	mustExecute(t, b, &RequestContext{})

	if !b.HasErrors() {
		t.Fatal("bucket should be flagged as carrying errors")
	}
	col := column(t, b, 1)
	for i, cell := range col {
		ev, ok := value.IsError(cell)
		if !ok {
			t.Fatalf("row %d: want error value, got %v", i, cell)
		}
		if !errors.Is(ev.Unwrap(), boom) {
			t.Fatalf("row %d: want wrapped %v, got %v", i, boom, ev.Unwrap())
		}
		if ev.Origin() != 1 {
			t.Fatalf("row %d: want origin 1, got %d", i, ev.Origin())
		}
	}
}

func TestErrors_StepPanics_BecomesBroadcastError(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{&MockStep{StepID: 1, Panic: "nil map write"}},
	)
	b := mustBucket(t, lp, 2, nil)
	mustExecute(t, b, &RequestContext{})

	col := column(t, b, 1)
	ev, ok := value.IsError(col[0])
	if !ok {
		t.Fatalf("want error value, got %v", col[0])
	}
	if !strings.Contains(ev.Unwrap().Error(), "panicked") {
		t.Fatalf("want panic surfaced in error, got %v", ev.Unwrap())
	}
}

func TestErrors_DeferredRejection_BecomesRowError(t *testing.T) {
	boom := errors.New("late failure")
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{
			&MockStep{StepID: 1, Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
				return plan.Column{
					value.Defer(func() (any, error) { return nil, boom }),
					value.Defer(func() (any, error) { return "fine", nil }),
				}, nil
			}},
		},
	)
	b := mustBucket(t, lp, 2, nil)
	mustExecute(t, b, &RequestContext{})

	if !b.HasErrors() {
		t.Fatal("bucket should be flagged as carrying errors")
	}
	col := column(t, b, 1)
	ev, ok := value.IsError(col[0])
	if !ok || !errors.Is(ev.Unwrap(), boom) {
		t.Fatalf("row 0: want rejection as error value, got %v", col[0])
	}
	if col[1] != "fine" {
		t.Fatalf("row 1: want %q, got %v", "fine", col[1])
	}
}

// Pattern: Contract violation escapes
func TestErrors_WrongColumnLength_AbortsExecution(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{&MockStep{StepID: 1, Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
			return plan.Column{"only one"}, nil
		}}},
	)
	b := mustBucket(t, lp, 3, nil)
	err := ExecuteBucket(context.Background(), b, &RequestContext{})
	var shape *shapeError
	if !errors.As(err, &shape) {
		t.Fatalf("want shape error, got %v", err)
	}
	if shape.got != 1 || shape.want != 3 {
		t.Fatalf("want got=1 want=3, got %+v", shape)
	}
}

func TestErrors_SyncSafeStep_DeferredCellAborts(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{&MockStep{StepID: 1, Sync: true, Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
			return plan.Column{value.Resolved("sneaky")}, nil
		}}},
	)
	b := mustBucket(t, lp, 1, nil)
	err := ExecuteBucket(context.Background(), b, &RequestContext{})
	if err == nil || !strings.Contains(err.Error(), "sync-and-safe") {
		t.Fatalf("want sync-and-safe contract violation, got %v", err)
	}
}

func TestErrors_SyncSafeStep_RunsInline(t *testing.T) {
	log := &CallLog{}
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{
			&MockStep{StepID: 1, Sync: true, Log: log, Fn: func(ctx context.Context, row []any) (any, error) {
				return "fast", nil
			}},
			MapStep(2, []plan.StepID{1}, log, func(ctx context.Context, row []any) (any, error) {
				return row[0], nil
			}),
		},
	)
	b := mustBucket(t, lp, 2, nil)
	mustExecute(t, b, &RequestContext{})

	wantCol := plan.Column{"fast", "fast"}
	if diff := cmp.Diff(wantCol, column(t, b, 2)); diff != "" {
		t.Fatalf("column mismatch (-want +got):\n%s", diff)
	}
}
