package executor

import (
	"context"
	"sync"

	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// RowFunc computes one output cell from the dependency cells of a single row,
// in declared dependency order. MockStep adapts it to the columnar contract.
type RowFunc func(ctx context.Context, row []any) (any, error)

// Invocation is one recorded Execute call. Rows holds the row count of the
// batch the step actually saw, which shrinks when errored rows are filtered
// out upstream.
type Invocation struct {
	Step plan.StepID
	Rows int
	Deps []plan.Column
}

// CallLog records step invocations in dispatch order. Steps running on
// concurrent goroutines append through a mutex; tests assert on ordering of
// the entries that have a dependency relation.
type CallLog struct {
	mu    sync.Mutex
	calls []Invocation
}

func (l *CallLog) record(inv Invocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, inv)
}

// Calls returns a copy of the recorded invocations in order.
func (l *CallLog) Calls() []Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Invocation, len(l.calls))
	copy(out, l.calls)
	return out
}

// Steps returns just the step ids of the recorded invocations, in order.
func (l *CallLog) Steps() []plan.StepID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]plan.StepID, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.Step
	}
	return out
}

// MockStep is a configurable plan.Step for tests. Fn runs once per row; Raw,
// when set, replaces the per-row adapter and returns the column as-is, which
// lets tests produce malformed shapes, deferred cells, or error cells
// directly. Panic, when set, makes Execute panic with the given value.
type MockStep struct {
	StepID   plan.StepID
	DependsOn []plan.StepID
	Sync     bool

	Fn    RowFunc
	Raw   func(ctx context.Context, deps []plan.Column) (plan.Column, error)
	Err   error
	Panic any

	Log *CallLog

	// Started is closed when Execute begins and Release, when non-nil, gates
	// its return. Tests use the pair to hold a step open and observe what the
	// scheduler does in the meantime.
	Started chan struct{}
	Release chan struct{}

	startOnce sync.Once
}

var _ plan.Step = (*MockStep)(nil)

func (m *MockStep) ID() plan.StepID            { return m.StepID }
func (m *MockStep) Dependencies() []plan.StepID { return m.DependsOn }
func (m *MockStep) SyncAndSafe() bool           { return m.Sync }

func (m *MockStep) Execute(ctx context.Context, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	if m.Log != nil {
		rows := 0
		if len(deps) > 0 {
			rows = len(deps[0])
		}
		m.Log.record(Invocation{Step: m.StepID, Rows: rows, Deps: deps})
	}
	if m.Started != nil {
		m.startOnce.Do(func() { close(m.Started) })
	}
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Raw != nil {
		return m.Raw(ctx, deps)
	}

	rows := 0
	if len(deps) > 0 {
		rows = len(deps[0])
	}
	out := make(plan.Column, rows)
	for i := 0; i < rows; i++ {
		row := make([]any, len(deps))
		for d, col := range deps {
			row[d] = col[i]
		}
		cell, err := m.fn()(ctx, row)
		if err != nil {
			out[i] = value.NewError(err, m.StepID)
			continue
		}
		out[i] = cell
	}
	return out, nil
}

func (m *MockStep) fn() RowFunc {
	if m.Fn != nil {
		return m.Fn
	}
	return func(ctx context.Context, row []any) (any, error) {
		if len(row) == 1 {
			return row[0], nil
		}
		vals := make([]any, len(row))
		copy(vals, row)
		return vals, nil
	}
}

// ConstStep returns a step without dependencies producing the same value in
// every row.
func ConstStep(id plan.StepID, log *CallLog, v any) *MockStep {
	return &MockStep{
		StepID: id,
		Log:    log,
		Fn:     func(ctx context.Context, row []any) (any, error) { return v, nil },
	}
}

// MapStep returns a step applying fn to each row of its dependencies.
func MapStep(id plan.StepID, deps []plan.StepID, log *CallLog, fn RowFunc) *MockStep {
	return &MockStep{StepID: id, DependsOn: deps, Log: log, Fn: fn}
}
