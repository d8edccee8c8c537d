package executor

import (
	"context"
	"fmt"

	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// invokeStep is the single entry point through which the scheduler calls
// Step.Execute. It guarantees that a panicking step surfaces as an ordinary
// error instead of tearing down the scheduler or abandoning sibling work,
// and it routes through error filtering once the bucket carries errors.
func invokeStep(ctx context.Context, st plan.Step, deps []plan.Column, hasErrors bool, extra *plan.ExecuteExtra) (col plan.Column, err error) {
	defer func() {
		if r := recover(); r != nil {
			col, err = nil, fmt.Errorf("step %d panicked: %v", st.ID(), r)
		}
	}()
	if hasErrors {
		return invokeWithErrorFiltering(ctx, st, deps, extra)
	}
	return st.Execute(ctx, deps, extra)
}

// invokeWithErrorFiltering implements the error-aware invocation discipline:
// rows whose dependency inputs already carry an error are not re-executed;
// their outputs are defined to be the same upstream error value.
//
// The step sees a reduced batch with the errored rows dropped, and its
// results are merged back positionally so per-row identity survives the
// round trip.
func invokeWithErrorFiltering(ctx context.Context, st plan.Step, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	rows := 0
	if len(deps) > 0 {
		rows = len(deps[0])
	}

	// First error per row, scanning dependency columns in declared order.
	errorsByRow := make(map[int]*value.ErrorValue)
	for _, col := range deps {
		for i, cell := range col {
			if ev, ok := value.IsError(cell); ok {
				if _, seen := errorsByRow[i]; !seen {
					errorsByRow[i] = ev
				}
			}
		}
	}
	if len(errorsByRow) == 0 {
		return st.Execute(ctx, deps, extra)
	}

	// Every row errored: the step is not invoked at all.
	if len(errorsByRow) == rows {
		merged := make(plan.Column, rows)
		for i := range merged {
			merged[i] = errorsByRow[i]
		}
		return merged, nil
	}

	filtered := make([]plan.Column, len(deps))
	for d, col := range deps {
		reduced := make(plan.Column, 0, rows-len(errorsByRow))
		for i, cell := range col {
			if _, skip := errorsByRow[i]; !skip {
				reduced = append(reduced, cell)
			}
		}
		filtered[d] = reduced
	}

	res, err := st.Execute(ctx, filtered, extra)
	if err != nil {
		return nil, err
	}
	if len(res) != rows-len(errorsByRow) {
		return nil, &shapeError{step: st.ID(), got: len(res), want: rows - len(errorsByRow)}
	}

	merged := make(plan.Column, rows)
	next := 0
	for i := range merged {
		if ev, ok := errorsByRow[i]; ok {
			merged[i] = ev
			continue
		}
		merged[i] = res[next]
		next++
	}
	if next != len(res) {
		return nil, fmt.Errorf("bucketflow: internal error: merged %d of %d filtered results for step %d", next, len(res), st.ID())
	}
	return merged, nil
}
