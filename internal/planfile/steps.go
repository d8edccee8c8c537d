package planfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

type stepBase struct {
	id       plan.StepID
	name     string
	deps     []plan.StepID
	depNames []string
}

func (b *stepBase) ID() plan.StepID            { return b.id }
func (b *stepBase) Dependencies() []plan.StepID { return b.deps }

func rowCount(deps []plan.Column) int {
	if len(deps) == 0 {
		return 0
	}
	return len(deps[0])
}

// constStep produces a literal column, cycling its values to the bucket size.
type constStep struct {
	stepBase
	values []any
}

func (s *constStep) SyncAndSafe() bool { return true }

func (s *constStep) Execute(ctx context.Context, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	rows := rowCount(deps)
	out := make(plan.Column, rows)
	for i := range out {
		out[i] = s.values[i%len(s.values)]
	}
	return out, nil
}

// mapStep evaluates an HCL expression once per row, with each dependency's
// cell bound under its step name. With async it fans each row out as a
// deferred cell.
type mapStep struct {
	stepBase
	expr     hcl.Expression
	syncSafe bool
	async    bool
}

func (s *mapStep) SyncAndSafe() bool { return s.syncSafe }

func (s *mapStep) Execute(ctx context.Context, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	rows := rowCount(deps)
	out := make(plan.Column, rows)
	for i := 0; i < rows; i++ {
		evalCtx, err := s.rowEvalContext(deps, i)
		if err != nil {
			return nil, err
		}
		if s.async {
			out[i] = value.Defer(func() (any, error) { return s.evalRow(evalCtx) })
			continue
		}
		v, err := s.evalRow(evalCtx)
		if err != nil {
			if s.syncSafe {
				return nil, fmt.Errorf("map step %q: %w", s.name, err)
			}
			out[i] = value.NewError(err, s.id)
			continue
		}
		out[i] = v
	}
	return out, nil
}

func (s *mapStep) rowEvalContext(deps []plan.Column, row int) (*hcl.EvalContext, error) {
	vars := make(map[string]cty.Value, len(s.depNames))
	for d, name := range s.depNames {
		cv, err := goToCty(deps[d][row])
		if err != nil {
			return nil, fmt.Errorf("map step %q: dependency %q row %d: %w", s.name, name, row, err)
		}
		vars[name] = cv
	}
	return &hcl.EvalContext{Variables: vars}, nil
}

func (s *mapStep) evalRow(evalCtx *hcl.EvalContext) (any, error) {
	v, diags := s.expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, errors.New(diags.Error())
	}
	return ctyToGo(v)
}

// failStep errors rows on purpose. Without a rows list the whole column
// fails; with one, only the listed row indexes fail and the rest pass their
// first dependency through (or a Unit placeholder without dependencies).
type failStep struct {
	stepBase
	message string
	rows    []int
}

func (s *failStep) SyncAndSafe() bool { return false }

func (s *failStep) Execute(ctx context.Context, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	rows := rowCount(deps)
	failing := make(map[int]struct{}, len(s.rows))
	for _, r := range s.rows {
		failing[r] = struct{}{}
	}
	out := make(plan.Column, rows)
	for i := range out {
		if _, fail := failing[i]; fail || len(s.rows) == 0 {
			out[i] = value.NewError(errors.New(s.message), s.id)
			continue
		}
		out[i] = deps[0][i]
	}
	return out, nil
}

// delayStep passes its single dependency through after a pause, one deferred
// cell per row.
type delayStep struct {
	stepBase
	duration time.Duration
}

func (s *delayStep) SyncAndSafe() bool { return false }

func (s *delayStep) Execute(ctx context.Context, deps []plan.Column, extra *plan.ExecuteExtra) (plan.Column, error) {
	out := make(plan.Column, len(deps[0]))
	for i, cell := range deps[0] {
		out[i] = value.Defer(func() (any, error) {
			select {
			case <-time.After(s.duration):
				return cell, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	}
	return out, nil
}
