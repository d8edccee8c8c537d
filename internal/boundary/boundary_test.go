package boundary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	executor "github.com/hanpama/bucketflow/internal/executor"
	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

func runBucket(t *testing.T, steps []plan.Step, size int) *executor.Bucket {
	t.Helper()
	lp := plan.MustNew(plan.ReasonRoot, steps)
	b, err := executor.NewBucket(lp, size, nil)
	require.NoError(t, err)
	require.NoError(t, executor.ExecuteBucket(context.Background(), b, &executor.RequestContext{}))
	return b
}

func TestCollect_PlainValuesPassThrough(t *testing.T) {
	b := runBucket(t, []plan.Step{executor.ConstStep(1, nil, "v")}, 2)
	res, err := Collect(b, []Output{{Name: "out", Step: 1}})
	require.NoError(t, err)
	assert.Equal(t, []any{"v", "v"}, res.Data["out"])
	assert.Empty(t, res.Errors)
}

func TestCollect_ErrorCellsBecomeLocatedErrors(t *testing.T) {
	boom := errors.New("row exploded")
	step := &executor.MockStep{
		StepID: 1,
		Raw: func(ctx context.Context, deps []plan.Column) (plan.Column, error) {
			return plan.Column{"ok", value.NewError(boom, 1), "ok"}, nil
		},
	}
	b := runBucket(t, []plan.Step{step}, 3)

	res, err := Collect(b, []Output{{Name: "items", Step: 1}})
	require.NoError(t, err)

	assert.Equal(t, []any{"ok", nil, "ok"}, res.Data["items"])
	require.Len(t, res.Errors, 1)
	ge := res.Errors[0]
	assert.Equal(t, "row exploded", ge.Message)
	assert.Equal(t, ast.Path{ast.PathName("items"), ast.PathIndex(1)}, ge.Path)
	assert.Equal(t, 1, ge.Extensions["step"])
	assert.ErrorIs(t, ge.Err, boom)
}

func TestCollect_UnknownOutputStep(t *testing.T) {
	b := runBucket(t, []plan.Step{executor.ConstStep(1, nil, "v")}, 1)
	_, err := Collect(b, []Output{{Name: "missing", Step: 99}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestCollect_MultipleOutputs(t *testing.T) {
	steps := []plan.Step{
		executor.ConstStep(1, nil, 1),
		executor.MapStep(2, []plan.StepID{1}, nil, func(ctx context.Context, row []any) (any, error) {
			return row[0].(int) * 2, nil
		}),
	}
	b := runBucket(t, steps, 2)
	res, err := Collect(b, []Output{{Name: "base", Step: 1}, {Name: "double", Step: 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 1}, res.Data["base"])
	assert.Equal(t, []any{2, 2}, res.Data["double"])
}
