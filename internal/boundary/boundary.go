// Package boundary converts completed buckets into a transport-ready result.
// It is the seam where in-band error values stop being data and become
// located errors.
package boundary

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	executor "github.com/hanpama/bucketflow/internal/executor"
	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// Output names one column of a bucket for inclusion in the result.
type Output struct {
	Name string
	Step plan.StepID
}

// Result is the user-visible outcome of a bucket: one row list per named
// output, with every error cell replaced by nil in Data and surfaced as a
// located error.
type Result struct {
	Data   map[string][]any `json:"data"`
	Errors gqlerror.List    `json:"errors,omitempty"`
}

// Collect walks the named output columns of a completed bucket. An error cell
// at row i of output name produces a located error with path [name, i]; the
// data slot holds nil. Plain values pass through untouched. Deferred cells
// cannot appear in a completed bucket, so one is reported as an internal
// error.
func Collect(b *executor.Bucket, outputs []Output) (*Result, error) {
	res := &Result{Data: make(map[string][]any, len(outputs))}
	for _, out := range outputs {
		col, ok := b.Column(out.Step)
		if !ok {
			return nil, fmt.Errorf("boundary: output %q refers to step %d, which published no column", out.Name, out.Step)
		}
		rows := make([]any, len(col))
		for i, cell := range col {
			if _, isDeferred := cell.(*value.Deferred); isDeferred {
				return nil, fmt.Errorf("boundary: output %q row %d holds an unsettled deferred cell", out.Name, i)
			}
			ev, isErr := value.IsError(cell)
			if !isErr {
				rows[i] = cell
				continue
			}
			rows[i] = nil
			res.Errors = append(res.Errors, locatedError(ev, out.Name, i))
		}
		res.Data[out.Name] = rows
	}
	return res, nil
}

func locatedError(ev *value.ErrorValue, output string, row int) *gqlerror.Error {
	return &gqlerror.Error{
		Err:     ev.Unwrap(),
		Message: ev.Unwrap().Error(),
		Path:    ast.Path{ast.PathName(output), ast.PathIndex(row)},
		Extensions: map[string]any{
			"step": int(ev.Origin()),
		},
	}
}
