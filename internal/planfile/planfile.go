// Package planfile loads static layer-plan definitions from HCL. A planfile
// stands in for the query planner so the CLI and the HTTP server can execute
// real plans; it describes steps, their dependencies, and the named output
// columns of the resulting bucket.
package planfile

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	boundary "github.com/hanpama/bucketflow/internal/boundary"
	plan "github.com/hanpama/bucketflow/internal/plan"
)

// Plan is a loaded planfile: the layer plan, the named outputs to collect,
// the externally seeded input columns, and the default bucket size to use
// when the caller supplies none.
type Plan struct {
	Layer   *plan.LayerPlan
	Inputs  []Input
	Outputs []boundary.Output
	Size    int

	idByName map[string]plan.StepID
}

// Input declares a column the caller seeds into the bucket instead of a step
// computing it.
type Input struct {
	Name string
	Step plan.StepID
}

// Seed assembles the bucket seed map from caller-provided columns keyed by
// input name. Every declared input must be present.
func (p *Plan) Seed(inputs map[string][]any) (map[plan.StepID]plan.Column, error) {
	if len(p.Inputs) == 0 && len(inputs) == 0 {
		return nil, nil
	}
	declared := make(map[string]struct{}, len(p.Inputs))
	seed := make(map[plan.StepID]plan.Column, len(p.Inputs))
	for _, in := range p.Inputs {
		declared[in.Name] = struct{}{}
		col, ok := inputs[in.Name]
		if !ok {
			return nil, fmt.Errorf("planfile: missing input %q", in.Name)
		}
		seed[in.Step] = plan.Column(col)
	}
	for name := range inputs {
		if _, ok := declared[name]; !ok {
			return nil, fmt.Errorf("planfile: unknown input %q", name)
		}
	}
	return seed, nil
}

// StepID resolves a step name from the planfile to its assigned id.
func (p *Plan) StepID(name string) (plan.StepID, bool) {
	id, ok := p.idByName[name]
	return id, ok
}

type fileRoot struct {
	Size    *int           `hcl:"size,optional"`
	Inputs  []*inputBlock  `hcl:"input,block"`
	Steps   []*stepBlock   `hcl:"step,block"`
	Outputs []*outputBlock `hcl:"output,block"`
}

type inputBlock struct {
	Name string `hcl:"name,label"`
}

type stepBlock struct {
	Name      string   `hcl:"name,label"`
	Kind      string   `hcl:"kind"`
	DependsOn []string `hcl:"depends_on,optional"`
	SyncSafe  bool     `hcl:"sync_safe,optional"`
	Async     bool     `hcl:"async,optional"`

	// Kind-specific attributes. Expressions stay unevaluated until execution
	// so map steps can reference dependency values row by row.
	Values   hcl.Expression `hcl:"values,optional"`
	Expr     hcl.Expression `hcl:"expr,optional"`
	Message  *string        `hcl:"message,optional"`
	Rows     []int          `hcl:"rows,optional"`
	Duration *string        `hcl:"duration,optional"`
}

type outputBlock struct {
	Name string `hcl:"name,label"`
}

// Load reads and translates a planfile from disk.
func Load(path string) (*Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: %w", err)
	}
	return Parse(src, path)
}

// Parse translates planfile source into a validated Plan.
func Parse(src []byte, filename string) (*Plan, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("planfile: parse %s: %w", filename, diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("planfile: decode %s: %w", filename, diags)
	}
	return translate(&root)
}

func translate(root *fileRoot) (*Plan, error) {
	if len(root.Steps) == 0 {
		return nil, fmt.Errorf("planfile: no step blocks")
	}

	// Input ids come first so step ids stay dense across both.
	idByName := make(map[string]plan.StepID, len(root.Inputs)+len(root.Steps))
	inputs := make([]Input, len(root.Inputs))
	for i, ib := range root.Inputs {
		if _, dup := idByName[ib.Name]; dup {
			return nil, fmt.Errorf("planfile: duplicate input %q", ib.Name)
		}
		id := plan.StepID(i)
		idByName[ib.Name] = id
		inputs[i] = Input{Name: ib.Name, Step: id}
	}
	for i, sb := range root.Steps {
		if _, dup := idByName[sb.Name]; dup {
			return nil, fmt.Errorf("planfile: duplicate step %q", sb.Name)
		}
		idByName[sb.Name] = plan.StepID(len(root.Inputs) + i)
	}

	steps := make([]plan.Step, len(root.Steps))
	for i, sb := range root.Steps {
		st, err := buildStep(idByName[sb.Name], sb, idByName)
		if err != nil {
			return nil, err
		}
		steps[i] = st
	}

	layer, err := plan.New(plan.ReasonRoot, steps)
	if err != nil {
		return nil, fmt.Errorf("planfile: %w", err)
	}

	outputs := make([]boundary.Output, len(root.Outputs))
	for i, ob := range root.Outputs {
		id, ok := idByName[ob.Name]
		if !ok {
			return nil, fmt.Errorf("planfile: output %q names no step", ob.Name)
		}
		outputs[i] = boundary.Output{Name: ob.Name, Step: id}
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("planfile: no output blocks")
	}

	size := 1
	if root.Size != nil {
		if *root.Size < 0 {
			return nil, fmt.Errorf("planfile: negative size %d", *root.Size)
		}
		size = *root.Size
	}

	return &Plan{Layer: layer, Inputs: inputs, Outputs: outputs, Size: size, idByName: idByName}, nil
}

func buildStep(id plan.StepID, sb *stepBlock, idByName map[string]plan.StepID) (plan.Step, error) {
	deps := make([]plan.StepID, len(sb.DependsOn))
	for i, name := range sb.DependsOn {
		did, ok := idByName[name]
		if !ok {
			return nil, fmt.Errorf("planfile: step %q depends on unknown step %q", sb.Name, name)
		}
		deps[i] = did
	}

	base := stepBase{id: id, name: sb.Name, deps: deps, depNames: sb.DependsOn}

	switch sb.Kind {
	case "const":
		values, err := constValues(sb)
		if err != nil {
			return nil, err
		}
		return &constStep{stepBase: base, values: values}, nil

	case "map":
		if sb.Expr == nil {
			return nil, fmt.Errorf("planfile: map step %q needs an expr attribute", sb.Name)
		}
		if sb.SyncSafe && sb.Async {
			return nil, fmt.Errorf("planfile: map step %q cannot be both sync_safe and async", sb.Name)
		}
		return &mapStep{stepBase: base, expr: sb.Expr, syncSafe: sb.SyncSafe, async: sb.Async}, nil

	case "fail":
		msg := "planned failure"
		if sb.Message != nil {
			msg = *sb.Message
		}
		return &failStep{stepBase: base, message: msg, rows: sb.Rows}, nil

	case "delay":
		if sb.Duration == nil {
			return nil, fmt.Errorf("planfile: delay step %q needs a duration attribute", sb.Name)
		}
		d, err := time.ParseDuration(*sb.Duration)
		if err != nil {
			return nil, fmt.Errorf("planfile: delay step %q: %w", sb.Name, err)
		}
		if len(deps) != 1 {
			return nil, fmt.Errorf("planfile: delay step %q needs exactly one dependency", sb.Name)
		}
		return &delayStep{stepBase: base, duration: d}, nil

	default:
		return nil, fmt.Errorf("planfile: step %q has unknown kind %q", sb.Name, sb.Kind)
	}
}

func constValues(sb *stepBlock) ([]any, error) {
	if sb.Values == nil {
		return nil, fmt.Errorf("planfile: const step %q needs a values attribute", sb.Name)
	}
	v, diags := sb.Values.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("planfile: const step %q: %w", sb.Name, diags)
	}
	if !v.Type().IsTupleType() && !v.Type().IsListType() {
		return nil, fmt.Errorf("planfile: const step %q: values must be a list", sb.Name)
	}
	out := make([]any, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		gv, err := ctyToGo(ev)
		if err != nil {
			return nil, fmt.Errorf("planfile: const step %q: %w", sb.Name, err)
		}
		out = append(out, gv)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("planfile: const step %q: values is empty", sb.Name)
	}
	return out, nil
}
