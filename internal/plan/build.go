package plan

import "fmt"

// New assembles a layer plan from its steps and child plans. It derives the
// reverse edges and the start set and validates the intra-layer graph.
func New(reason Reason, steps []Step, children ...*LayerPlan) (*LayerPlan, error) {
	p := &LayerPlan{
		Reason:    reason,
		Steps:     steps,
		Children:  children,
		indexByID: make(map[StepID]int, len(steps)),
	}
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("plan: step at position %d is nil", i)
		}
		if _, dup := p.indexByID[s.ID()]; dup {
			return nil, fmt.Errorf("plan: duplicate step id %d", s.ID())
		}
		p.indexByID[s.ID()] = i
	}

	p.dependents = make([][]int, len(steps))
	for i, s := range steps {
		intra := false
		for _, dep := range s.Dependencies() {
			di, ok := p.indexByID[dep]
			if !ok {
				// External dependency: the parent seeds its column.
				continue
			}
			p.dependents[di] = append(p.dependents[di], i)
			intra = true
		}
		if !intra {
			p.startSteps = append(p.startSteps, i)
		}
	}

	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustNew is New for statically known plans; it panics on validation errors.
func MustNew(reason Reason, steps []Step, children ...*LayerPlan) *LayerPlan {
	p, err := New(reason, steps, children...)
	if err != nil {
		panic(err)
	}
	return p
}

type visitColor int

const (
	colorWhite visitColor = iota
	colorGray
	colorBlack
)

// checkAcyclic rejects cycles among intra-layer dependency edges.
func (p *LayerPlan) checkAcyclic() error {
	colors := make([]visitColor, len(p.Steps))
	var visit func(i int) error
	visit = func(i int) error {
		switch colors[i] {
		case colorGray:
			return fmt.Errorf("plan: dependency cycle through step %d", p.Steps[i].ID())
		case colorBlack:
			return nil
		}
		colors[i] = colorGray
		for _, dep := range p.Steps[i].Dependencies() {
			if di, ok := p.indexByID[dep]; ok {
				if err := visit(di); err != nil {
					return err
				}
			}
		}
		colors[i] = colorBlack
		return nil
	}
	for i := range p.Steps {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}
