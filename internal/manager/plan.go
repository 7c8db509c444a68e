package manager

import "fmt"

// Flow is the install strategy chosen for an instance.
type Flow string

const (
	FlowFresh     Flow = "fresh"
	FlowUpgrade   Flow = "upgrade"
	FlowDowngrade Flow = "downgrade"
	FlowNoop      Flow = "noop"
)

// Step is one patch tool invocation taking build From to build To.
// From is 0 for the full patch of a fresh install.
type Step struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (s Step) String() string {
	return fmt.Sprintf("%d->%d", s.From, s.To)
}

// Plan is the ordered work needed to reach a target build.
type Plan struct {
	Flow   Flow   `json:"flow"`
	Steps  []Step `json:"steps"`
	Wipe   bool   `json:"wipe"`
	Target int    `json:"target"`
}

// NewPlan decides how to go from current to target. It performs no I/O.
//
//	current == 0 or files missing   fresh      [(0,target)]
//	target > current                upgrade    [(c,c+1) ... (target-1,target)]
//	target < current                downgrade  wipe, then [(0,target)]
//	target == current               noop
func NewPlan(current, target int, filesPresent bool) (Plan, error) {
	if target < 1 {
		return Plan{}, fmt.Errorf("invalid target build %d", target)
	}
	if current < 0 {
		return Plan{}, fmt.Errorf("invalid installed build %d", current)
	}
	switch {
	case current == 0 || !filesPresent:
		return Plan{Flow: FlowFresh, Steps: []Step{{From: 0, To: target}}, Target: target}, nil
	case target > current:
		steps := make([]Step, 0, target-current)
		for from := current; from < target; from++ {
			steps = append(steps, Step{From: from, To: from + 1})
		}
		return Plan{Flow: FlowUpgrade, Steps: steps, Target: target}, nil
	case target < current:
		return Plan{Flow: FlowDowngrade, Steps: []Step{{From: 0, To: target}}, Wipe: true, Target: target}, nil
	default:
		return Plan{Flow: FlowNoop, Target: target}, nil
	}
}
