package flow

import "fmt"

// Terminal is the designated next-step marker that ends a flow.
const Terminal = "__end__"

// ValidateFunc parses one raw user input. The returned error message is
// shown to the user verbatim, so it must be self-explanatory.
type ValidateFunc func(raw string) (any, error)

// Branch routes to Then when the parsed value is greater than GT,
// otherwise to Else. Booleans count as 1/0 so yes/no steps can branch.
type Branch struct {
	GT   float64 `yaml:"gt"`
	Then string  `yaml:"then"`
	Else string  `yaml:"else"`
}

// Transition is either a fixed next-step id or a branch on the parsed value.
type Transition struct {
	To     string
	Branch *Branch
}

// Next resolves the transition for a parsed value.
func (t Transition) Next(value any) string {
	if t.Branch == nil {
		return t.To
	}
	if asNumber(value) > t.Branch.GT {
		return t.Branch.Then
	}
	return t.Branch.Else
}

func asNumber(value any) float64 {
	switch v := value.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// StepDefinition is one prompt+validation+transition unit. Immutable
// after load.
type StepDefinition struct {
	ID       string
	Prompt   string
	Options  []string // choice labels, rendered by the gateway adapter
	Validate ValidateFunc
	Next     Transition
}

// FlowDefinition is an ordered set of steps with a designated entry.
// Definitions are loaded once at startup and shared read-only.
type FlowDefinition struct {
	ID    string
	Entry string
	steps map[string]*StepDefinition
	order []string
}

func (f *FlowDefinition) Step(id string) (*StepDefinition, bool) {
	s, ok := f.steps[id]
	return s, ok
}

func (f *FlowDefinition) Len() int {
	return len(f.order)
}

// Registry holds all flow definitions known at startup.
type Registry struct {
	flows map[string]*FlowDefinition
}

func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*FlowDefinition)}
}

func (r *Registry) Add(f *FlowDefinition) error {
	if _, exists := r.flows[f.ID]; exists {
		return fmt.Errorf("duplicate flow %q", f.ID)
	}
	r.flows[f.ID] = f
	return nil
}

func (r *Registry) Get(id string) (*FlowDefinition, bool) {
	f, ok := r.flows[id]
	return f, ok
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	return ids
}
