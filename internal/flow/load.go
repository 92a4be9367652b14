package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type flowFile struct {
	ID    string     `yaml:"id"`
	Entry string     `yaml:"entry"`
	Steps []stepFile `yaml:"steps"`
}

type stepFile struct {
	ID       string        `yaml:"id"`
	Prompt   string        `yaml:"prompt"`
	Options  []string      `yaml:"options,omitempty"`
	Validate ValidatorSpec `yaml:"validate"`
	Next     string        `yaml:"next,omitempty"`
	NextIf   *Branch       `yaml:"next_if,omitempty"`
}

// LoadDir loads every *.yaml flow definition in dir into a Registry.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows directory: %w", err)
	}

	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read flow file %s: %w", e.Name(), err)
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("flow file %s: %w", e.Name(), err)
		}
		if err := reg.Add(def); err != nil {
			return nil, err
		}
	}
	if len(reg.flows) == 0 {
		return nil, fmt.Errorf("no flow definitions found in %s", dir)
	}
	return reg, nil
}

// Parse builds one immutable FlowDefinition from YAML.
func Parse(data []byte) (*FlowDefinition, error) {
	var ff flowFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if ff.ID == "" {
		return nil, fmt.Errorf("flow id missing")
	}
	if len(ff.Steps) == 0 {
		return nil, fmt.Errorf("flow %q has no steps", ff.ID)
	}

	def := &FlowDefinition{
		ID:    ff.ID,
		Entry: ff.Entry,
		steps: make(map[string]*StepDefinition, len(ff.Steps)),
	}
	if def.Entry == "" {
		def.Entry = ff.Steps[0].ID
	}

	for _, sf := range ff.Steps {
		if sf.ID == "" {
			return nil, fmt.Errorf("flow %q: step without id", ff.ID)
		}
		if _, dup := def.steps[sf.ID]; dup {
			return nil, fmt.Errorf("flow %q: duplicate step %q", ff.ID, sf.ID)
		}
		validate, err := sf.Validate.Build()
		if err != nil {
			return nil, fmt.Errorf("flow %q step %q: %w", ff.ID, sf.ID, err)
		}
		tr, err := sf.transition()
		if err != nil {
			return nil, fmt.Errorf("flow %q step %q: %w", ff.ID, sf.ID, err)
		}
		def.steps[sf.ID] = &StepDefinition{
			ID:       sf.ID,
			Prompt:   sf.Prompt,
			Options:  sf.Options,
			Validate: validate,
			Next:     tr,
		}
		def.order = append(def.order, sf.ID)
	}

	if err := def.check(); err != nil {
		return nil, err
	}
	return def, nil
}

func (sf stepFile) transition() (Transition, error) {
	if sf.NextIf != nil {
		if sf.Next != "" {
			return Transition{}, fmt.Errorf("both next and next_if set")
		}
		if sf.NextIf.Then == "" || sf.NextIf.Else == "" {
			return Transition{}, fmt.Errorf("next_if needs both then and else")
		}
		return Transition{Branch: sf.NextIf}, nil
	}
	if sf.Next == "" {
		return Transition{}, fmt.Errorf("next missing")
	}
	return Transition{To: sf.Next}, nil
}

// check verifies every transition target and the entry step exist.
func (def *FlowDefinition) check() error {
	if _, ok := def.steps[def.Entry]; !ok {
		return fmt.Errorf("flow %q: entry step %q not defined", def.ID, def.Entry)
	}
	for _, s := range def.steps {
		targets := []string{}
		if s.Next.Branch != nil {
			targets = append(targets, s.Next.Branch.Then, s.Next.Branch.Else)
		} else {
			targets = append(targets, s.Next.To)
		}
		for _, tgt := range targets {
			if tgt == Terminal {
				continue
			}
			if _, ok := def.steps[tgt]; !ok {
				return fmt.Errorf("flow %q: step %q points at unknown step %q", def.ID, s.ID, tgt)
			}
		}
	}
	return nil
}
