package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidatorSpec is the declarative validator description used in flow
// YAML files. Kind selects the parser, the remaining fields are its
// parameters.
type ValidatorSpec struct {
	Kind    string   `yaml:"type"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
	Options []string `yaml:"options,omitempty"`
	MaxLen  int      `yaml:"max_len,omitempty"`
}

// Build compiles the declarative description into a pure ValidateFunc.
func (v ValidatorSpec) Build() (ValidateFunc, error) {
	switch v.Kind {
	case "int":
		min, max := v.bounds(0, 1<<31)
		return intValidator(int64(min), int64(max)), nil
	case "float":
		min, max := v.bounds(0, 1<<31)
		return floatValidator(min, max), nil
	case "scale":
		min, max := v.bounds(1, 10)
		return intValidator(int64(min), int64(max)), nil
	case "choice":
		if len(v.Options) == 0 {
			return nil, fmt.Errorf("choice validator needs options")
		}
		return choiceValidator(v.Options), nil
	case "yesno":
		return yesNoValidator, nil
	case "text":
		maxLen := v.MaxLen
		if maxLen <= 0 {
			maxLen = 2000
		}
		return textValidator(maxLen), nil
	case "":
		return nil, fmt.Errorf("validator type missing")
	default:
		return nil, fmt.Errorf("unknown validator type %q", v.Kind)
	}
}

func (v ValidatorSpec) bounds(defMin, defMax float64) (float64, float64) {
	min, max := defMin, defMax
	if v.Min != nil {
		min = *v.Min
	}
	if v.Max != nil {
		max = *v.Max
	}
	return min, max
}

func intValidator(min, max int64) ValidateFunc {
	return func(raw string) (any, error) {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("please enter a whole number between %d and %d", min, max)
		}
		if n < min || n > max {
			return nil, fmt.Errorf("please enter a number between %d and %d", min, max)
		}
		return n, nil
	}
}

func floatValidator(min, max float64) ValidateFunc {
	return func(raw string) (any, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")), 64)
		if err != nil {
			return nil, fmt.Errorf("please enter a number between %g and %g", min, max)
		}
		if f < min || f > max {
			return nil, fmt.Errorf("please enter a number between %g and %g", min, max)
		}
		return f, nil
	}
}

func choiceValidator(options []string) ValidateFunc {
	return func(raw string) (any, error) {
		in := strings.ToLower(strings.TrimSpace(raw))
		for i, opt := range options {
			if in == strings.ToLower(opt) || in == strconv.Itoa(i+1) {
				return opt, nil
			}
		}
		return nil, fmt.Errorf("please pick one of: %s", strings.Join(options, ", "))
	}
}

func yesNoValidator(raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "да":
		return true, nil
	case "no", "n", "нет":
		return false, nil
	}
	return nil, fmt.Errorf("please answer yes or no")
}

func textValidator(maxLen int) ValidateFunc {
	return func(raw string) (any, error) {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, fmt.Errorf("please type a short answer, or \"-\" to skip")
		}
		if len(text) > maxLen {
			return nil, fmt.Errorf("that is too long, please keep it under %d characters", maxLen)
		}
		if text == "-" {
			return "", nil
		}
		return text, nil
	}
}
