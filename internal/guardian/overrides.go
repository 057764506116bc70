package guardian

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Overrides adjusts the rule library per deployment. The YAML form is:
//
//	rules:
//	  "G1 Garbage Collection":
//	    threshold: 0.2
//	  "Log4j Logging":
//	    disabled: true
type Overrides struct {
	Rules map[string]RuleOverride `yaml:"rules"`
}

// RuleOverride changes one guard. A nil Threshold keeps the default.
type RuleOverride struct {
	Threshold *float64 `yaml:"threshold,omitempty"`
	Disabled  bool     `yaml:"disabled,omitempty"`
}

// LoadOverrides parses YAML overrides. Unknown fields are rejected.
func LoadOverrides(r io.Reader) (Overrides, error) {
	var ov Overrides
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		return Overrides{}, fmt.Errorf("guardian: decode overrides: %w", err)
	}
	for name, o := range ov.Rules {
		if o.Threshold != nil && (*o.Threshold < 0 || *o.Threshold > 1) {
			return Overrides{}, fmt.Errorf("guardian: override %q: threshold %v outside [0, 1]", name, *o.Threshold)
		}
	}
	return ov, nil
}

// ApplyOverrides returns a copy of guards with the overrides applied and the
// disabled guards removed. Overrides naming an unknown guard are an error.
func ApplyOverrides(guards []Guard, ov Overrides) ([]Guard, error) {
	known := make(map[string]bool, len(guards))
	for _, g := range guards {
		known[g.Name] = true
	}
	for name := range ov.Rules {
		if !known[name] {
			return nil, fmt.Errorf("guardian: override for unknown guard %q", name)
		}
	}

	out := make([]Guard, 0, len(guards))
	for _, g := range guards {
		o, ok := ov.Rules[g.Name]
		if ok && o.Disabled {
			continue
		}
		if ok && o.Threshold != nil {
			g.Threshold = *o.Threshold
		}
		out = append(out, g)
	}
	return out, nil
}
