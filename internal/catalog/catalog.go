package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"clearline/internal/domain"
)

// FieldType enumerates the data types a step field can carry.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldDate   FieldType = "date"
)

// FieldSpec describes one data field a step expects on completion.
type FieldSpec struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	Pattern  string    `yaml:"pattern,omitempty"`
	Min      *float64  `yaml:"min,omitempty"`
	Max      *float64  `yaml:"max,omitempty"`

	pattern *regexp.Regexp
}

// StepDefinition is one immutable entry of the clearance SOP.
type StepDefinition struct {
	StepNumber     string            `yaml:"step_number"`
	Sequence       int               `yaml:"sequence"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description,omitempty"`
	Department     domain.Department `yaml:"department"`
	EtaOffsetDays  int               `yaml:"eta_offset_days"`
	RequiredFields []FieldSpec       `yaml:"required_fields,omitempty"`
	Dependencies   []string          `yaml:"dependencies,omitempty"`
	IsOptional     bool              `yaml:"is_optional,omitempty"`
	IsCritical     bool              `yaml:"is_critical,omitempty"`
}

// Catalog is the loaded, validated step registry. It is immutable after New
// and safe for concurrent use.
type Catalog struct {
	Version string
	steps   []StepDefinition
	byNum   map[string]int
}

// ConfigurationError marks a malformed catalog. It is fatal at load time.
type ConfigurationError struct {
	Detail string
}

func (e ConfigurationError) Error() string {
	return "step catalog: " + e.Detail
}

// ValidationError reports the first field that failed a step's rules.
type ValidationError struct {
	Field string
	Rule  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Rule)
}

// New builds a catalog from definitions, checking that step numbers are
// unique, sequences form a total order, and every dependency points at an
// earlier step.
func New(version string, defs []StepDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ConfigurationError{Detail: "no step definitions"}
	}
	steps := make([]StepDefinition, len(defs))
	copy(steps, defs)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })

	byNum := make(map[string]int, len(steps))
	seqSeen := make(map[int]string, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.StepNumber == "" {
			return nil, ConfigurationError{Detail: fmt.Sprintf("step at sequence %d has no step number", s.Sequence)}
		}
		if _, dup := byNum[s.StepNumber]; dup {
			return nil, ConfigurationError{Detail: "duplicate step number " + s.StepNumber}
		}
		if prev, dup := seqSeen[s.Sequence]; dup {
			return nil, ConfigurationError{Detail: fmt.Sprintf("steps %s and %s share sequence %d", prev, s.StepNumber, s.Sequence)}
		}
		if !s.Department.Valid() {
			return nil, ConfigurationError{Detail: fmt.Sprintf("step %s has unknown department %q", s.StepNumber, s.Department)}
		}
		for j := range s.RequiredFields {
			f := &s.RequiredFields[j]
			if f.Name == "" {
				return nil, ConfigurationError{Detail: "step " + s.StepNumber + " has unnamed field"}
			}
			switch f.Type {
			case FieldString, FieldNumber, FieldDate:
			default:
				return nil, ConfigurationError{Detail: fmt.Sprintf("step %s field %s has unknown type %q", s.StepNumber, f.Name, f.Type)}
			}
			if f.Pattern != "" {
				re, err := regexp.Compile(f.Pattern)
				if err != nil {
					return nil, ConfigurationError{Detail: fmt.Sprintf("step %s field %s pattern: %v", s.StepNumber, f.Name, err)}
				}
				f.pattern = re
			}
		}
		byNum[s.StepNumber] = i
		seqSeen[s.Sequence] = s.StepNumber
	}
	for i := range steps {
		s := steps[i]
		for _, dep := range s.Dependencies {
			di, ok := byNum[dep]
			if !ok {
				return nil, ConfigurationError{Detail: fmt.Sprintf("step %s depends on unknown step %s", s.StepNumber, dep)}
			}
			if steps[di].Sequence >= s.Sequence {
				return nil, ConfigurationError{Detail: fmt.Sprintf("step %s depends on %s which does not precede it", s.StepNumber, dep)}
			}
		}
	}
	return &Catalog{Version: version, steps: steps, byNum: byNum}, nil
}

// ErrStepNotFound is returned by ByNumber for unknown step numbers.
type ErrStepNotFound struct {
	StepNumber string
}

func (e ErrStepNotFound) Error() string {
	return "step " + e.StepNumber + " not in catalog"
}

// ByNumber resolves one step definition.
func (c *Catalog) ByNumber(n string) (StepDefinition, error) {
	i, ok := c.byNum[n]
	if !ok {
		return StepDefinition{}, ErrStepNotFound{StepNumber: n}
	}
	return c.steps[i], nil
}

// Steps returns all definitions in sequence order.
func (c *Catalog) Steps() []StepDefinition {
	out := make([]StepDefinition, len(c.steps))
	copy(out, c.steps)
	return out
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.steps) }

// ByDepartment returns the department's steps in sequence order.
func (c *Catalog) ByDepartment(d domain.Department) []StepDefinition {
	var out []StepDefinition
	for _, s := range c.steps {
		if s.Department == d {
			out = append(out, s)
		}
	}
	return out
}

// DependenciesOf returns the declared dependencies of a step.
func (c *Catalog) DependenciesOf(n string) ([]string, error) {
	s, err := c.ByNumber(n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(s.Dependencies))
	copy(out, s.Dependencies)
	return out, nil
}

// ValidateFields checks submitted data against the step's field rules,
// stopping at the first invalid field in declared order.
func (c *Catalog) ValidateFields(n string, data map[string]any) error {
	s, err := c.ByNumber(n)
	if err != nil {
		return err
	}
	for _, f := range s.RequiredFields {
		v, present := data[f.Name]
		if !present || v == nil {
			if f.Required {
				return ValidationError{Field: f.Name, Rule: "required"}
			}
			continue
		}
		switch f.Type {
		case FieldString:
			str, ok := v.(string)
			if !ok {
				return ValidationError{Field: f.Name, Rule: "must be a string"}
			}
			if f.Required && str == "" {
				return ValidationError{Field: f.Name, Rule: "required"}
			}
			if f.pattern != nil && !f.pattern.MatchString(str) {
				return ValidationError{Field: f.Name, Rule: "must match pattern " + f.Pattern}
			}
		case FieldNumber:
			num, ok := toFloat(v)
			if !ok {
				return ValidationError{Field: f.Name, Rule: "must be a number"}
			}
			if f.Min != nil && num < *f.Min {
				return ValidationError{Field: f.Name, Rule: fmt.Sprintf("must be >= %v", *f.Min)}
			}
			if f.Max != nil && num > *f.Max {
				return ValidationError{Field: f.Name, Rule: fmt.Sprintf("must be <= %v", *f.Max)}
			}
		case FieldDate:
			str, ok := v.(string)
			if !ok {
				return ValidationError{Field: f.Name, Rule: "must be a date string"}
			}
			if _, err := time.Parse("2006-01-02", str); err != nil {
				return ValidationError{Field: f.Name, Rule: "must be a date in YYYY-MM-DD form"}
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
