package catalog_test

import (
	"errors"
	"testing"

	"clearline/internal/catalog"
	"clearline/internal/domain"
)

func testDefs() []catalog.StepDefinition {
	return []catalog.StepDefinition{
		{StepNumber: "1.1", Sequence: 1, Name: "Register documents", Department: domain.DeptBusinessUnit, EtaOffsetDays: -5},
		{StepNumber: "1.2", Sequence: 2, Name: "Open letter of credit", Department: domain.DeptFinance, EtaOffsetDays: -3,
			Dependencies: []string{"1.1"},
			RequiredFields: []catalog.FieldSpec{
				{Name: "lc_number", Type: catalog.FieldString, Required: true, Pattern: `^LC-[A-Z0-9-]+$`},
			}},
		{StepNumber: "2.1", Sequence: 3, Name: "File customs declaration", Department: domain.DeptCustomsClearance, EtaOffsetDays: 1,
			Dependencies: []string{"1.1"}, IsCritical: true,
			RequiredFields: []catalog.FieldSpec{
				{Name: "bayan_number", Type: catalog.FieldString, Required: true, Pattern: `^[0-9]{4,}$`},
				{Name: "duty_amount_omr", Type: catalog.FieldNumber, Required: true, Min: floatPtr(0)},
			}},
		{StepNumber: "2.4", Sequence: 4, Name: "Collect delivery order", Department: domain.DeptCustomsClearance, EtaOffsetDays: 3,
			Dependencies: []string{"2.1"}, IsCritical: true,
			RequiredFields: []catalog.FieldSpec{
				{Name: "collection_date", Type: catalog.FieldDate, Required: false},
			}},
		{StepNumber: "3.2", Sequence: 5, Name: "Stock receipt note", Department: domain.DeptBusinessUnitStores, EtaOffsetDays: 7,
			Dependencies: []string{"2.4"}, IsOptional: true},
	}
}

func floatPtr(f float64) *float64 { return &f }

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New("test-1", testDefs())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return c
}

func TestCatalogOrderAndLookup(t *testing.T) {
	c := mustCatalog(t)
	if c.Len() != 5 {
		t.Fatalf("expected 5 steps, got %d", c.Len())
	}
	steps := c.Steps()
	for i := 1; i < len(steps); i++ {
		if steps[i-1].Sequence >= steps[i].Sequence {
			t.Fatalf("steps not in sequence order at %d", i)
		}
	}
	s, err := c.ByNumber("2.1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !s.IsCritical || s.Department != domain.DeptCustomsClearance {
		t.Fatalf("unexpected step: %+v", s)
	}
	if _, err := c.ByNumber("9.9"); err == nil {
		t.Fatalf("expected unknown step error")
	}
	deps, err := c.DependenciesOf("2.4")
	if err != nil || len(deps) != 1 || deps[0] != "2.1" {
		t.Fatalf("unexpected deps: %v %v", deps, err)
	}
}

func TestCatalogRejectsMalformedDefinitions(t *testing.T) {
	cases := map[string]func(defs []catalog.StepDefinition) []catalog.StepDefinition{
		"duplicate step number": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[1].StepNumber = "1.1"
			return defs
		},
		"duplicate sequence": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[1].Sequence = 1
			return defs
		},
		"unknown department": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[0].Department = "Warehouse"
			return defs
		},
		"unknown dependency": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[1].Dependencies = []string{"8.8"}
			return defs
		},
		"dependency on later step": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[0].Dependencies = []string{"2.1"}
			return defs
		},
		"bad field pattern": func(defs []catalog.StepDefinition) []catalog.StepDefinition {
			defs[1].RequiredFields[0].Pattern = "["
			return defs
		},
	}
	for name, mutate := range cases {
		_, err := catalog.New("test-1", mutate(testDefs()))
		var ce catalog.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
}

func TestValidateFields(t *testing.T) {
	c := mustCatalog(t)

	if err := c.ValidateFields("2.1", map[string]any{"bayan_number": "20241234", "duty_amount_omr": 120.5}); err != nil {
		t.Fatalf("valid data rejected: %v", err)
	}

	var ve catalog.ValidationError
	err := c.ValidateFields("2.1", map[string]any{"duty_amount_omr": 5})
	if !errors.As(err, &ve) || ve.Field != "bayan_number" {
		t.Fatalf("expected bayan_number required, got %v", err)
	}
	err = c.ValidateFields("2.1", map[string]any{"bayan_number": "12", "duty_amount_omr": 5})
	if !errors.As(err, &ve) || ve.Field != "bayan_number" {
		t.Fatalf("expected pattern failure, got %v", err)
	}
	err = c.ValidateFields("2.1", map[string]any{"bayan_number": "20241234", "duty_amount_omr": -1})
	if !errors.As(err, &ve) || ve.Field != "duty_amount_omr" {
		t.Fatalf("expected min failure, got %v", err)
	}
	err = c.ValidateFields("2.1", map[string]any{"bayan_number": "20241234", "duty_amount_omr": "lots"})
	if !errors.As(err, &ve) || ve.Field != "duty_amount_omr" {
		t.Fatalf("expected type failure, got %v", err)
	}

	// optional date: absent is fine, malformed is not
	if err := c.ValidateFields("2.4", map[string]any{}); err != nil {
		t.Fatalf("optional field absent should pass: %v", err)
	}
	err = c.ValidateFields("2.4", map[string]any{"collection_date": "31-12-2024"})
	if !errors.As(err, &ve) || ve.Field != "collection_date" {
		t.Fatalf("expected date failure, got %v", err)
	}
	if err := c.ValidateFields("2.4", map[string]any{"collection_date": "2024-12-31"}); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
}

func TestValidateFieldsStopsAtFirstInvalid(t *testing.T) {
	c := mustCatalog(t)
	err := c.ValidateFields("2.1", map[string]any{"bayan_number": "x", "duty_amount_omr": -5})
	var ve catalog.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "bayan_number" {
		t.Fatalf("expected first declared field reported, got %s", ve.Field)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`catalog:
  version: sop-test
  steps:
    - step_number: "1.0"
      sequence: 1
      name: Pre-arrival documents
      department: BusinessUnit
      eta_offset_days: -5
    - step_number: "2.0"
      sequence: 2
      name: Bayan filing
      department: CustomsClearance
      eta_offset_days: 1
      is_critical: true
      dependencies: ["1.0"]
      required_fields:
        - name: bayan_number
          type: string
          required: true
`)
	c, err := catalog.FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Version != "sop-test" || c.Len() != 2 {
		t.Fatalf("unexpected catalog: %s %d", c.Version, c.Len())
	}
	if _, err := catalog.FromYAML([]byte("catalog:\n  steps: []\n")); err == nil {
		t.Fatalf("expected missing version error")
	}
}

func TestDefaultCatalog(t *testing.T) {
	c := catalog.Default()
	if c.Len() != 34 {
		t.Fatalf("expected 34 steps, got %d", c.Len())
	}
	bayan, err := c.ByNumber("9.0")
	if err != nil {
		t.Fatalf("bayan step: %v", err)
	}
	if !bayan.IsCritical || bayan.Department != domain.DeptCustomsClearance {
		t.Fatalf("unexpected bayan step: %+v", bayan)
	}
	for _, s := range c.Steps() {
		for _, dep := range s.Dependencies {
			d, err := c.ByNumber(dep)
			if err != nil {
				t.Fatalf("step %s has unknown dependency %s", s.StepNumber, dep)
			}
			if d.Sequence >= s.Sequence {
				t.Fatalf("step %s dependency %s does not precede it", s.StepNumber, dep)
			}
		}
	}
}
