package customfield

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/practice/internal/formula"
)

const vitalsCatalog = `
[[field]]
name = "bmi"
label = "Body mass index"
formula = "{weight} / ({height} * {height})"
decimal_places = 1
unit = "kg/m2"

[[field]]
name = "obese"
formula = "floor({bmi} / 30)"
decimal_places = 0

[[field]]
name = "age"
formula = "age_years({birth_date})"
disabled = true
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.toml")
	if err := os.WriteFile(path, []byte(vitalsCatalog), 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(c.Fields))
	}
	bmi := c.Fields[0]
	if bmi.Label != "Body mass index" || bmi.Unit == nil || *bmi.Unit != "kg/m2" {
		t.Errorf("unexpected bmi entry: %+v", bmi)
	}
	if bmi.DecimalPlaces == nil || *bmi.DecimalPlaces != 1 {
		t.Errorf("expected decimal_places 1, got %v", bmi.DecimalPlaces)
	}
	if !c.Fields[2].Disabled {
		t.Error("expected age to be disabled")
	}
	if diff := cmp.Diff([]string{"age", "bmi", "obese"}, c.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCatalog_Errors(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := ParseCatalog(`[[field]]` + "\nname = "); err == nil {
		t.Error("expected error for malformed TOML")
	}
	_, err := ParseCatalog("[[field]]\nname = \"a\"\nformla = \"1\"\n")
	if err == nil || !strings.Contains(err.Error(), "field.formla") {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestCatalog_Check(t *testing.T) {
	c := &Catalog{Fields: []CatalogField{
		{Name: "a", Formula: "{b} + 1"},
		{Name: "b", Formula: "{c} * 2"},
		{Name: "c", Formula: "{a} - {x}"},
		{Name: "ok", Formula: "{x} + 1"},
		{Name: "ok", Formula: "{x} + 2"},
		{Name: "bad name", Formula: "1"},
		{Name: "broken", Formula: "sqrt({x}"},
		{Name: "self", Formula: "{self} + 1"},
	}}

	issues := c.Check(formula.NewEngine())
	want := []CatalogIssue{
		{Field: "ok", Message: "duplicate field name"},
		{Field: "bad name", Message: "invalid field name"},
		{Field: "broken", Message: "Invalid formula: unbalanced parentheses"},
		{Field: "a", Message: "circular dependency", Cycle: []string{"a", "b", "c", "a"}},
		{Field: "self", Message: "circular dependency", Cycle: []string{"self", "self"}},
	}
	if diff := cmp.Diff(want, issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if got := issues[3].String(); got != "a: circular dependency (a -> b -> c -> a)" {
		t.Errorf("unexpected issue text %q", got)
	}
}

func TestCatalog_CheckClean(t *testing.T) {
	c, err := ParseCatalog(vitalsCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issues := c.Check(formula.NewEngine()); len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
}

func TestCatalog_Evaluate(t *testing.T) {
	c, err := ParseCatalog(vitalsCatalog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values := map[string]any{"weight": 110, "height": 1.8}

	report, env := c.Evaluate(formula.NewEngine(), values, formula.DefaultDecimalPlaces, zerolog.Nop())

	want := []FieldResult{{Field: "bmi", Value: 34}, {Field: "obese", Value: 1}}
	if diff := cmp.Diff(want, report.Updated); diff != "" {
		t.Errorf("updated mismatch (-want +got):\n%s", diff)
	}
	if env["obese"] != 1.0 {
		t.Errorf("expected obese in result env, got %v", env["obese"])
	}
	if _, ok := values["bmi"]; ok {
		t.Error("input values were modified")
	}
	if _, ok := env["age"]; ok {
		t.Error("disabled field was evaluated")
	}
}

func TestCatalog_CalculatedFields(t *testing.T) {
	c := &Catalog{Fields: []CatalogField{{Name: "x", Formula: "{a} + {b}"}}}
	fields := c.CalculatedFields(3)
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	f := fields[0]
	if f.Label != "X" || !f.Active || *f.DecimalPlaces != 3 {
		t.Errorf("unexpected defaults: %+v", f)
	}
	if diff := cmp.Diff([]string{"a", "b"}, f.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultLabel(t *testing.T) {
	tests := map[string]string{
		"bmi":             "Bmi",
		"body_mass_index": "Body Mass Index",
		"_private__x":     "Private X",
	}
	for name, want := range tests {
		if got := defaultLabel(name); got != want {
			t.Errorf("defaultLabel(%q) = %q, want %q", name, got, want)
		}
	}
}
