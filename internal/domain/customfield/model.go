package customfield

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ehr/practice/internal/formula"
)

// CalculatedField maps to the calculated_field table. Dependencies holds the
// references extracted from Formula when the field was last saved.
type CalculatedField struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Label         string    `db:"label" json:"label"`
	Formula       string    `db:"formula" json:"formula"`
	Dependencies  []string  `db:"dependencies" json:"dependencies"`
	DecimalPlaces *int      `db:"decimal_places" json:"decimal_places,omitempty"`
	Unit          *string   `db:"unit" json:"unit,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

func (f *CalculatedField) deps() []string {
	if f.Dependencies != nil {
		return f.Dependencies
	}
	return formula.ExtractDependencies(f.Formula)
}

// sources returns the distinct field names f reads, with measure: and
// time-series prefixes removed.
func (f *CalculatedField) sources() []string {
	deps := f.deps()
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		name := formula.FieldName(dep)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (f *CalculatedField) decimalPlaces(fallback int) int {
	if f.DecimalPlaces == nil {
		return fallback
	}
	return *f.DecimalPlaces
}

// FieldValue maps to the field_value table: the current value of one field
// for one entity. Date-valued fields carry Text instead of Value.
type FieldValue struct {
	EntityID  uuid.UUID `db:"entity_id" json:"entity_id"`
	FieldName string    `db:"field_name" json:"field_name"`
	Value     *float64  `db:"value" json:"value,omitempty"`
	Text      *string   `db:"text_value" json:"text,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (v *FieldValue) input() (any, bool) {
	switch {
	case v.Value != nil:
		return *v.Value, true
	case v.Text != nil:
		return *v.Text, true
	}
	return nil, false
}

// Measurement maps to the measurement table: one timestamped reading that
// measure: and time-series references are resolved from.
type Measurement struct {
	ID         uuid.UUID `db:"id" json:"id"`
	EntityID   uuid.UUID `db:"entity_id" json:"entity_id"`
	Name       string    `db:"name" json:"name"`
	Value      float64   `db:"value" json:"value"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// CascadeReport summarizes one recalculation pass. Updated is in evaluation
// order.
type CascadeReport struct {
	Updated []FieldResult  `json:"updated"`
	Skipped []string       `json:"skipped"`
	Failed  []FieldFailure `json:"failed"`
}

type FieldResult struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
}

type FieldFailure struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func newCascadeReport() *CascadeReport {
	return &CascadeReport{
		Updated: []FieldResult{},
		Skipped: []string{},
		Failed:  []FieldFailure{},
	}
}

var labelCaser = cases.Title(language.English, cases.NoLower)

// defaultLabel turns a field name such as body_mass_index into
// "Body Mass Index".
func defaultLabel(name string) string {
	return labelCaser.String(strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " "))
}
