package customfield

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/practice/internal/formula"
)

func field(name, text string) *CalculatedField {
	return &CalculatedField{
		Name:         name,
		Formula:      text,
		Dependencies: formula.ExtractDependencies(text),
		Active:       true,
	}
}

func names(fields []*CalculatedField) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Name)
	}
	return out
}

func TestPlanCascade_Order(t *testing.T) {
	fields := []*CalculatedField{
		field("d", "{b} + {c}"),
		field("c", "{a} * 2"),
		field("b", "{a} + 1"),
		field("a", "{x} - 1"),
		field("other", "{y}"),
	}

	plan := planCascade(fields, []string{"x"}, 0)
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if len(plan.cyclic) != 0 || len(plan.tooDeep) != 0 {
		t.Errorf("expected a clean plan, got cyclic=%v tooDeep=%v", names(plan.cyclic), names(plan.tooDeep))
	}

	all := planCascade(fields, nil, 0)
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "other"}, names(all.order)); diff != "" {
		t.Errorf("full order mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCascade_ChangedCalculatedField(t *testing.T) {
	fields := []*CalculatedField{field("a", "{x}"), field("b", "{a}")}
	plan := planCascade(fields, []string{"a"}, 0)
	if diff := cmp.Diff([]string{"a", "b"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCascade_PrefixedReferences(t *testing.T) {
	fields := []*CalculatedField{field("trend", "{delta:weight} + {avg30:weight}")}
	plan := planCascade(fields, []string{"weight"}, 0)
	if diff := cmp.Diff([]string{"trend"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"delta:weight", "avg30:weight"}, plan.inputs()); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCascade_InactiveFieldsIgnored(t *testing.T) {
	b := field("b", "{a} + 1")
	b.Active = false
	fields := []*CalculatedField{field("a", "{x}"), b, field("c", "{b}")}

	plan := planCascade(fields, []string{"x"}, 0)
	if diff := cmp.Diff([]string{"a"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCascade_StoredLoop(t *testing.T) {
	fields := []*CalculatedField{
		field("a", "{b} + {x}"),
		field("b", "{a}"),
		field("c", "{b}"),
		field("ok", "{x}"),
	}
	plan := planCascade(fields, []string{"x"}, 0)
	if diff := cmp.Diff([]string{"ok"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names(plan.cyclic)); diff != "" {
		t.Errorf("cyclic mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanCascade_DepthLimit(t *testing.T) {
	fields := []*CalculatedField{
		field("l1", "{x}"),
		field("l2", "{l1}"),
		field("l3", "{l2}"),
		field("l4", "{l3}"),
	}
	plan := planCascade(fields, []string{"x"}, 2)
	if diff := cmp.Diff([]string{"l1", "l2"}, names(plan.order)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"l3"}, names(plan.tooDeep)); diff != "" {
		t.Errorf("tooDeep mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCascade(t *testing.T) {
	fields := []*CalculatedField{
		field("a", "{x} * 2"),
		field("b", "{a} / {zero}"),
		field("c", "{b} + 1"),
		field("d", "{a} + {missing}"),
		field("e", "{a} + 1"),
	}
	fields[0].DecimalPlaces = intPtr(0)
	values := map[string]any{"x": 1.26, "zero": 0}

	report := runCascade(formula.NewEngine(), planCascade(fields, nil, 0), values, 1, zerolog.Nop())

	want := &CascadeReport{
		Updated: []FieldResult{{Field: "a", Value: 3}, {Field: "e", Value: 4}},
		Skipped: []string{"c", "d"},
		Failed:  []FieldFailure{{Field: "b", Error: "Division by zero"}},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if values["e"] != 4.0 {
		t.Errorf("expected e written back into values, got %v", values["e"])
	}
}

func TestRunCascade_StaleUpstreamIsNotUsed(t *testing.T) {
	fields := []*CalculatedField{field("a", "{x} / {y}"), field("b", "{a} + 1")}
	// a has an old stored value, but it fails in this pass.
	values := map[string]any{"x": 1, "y": 0, "a": 10}

	report := runCascade(formula.NewEngine(), planCascade(fields, []string{"y"}, 0), values, 2, zerolog.Nop())
	if len(report.Updated) != 0 {
		t.Errorf("expected no updates, got %+v", report.Updated)
	}
	if diff := cmp.Diff([]string{"b"}, report.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
}

// ── Time series ──

func TestSeriesValue(t *testing.T) {
	day := func(n int) time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC).AddDate(0, 0, n) }
	history := []*Measurement{
		{Value: 100, RecordedAt: day(0)},
		{Value: 96, RecordedAt: day(20)},
		{Value: 94, RecordedAt: day(27)},
		{Value: 91, RecordedAt: day(30)},
	}
	tests := []struct {
		dep    string
		want   float64
		wantOK bool
	}{
		{"measure:weight", 91, true},
		{"current:weight", 91, true},
		{"previous:weight", 94, true},
		{"delta:weight", -3, true},
		{"avg3:weight", 92.5, true},
		{"avg10:weight", 93.66666666666667, true},
		{"avg365:weight", 95.25, true},
		{"weight", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.dep, func(t *testing.T) {
			values := map[string]any{}
			ms := append([]*Measurement(nil), history...)
			applySeries(values, []string{tt.dep}, map[string][]*Measurement{"weight": ms})
			got, ok := values[tt.dep]
			if ok != tt.wantOK {
				t.Fatalf("resolved = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSeriesValue_NotEnoughReadings(t *testing.T) {
	one := []*Measurement{{Value: 5, RecordedAt: time.Now()}}
	for _, dep := range []string{"previous:w", "delta:w"} {
		values := map[string]any{}
		applySeries(values, []string{dep}, map[string][]*Measurement{"w": one})
		if _, ok := values[dep]; ok {
			t.Errorf("%s: expected no value with a single reading", dep)
		}
	}
	values := map[string]any{}
	applySeries(values, []string{"measure:w"}, nil)
	if _, ok := values["measure:w"]; ok {
		t.Error("expected no value without readings")
	}
}

func TestHistoryRequest(t *testing.T) {
	got := historyRequest([]string{"measure:a", "previous:b", "current:b", "avg7:c", "delta:c", "plain"})
	want := map[string]int{"a": 1, "b": 2, "c": 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history request mismatch (-want +got):\n%s", diff)
	}
}
