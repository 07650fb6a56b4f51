package formula

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	referencePattern = regexp.MustCompile(`\{([^{}]+)\}`)

	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	measurePattern    = regexp.MustCompile(`^measure:[A-Za-z_][A-Za-z0-9_]*$`)
	timeSeriesPattern = regexp.MustCompile(`^(current|previous|delta|avg\d+):[A-Za-z_][A-Za-z0-9_]*$`)

	avgModifierPattern = regexp.MustCompile(`^avg(\d+)$`)
)

const measurePrefix = "measure"

// DependencyKind classifies a reference found in a formula.
type DependencyKind string

const (
	DependencyRegular    DependencyKind = "regular"
	DependencyTimeSeries DependencyKind = "time_series"
	DependencyMeasure    DependencyKind = "measure"
)

// Time-series modifiers other than avgN.
const (
	ModifierCurrent  = "current"
	ModifierPrevious = "previous"
	ModifierDelta    = "delta"
)

// Dependency is a classified variable reference. For {avg7:weight} Field is
// "weight", Modifier is "avg7" and Window is 7.
type Dependency struct {
	Name     string         `json:"name"`
	Field    string         `json:"field"`
	Kind     DependencyKind `json:"kind"`
	Modifier string         `json:"modifier,omitempty"`
	Window   int            `json:"window,omitempty"`
}

// ExtractDependencies returns the distinct names referenced as {name} in
// formula, in first-seen order. The formula does not need to be valid.
func ExtractDependencies(formula string) []string {
	matches := referencePattern.FindAllStringSubmatch(formula, -1)
	seen := make(map[string]bool, len(matches))
	deps := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		deps = append(deps, name)
	}
	return deps
}

// ClassifyDependency splits a reference into its prefix and field name. It
// does not validate the shape; see ValidateFormula for that.
func ClassifyDependency(name string) Dependency {
	prefix, field, ok := strings.Cut(name, ":")
	if !ok {
		return Dependency{Name: name, Field: name, Kind: DependencyRegular}
	}
	if prefix == measurePrefix {
		return Dependency{Name: name, Field: field, Kind: DependencyMeasure}
	}
	d := Dependency{Name: name, Field: field, Kind: DependencyTimeSeries, Modifier: prefix}
	if m := avgModifierPattern.FindStringSubmatch(prefix); m != nil {
		d.Window, _ = strconv.Atoi(m[1])
	}
	return d
}

// FieldName returns the field a reference ultimately reads, without any
// measure: or time-series prefix.
func FieldName(name string) string {
	return ClassifyDependency(name).Field
}

func checkBraces(formula string) error {
	depth, opened, closed := 0, 0, 0
	nested := false
	for i := 0; i < len(formula); i++ {
		switch formula[i] {
		case '{':
			depth++
			opened++
		case '}':
			depth--
			closed++
		}
		if depth < 0 || depth > 1 {
			nested = true
		}
	}
	if nested || opened != closed {
		return fmt.Errorf("%w: %d '{' and %d '}'", ErrUnbalancedBraces, opened, closed)
	}
	return nil
}

// checkModifier accepts current, previous, delta and avgN with N >= 1.
func checkModifier(dep string) error {
	prefix, _, ok := strings.Cut(dep, ":")
	if !ok || prefix == measurePrefix {
		return nil
	}
	switch prefix {
	case ModifierCurrent, ModifierPrevious, ModifierDelta:
		return nil
	}
	if m := avgModifierPattern.FindStringSubmatch(prefix); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return nil
		}
	}
	return &InvalidModifierError{Modifier: prefix, Dependency: dep}
}

// checkName requires dep to match exactly one accepted shape.
func checkName(dep string) error {
	matched := 0
	for _, re := range []*regexp.Regexp{identifierPattern, measurePattern, timeSeriesPattern} {
		if re.MatchString(dep) {
			matched++
		}
	}
	if matched != 1 {
		return &InvalidNameError{Name: dep}
	}
	return nil
}

// IsFieldName reports whether name can be used as a calculated field name
// and referenced as {name}.
func IsFieldName(name string) bool {
	return identifierPattern.MatchString(name)
}
