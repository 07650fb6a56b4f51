package customfield

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/ehr/practice/internal/formula"
)

// Catalog is a set of calculated field definitions kept in a TOML file, so
// they can be checked and tried out before being loaded into a tenant:
//
//	[[field]]
//	name = "bmi"
//	label = "Body mass index"
//	formula = "{weight} / ({height} * {height})"
//	decimal_places = 1
//	unit = "kg/m2"
type Catalog struct {
	Fields []CatalogField `toml:"field"`
}

type CatalogField struct {
	Name          string  `toml:"name"`
	Label         string  `toml:"label"`
	Formula       string  `toml:"formula"`
	DecimalPlaces *int    `toml:"decimal_places"`
	Unit          *string `toml:"unit"`
	Disabled      bool    `toml:"disabled"`
}

// CatalogIssue is one problem found by Check.
type CatalogIssue struct {
	Field   string   `json:"field"`
	Message string   `json:"message"`
	Cycle   []string `json:"cycle,omitempty"`
}

func (i CatalogIssue) String() string {
	if len(i.Cycle) > 0 {
		return fmt.Sprintf("%s: %s (%s)", i.Field, i.Message, strings.Join(i.Cycle, " -> "))
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// LoadCatalog reads a catalog file. Unknown keys are rejected so typos in
// field settings do not pass silently.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(string(data))
}

func ParseCatalog(data string) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing catalog: unknown keys: %s", strings.Join(keys, ", "))
	}
	return &c, nil
}

// Check validates every formula and looks for duplicate names and
// dependency loops between the catalog's fields. Issues are returned in
// catalog order.
func (c *Catalog) Check(engine *formula.Engine) []CatalogIssue {
	var issues []CatalogIssue
	seen := make(map[string]bool, len(c.Fields))
	deps := make(map[string][]string, len(c.Fields))

	for _, f := range c.Fields {
		switch {
		case !formula.IsFieldName(f.Name):
			issues = append(issues, CatalogIssue{Field: f.Name, Message: "invalid field name"})
			continue
		case seen[f.Name]:
			issues = append(issues, CatalogIssue{Field: f.Name, Message: "duplicate field name"})
			continue
		}
		seen[f.Name] = true
		d, err := engine.Validate(f.Formula)
		if err != nil {
			issues = append(issues, CatalogIssue{Field: f.Name, Message: formula.Message(err)})
			continue
		}
		deps[f.Name] = d
	}

	reported := make(map[string]bool)
	for _, f := range c.Fields {
		d, ok := deps[f.Name]
		if !ok || reported[f.Name] {
			continue
		}
		graph := make(map[string][]string, len(deps))
		for name, other := range deps {
			if name != f.Name {
				graph[name] = other
			}
		}
		cycle := formula.DetectCycle(f.Name, d, graph)
		if cycle == nil {
			continue
		}
		for _, name := range cycle {
			reported[name] = true
		}
		issues = append(issues, CatalogIssue{Field: f.Name, Message: ErrCircularDependency.Error(), Cycle: cycle})
	}
	return issues
}

// CalculatedFields converts the catalog into definitions ready to store.
// Dependencies are filled in from each formula.
func (c *Catalog) CalculatedFields(defaultDecimalPlaces int) []*CalculatedField {
	out := make([]*CalculatedField, 0, len(c.Fields))
	for _, cf := range c.Fields {
		dp := defaultDecimalPlaces
		if cf.DecimalPlaces != nil {
			dp = *cf.DecimalPlaces
		}
		label := cf.Label
		if label == "" {
			label = defaultLabel(cf.Name)
		}
		out = append(out, &CalculatedField{
			Name:          cf.Name,
			Label:         label,
			Formula:       cf.Formula,
			Dependencies:  formula.ExtractDependencies(cf.Formula),
			DecimalPlaces: &dp,
			Unit:          cf.Unit,
			Active:        !cf.Disabled,
		})
	}
	return out
}

// Evaluate runs a full cascade over the catalog in memory. values is not
// modified; the returned map holds the inputs plus every computed field.
func (c *Catalog) Evaluate(engine *formula.Engine, values map[string]any, defaultDecimalPlaces int, logger zerolog.Logger) (*CascadeReport, map[string]any) {
	env := make(map[string]any, len(values)+len(c.Fields))
	for k, v := range values {
		env[k] = v
	}
	plan := planCascade(c.CalculatedFields(defaultDecimalPlaces), nil, 0)
	report := runCascade(engine, plan, env, defaultDecimalPlaces, logger)
	return report, env
}

// Names returns the catalog's field names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}
