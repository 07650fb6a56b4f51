package customfield

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/ehr/practice/internal/formula"
)

// cascadePlan lists the calculated fields a change reaches, in the order they
// must be evaluated.
type cascadePlan struct {
	order []*CalculatedField
	// cyclic fields sit on, or downstream of, a dependency loop in stored data.
	cyclic []*CalculatedField
	// tooDeep fields are further than the depth limit from any changed input.
	tooDeep []*CalculatedField
}

// inputs returns every reference read by the planned fields.
func (p cascadePlan) inputs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range p.order {
		for _, dep := range f.deps() {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	return out
}

// planCascade selects the active fields transitively dependent on changed
// and orders them so every field comes after the calculated fields it reads.
// An empty changed list selects every active field. Ties are broken by name.
func planCascade(fields []*CalculatedField, changed []string, maxDepth int) cascadePlan {
	byName := make(map[string]*CalculatedField, len(fields))
	for _, f := range fields {
		if f.Active {
			byName[f.Name] = f
		}
	}
	dependents := make(map[string][]string)
	for name, f := range byName {
		for _, src := range f.sources() {
			dependents[src] = append(dependents[src], name)
		}
	}

	var plan cascadePlan

	level := make(map[string]int)
	if len(changed) == 0 {
		for name := range byName {
			level[name] = 0
		}
	} else {
		var queue []string
		depth := make(map[string]int)
		for _, name := range changed {
			if _, ok := depth[name]; ok {
				continue
			}
			depth[name] = 0
			queue = append(queue, name)
			if _, ok := byName[name]; ok {
				level[name] = 0
			}
		}
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			for _, dn := range dependents[name] {
				if _, ok := depth[dn]; ok {
					continue
				}
				d := depth[name] + 1
				depth[dn] = d
				if maxDepth > 0 && d > maxDepth {
					plan.tooDeep = append(plan.tooDeep, byName[dn])
					continue
				}
				level[dn] = d
				queue = append(queue, dn)
			}
		}
		sortFields(plan.tooDeep)
	}

	// Kahn's algorithm over the affected fields.
	indegree := make(map[string]int, len(level))
	for name := range level {
		for _, src := range byName[name].sources() {
			if _, ok := level[src]; ok {
				indegree[name]++
			}
		}
	}
	var ready []string
	for name := range level {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		plan.order = append(plan.order, byName[name])
		for _, dn := range dependents[name] {
			if _, ok := level[dn]; !ok {
				continue
			}
			indegree[dn]--
			if indegree[dn] == 0 {
				ready = append(ready, dn)
			}
		}
	}
	for name := range level {
		if indegree[name] > 0 {
			plan.cyclic = append(plan.cyclic, byName[name])
		}
	}
	sortFields(plan.cyclic)
	return plan
}

func sortFields(fields []*CalculatedField) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}

// runCascade evaluates plan in order against values, writing each result
// back into values so later fields see it. A field whose inputs are missing,
// or whose upstream calculated field did not produce a value in this pass, is
// skipped. Evaluation failures are logged and reported; they do not stop the
// pass.
func runCascade(engine *formula.Engine, plan cascadePlan, values map[string]any, defaultDecimalPlaces int, logger zerolog.Logger) *CascadeReport {
	report := newCascadeReport()
	unresolved := make(map[string]bool)

	for _, f := range plan.cyclic {
		logger.Warn().Str("field", f.Name).Msg("calculated field is part of a dependency loop")
		report.Failed = append(report.Failed, FieldFailure{Field: f.Name, Error: ErrCircularDependency.Error()})
		unresolved[f.Name] = true
	}
	for _, f := range plan.tooDeep {
		logger.Warn().Str("field", f.Name).Msg("cascade depth limit reached")
		report.Skipped = append(report.Skipped, f.Name)
		unresolved[f.Name] = true
	}

	for _, f := range plan.order {
		if missing := missingInputs(f, values, unresolved); len(missing) > 0 {
			logger.Debug().Str("field", f.Name).Strs("missing", missing).Msg("skipping calculated field with unresolved inputs")
			report.Skipped = append(report.Skipped, f.Name)
			unresolved[f.Name] = true
			continue
		}
		result, err := engine.Evaluate(f.Formula, values, f.decimalPlaces(defaultDecimalPlaces))
		if err != nil {
			logger.Warn().Str("field", f.Name).Err(err).Msg("calculated field evaluation failed")
			report.Failed = append(report.Failed, FieldFailure{Field: f.Name, Error: formula.Message(err)})
			unresolved[f.Name] = true
			continue
		}
		values[f.Name] = result
		report.Updated = append(report.Updated, FieldResult{Field: f.Name, Value: result})
	}
	return report
}

func missingInputs(f *CalculatedField, values map[string]any, unresolved map[string]bool) []string {
	var missing []string
	for _, dep := range f.deps() {
		if unresolved[dep] || values[dep] == nil {
			missing = append(missing, dep)
		}
	}
	return missing
}
