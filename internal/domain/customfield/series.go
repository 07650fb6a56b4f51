package customfield

import (
	"sort"

	"github.com/ehr/practice/internal/formula"
)

// historyRequest maps a measurement name to how many readings the planned
// formulas need: 1 for measure: and current:, 2 for previous: and delta:,
// 0 (all) for avgN windows.
func historyRequest(deps []string) map[string]int {
	req := make(map[string]int)
	for _, dep := range deps {
		d := formula.ClassifyDependency(dep)
		need := 0
		switch {
		case d.Kind == formula.DependencyRegular:
			continue
		case d.Kind == formula.DependencyMeasure, d.Modifier == formula.ModifierCurrent:
			need = 1
		case d.Modifier == formula.ModifierPrevious, d.Modifier == formula.ModifierDelta:
			need = 2
		}
		cur, ok := req[d.Field]
		switch {
		case !ok:
			req[d.Field] = need
		case cur == 0 || need == 0:
			req[d.Field] = 0
		case need > cur:
			req[d.Field] = need
		}
	}
	return req
}

// applySeries resolves measure: and time-series references in deps from
// history and stores them in values under the full reference name.
// References without enough readings are left unset.
func applySeries(values map[string]any, deps []string, history map[string][]*Measurement) {
	for _, ms := range history {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].RecordedAt.After(ms[j].RecordedAt) })
	}
	for _, dep := range deps {
		d := formula.ClassifyDependency(dep)
		if d.Kind == formula.DependencyRegular {
			continue
		}
		if v, ok := seriesValue(d, history[d.Field]); ok {
			values[dep] = v
		}
	}
}

// seriesValue reads one reference from readings ordered newest first.
func seriesValue(d formula.Dependency, ms []*Measurement) (float64, bool) {
	if len(ms) == 0 {
		return 0, false
	}
	latest := ms[0]
	switch {
	case d.Kind == formula.DependencyMeasure, d.Modifier == formula.ModifierCurrent:
		return latest.Value, true
	case d.Modifier == formula.ModifierPrevious:
		if len(ms) < 2 {
			return 0, false
		}
		return ms[1].Value, true
	case d.Modifier == formula.ModifierDelta:
		if len(ms) < 2 {
			return 0, false
		}
		return latest.Value - ms[1].Value, true
	case d.Window > 0:
		since := latest.RecordedAt.AddDate(0, 0, -d.Window)
		sum, n := 0.0, 0
		for _, m := range ms {
			if m.RecordedAt.Before(since) {
				break
			}
			sum += m.Value
			n++
		}
		return sum / float64(n), true
	}
	return 0, false
}
