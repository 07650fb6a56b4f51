package formula

type visitState uint8

const (
	stateVisiting visitState = iota + 1
	stateDone
)

// FieldDependencies is the stored dependency list of one calculated field.
type FieldDependencies struct {
	Dependencies []string `json:"dependencies"`
}

// CycleResult reports whether a proposed dependency list closes a loop.
type CycleResult struct {
	HasCircular bool     `json:"has_circular"`
	Cycle       []string `json:"cycle"`
}

// DetectCycle walks the graph depth-first from field, using deps as field's
// own edges in place of whatever graph holds for it. It returns the first
// cycle found as a path that starts and ends on the same node, or nil.
//
// References with a measure: or time-series prefix are followed to the field
// they read. Nodes missing from graph have no edges.
func DetectCycle(field string, deps []string, graph map[string][]string) []string {
	states := make(map[string]visitState, len(graph)+1)
	index := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		switch states[node] {
		case stateVisiting:
			cycle := make([]string, 0, len(path)-index[node]+1)
			cycle = append(cycle, path[index[node]:]...)
			return append(cycle, node)
		case stateDone:
			return nil
		}

		states[node] = stateVisiting
		index[node] = len(path)
		path = append(path, node)

		next := graph[node]
		if node == field {
			next = deps
		}
		for _, dep := range next {
			if cycle := visit(FieldName(dep)); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		delete(index, node)
		states[node] = stateDone
		return nil
	}

	return visit(field)
}

// DetectCircularDependencies checks a proposed dependency list for field
// against every other calculated field's stored dependencies. The snapshot
// is only read.
func DetectCircularDependencies(field string, deps []string, all map[string]FieldDependencies) CycleResult {
	graph := make(map[string][]string, len(all))
	for name, fd := range all {
		graph[name] = fd.Dependencies
	}
	cycle := DetectCycle(field, deps, graph)
	return CycleResult{HasCircular: cycle != nil, Cycle: cycle}
}
