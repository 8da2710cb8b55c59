// Package flow validates a shared.Flow's structural invariants and
// classifies its tasks (cycle membership, auto-triggered status,
// topological order) before a simulation run may start.
package flow

import (
	"fmt"
	"sort"

	"prodflow/shared"
)

// Severity distinguishes a fatal structural problem from a non-fatal
// classification warning.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Issue is a single validator finding.
type Issue struct {
	Severity Severity
	Message  string
}

// Classified is a Flow annotated with the derived views the simulator
// needs: reverse dependency edges, cycle membership, auto-triggered
// status, and a deterministic topological order.
type Classified struct {
	Flow          shared.Flow
	TasksByID     map[string]shared.TaskDefinition
	Dependents    map[string][]string // taskID -> successors (non-cyclic edges)
	Predecessors  map[string][]string // taskID -> predecessors (non-cyclic edges)
	CyclicIn      map[string][]string // taskID -> predecessors reached via a cyclic (back) edge
	AutoTriggered map[string]bool
	CycleOf       map[string]string // taskID -> owning CycleGroup.ID, absent if none
	CycleGroups   map[string]shared.CycleGroup
	TopoOrder     []string
}

// Validate checks every invariant in the flow's structural design and
// classifies its tasks. A fatal issue is returned as a *shared.FlowInvalidError;
// warnings are returned alongside a usable Classified flow.
func Validate(f shared.Flow) (*Classified, []Issue, error) {
	var issues []Issue

	byID := make(map[string]shared.TaskDefinition, len(f.Tasks))
	for _, t := range f.Tasks {
		if _, dup := byID[t.ID]; dup {
			issues = append(issues, fatal("duplicate task id %q", t.ID))
			continue
		}
		byID[t.ID] = t
	}

	for _, d := range f.Dependencies {
		if _, ok := byID[d.FromTaskID]; !ok {
			issues = append(issues, fatal("dependency references unknown task %q", d.FromTaskID))
		}
		if _, ok := byID[d.ToTaskID]; !ok {
			issues = append(issues, fatal("dependency references unknown task %q", d.ToTaskID))
		}
	}

	if fatalIssues(issues) {
		return nil, issues, &shared.FlowInvalidError{Issues: messages(issues)}
	}

	dependents := make(map[string][]string)
	predecessors := make(map[string][]string)
	cyclicIn := make(map[string][]string)
	for _, d := range f.Dependencies {
		if d.Cyclic {
			cyclicIn[d.ToTaskID] = append(cyclicIn[d.ToTaskID], d.FromTaskID)
			continue
		}
		dependents[d.FromTaskID] = append(dependents[d.FromTaskID], d.ToTaskID)
		predecessors[d.ToTaskID] = append(predecessors[d.ToTaskID], d.FromTaskID)
	}
	for id := range dependents {
		sortByDeclaredOrder(dependents[id], byID)
	}

	cycleOf := make(map[string]string)
	cycleGroups := make(map[string]shared.CycleGroup)
	for _, g := range f.CycleGroups {
		cycleGroups[g.ID] = g
		if g.HeadTaskID == "" || g.TailTaskID == "" {
			issues = append(issues, fatal("cycle group %q must declare exactly one head and one tail", g.ID))
			continue
		}
		if _, ok := byID[g.HeadTaskID]; !ok {
			issues = append(issues, fatal("cycle group %q head %q does not exist", g.ID, g.HeadTaskID))
		}
		if _, ok := byID[g.TailTaskID]; !ok {
			issues = append(issues, fatal("cycle group %q tail %q does not exist", g.ID, g.TailTaskID))
		}
		for _, m := range g.MemberTaskIDs {
			if existing, already := cycleOf[m]; already && existing != g.ID {
				issues = append(issues, fatal("task %q belongs to more than one cycle group", m))
			}
			cycleOf[m] = g.ID
		}
		if !backEdgeGoesTailToHead(f.Dependencies, g) {
			issues = append(issues, fatal("cycle group %q back-edge must run tail %q -> head %q", g.ID, g.TailTaskID, g.HeadTaskID))
		}
	}

	roots := findRoots(byID, predecessors)
	if len(roots) == 0 {
		issues = append(issues, fatal("flow has no root task (every task has an incoming non-cyclic dependency)"))
	}

	reachable := reachableFrom(roots, dependents)

	autoTriggered := make(map[string]bool)
	for id, t := range byID {
		if t.StartCondition == shared.StartAutoOnEvent {
			autoTriggered[id] = true
			continue
		}
		if owningCycle, inCycle := cycleOf[id]; inCycle {
			preds := predecessors[id]
			if len(preds) == 0 && len(cyclicIn[id]) > 0 {
				autoTriggered[id] = true
				continue
			}
			allInCycle := len(preds) > 0
			for _, p := range preds {
				if cycleOf[p] != owningCycle {
					allInCycle = false
					break
				}
			}
			if allInCycle && len(cyclicIn[id]) > 0 {
				autoTriggered[id] = true
			}
		}
	}

	for id := range byID {
		if !reachable[id] && !autoTriggered[id] {
			issues = append(issues, fatal("task %q is unreachable from any root and is not auto-triggered", id))
		}
	}

	for _, issue := range groupConsistencyIssues(byID) {
		issues = append(issues, issue)
	}

	if fatalIssues(issues) {
		return nil, issues, &shared.FlowInvalidError{Issues: messages(issues)}
	}

	topo, err := topoSort(byID, dependents, predecessors)
	if err != nil {
		issues = append(issues, fatal(err.Error()))
		return nil, issues, &shared.FlowInvalidError{Issues: messages(issues)}
	}

	return &Classified{
		Flow:          f,
		TasksByID:     byID,
		Dependents:    dependents,
		Predecessors:  predecessors,
		CyclicIn:      cyclicIn,
		AutoTriggered: autoTriggered,
		CycleOf:       cycleOf,
		CycleGroups:   cycleGroups,
		TopoOrder:     topo,
	}, issues, nil
}

func fatal(format string, args ...interface{}) Issue {
	return Issue{Severity: SeverityFatal, Message: fmt.Sprintf(format, args...)}
}

func fatalIssues(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

func messages(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		if i.Severity == SeverityFatal {
			out = append(out, i.Message)
		}
	}
	return out
}

func findRoots(byID map[string]shared.TaskDefinition, predecessors map[string][]string) []string {
	var roots []string
	for id := range byID {
		if len(predecessors[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

func reachableFrom(roots []string, dependents map[string][]string) map[string]bool {
	seen := make(map[string]bool, len(roots))
	stack := append([]string{}, roots...)
	for _, r := range roots {
		seen[r] = true
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range dependents[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

func backEdgeGoesTailToHead(deps []shared.Dependency, g shared.CycleGroup) bool {
	for _, d := range deps {
		if d.Cyclic && d.FromTaskID == g.TailTaskID && d.ToTaskID == g.HeadTaskID {
			return true
		}
	}
	return false
}

// groupConsistencyIssues checks that sequential groups (tasks sharing a
// worker via GroupKey) declare distinct, contiguous positions.
func groupConsistencyIssues(byID map[string]shared.TaskDefinition) []Issue {
	positions := make(map[string]map[int]string)
	for id, t := range byID {
		if t.GroupKey == "" {
			continue
		}
		if positions[t.GroupKey] == nil {
			positions[t.GroupKey] = make(map[int]string)
		}
		if existing, dup := positions[t.GroupKey][t.GroupPosition]; dup {
			return []Issue{fatal("sequential group %q has two tasks at position %d: %q and %q", t.GroupKey, t.GroupPosition, existing, id)}
		}
		positions[t.GroupKey][t.GroupPosition] = id
	}
	var issues []Issue
	for key, byPos := range positions {
		for i := 0; i < len(byPos); i++ {
			if _, ok := byPos[i]; !ok {
				issues = append(issues, fatal("sequential group %q positions are not contiguous from 0", key))
				break
			}
		}
	}
	return issues
}

// topoSort performs Kahn's algorithm over the non-cyclic edges, breaking
// ties by DeclaredOrder then task ID for a deterministic order.
func topoSort(byID map[string]shared.TaskDefinition, dependents, predecessors map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(byID))
	for id := range byID {
		indegree[id] = len(predecessors[id])
	}

	ready := make([]string, 0)
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sortByDeclaredOrder(ready, byID)

	order := make([]string, 0, len(byID))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		var freed []string
		for _, next := range dependents[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		sortByDeclaredOrder(freed, byID)
		ready = mergeSorted(ready, freed, byID)
	}

	if len(order) != len(byID) {
		return nil, fmt.Errorf("non-cyclic dependency graph contains a cycle")
	}
	return order, nil
}

func sortByDeclaredOrder(ids []string, byID map[string]shared.TaskDefinition) {
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := byID[ids[i]], byID[ids[j]]
		if ti.DeclaredOrder != tj.DeclaredOrder {
			return ti.DeclaredOrder < tj.DeclaredOrder
		}
		return ids[i] < ids[j]
	})
}

func mergeSorted(a, b []string, byID map[string]shared.TaskDefinition) []string {
	out := append(a, b...)
	sortByDeclaredOrder(out, byID)
	return out
}
