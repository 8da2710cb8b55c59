package scheduler

import "prodflow/shared"

// cycleStatus is the lifecycle of one (unit, cycle-group) instance.
type cycleStatus string

const (
	cycleOpen    cycleStatus = "open"
	cycleClosing cycleStatus = "closing"
	cycleClosed  cycleStatus = "closed"
)

type cycleKey struct {
	unitIndex int
	groupID   string
}

type cycleState struct {
	iteration int
	status    cycleStatus
}

// CycleController owns cycle-start/cycle-end semantics: the iteration
// counter per (unit, cycle-group), and the regression back to the cycle
// head that keeps a feedback loop running until its bound is reached.
type CycleController struct {
	groups          map[string]shared.CycleGroup
	states          map[cycleKey]*cycleState
	feederCompleted map[int]map[string]bool // unitIndex -> feederTaskID -> done
}

// NewCycleController builds a controller from a Flow's cycle groups,
// keyed by CycleGroup.ID.
func NewCycleController(groups map[string]shared.CycleGroup) *CycleController {
	return &CycleController{
		groups:          groups,
		states:          make(map[cycleKey]*cycleState),
		feederCompleted: make(map[int]map[string]bool),
	}
}

func (c *CycleController) stateFor(unitIndex int, groupID string) *cycleState {
	key := cycleKey{unitIndex: unitIndex, groupID: groupID}
	st, ok := c.states[key]
	if !ok {
		st = &cycleState{iteration: 1, status: cycleOpen}
		c.states[key] = st
	}
	return st
}

// Iteration returns the current iteration index for (unitIndex, groupID),
// creating the state (at iteration 1, open) on first reference.
func (c *CycleController) Iteration(unitIndex int, groupID string) int {
	return c.stateFor(unitIndex, groupID).iteration
}

// IsOpen reports whether the given (unit, cycle-group) instance still
// accepts new iterations.
func (c *CycleController) IsOpen(unitIndex int, groupID string) bool {
	return c.stateFor(unitIndex, groupID).status == cycleOpen
}

// OnFeederComplete records that the named feeder task has completed for
// unitIndex; a feeder-dependent cycle consults this the next time its
// tail completes.
func (c *CycleController) OnFeederComplete(unitIndex int, feederTaskID string) {
	if c.feederCompleted[unitIndex] == nil {
		c.feederCompleted[unitIndex] = make(map[string]bool)
	}
	c.feederCompleted[unitIndex][feederTaskID] = true
}

// OnTailComplete advances the controller after the cycle-tail completes
// iteration k for unitIndex. It returns the next iteration index to open
// and whether the cycle has now closed. A fixed-bound cycle closes once
// iteration reaches its bound N; a feeder-dependent cycle closes once its
// feeder has completed, finishing the current iteration first rather than
// truncating it mid-run.
func (c *CycleController) OnTailComplete(unitIndex int, groupID string) (nextIteration int, closed bool) {
	st := c.stateFor(unitIndex, groupID)
	group := c.groups[groupID]

	if group.Bound.IsFeederDependent() {
		if c.feederCompleted[unitIndex][group.Bound.FeederTaskID] {
			st.status = cycleClosing
			return st.iteration, true
		}
		st.iteration++
		return st.iteration, false
	}

	if st.iteration >= group.Bound.FixedN {
		st.status = cycleClosing
		return st.iteration, true
	}
	st.iteration++
	return st.iteration, false
}
