// Package scheduler implements the discrete-event simulator core: the
// event queue, resource ledger, cycle and reassignment controllers, lot
// expansion, and the trace the simulator produces.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodflow/calendar"
	"prodflow/flow"
	"prodflow/shared"
)

type instanceKey struct {
	taskID    string
	unitIndex int
	iteration int
}

// Simulator is the single-threaded, event-driven engine of this package:
// it owns the virtual clock, the event queue, the resource ledger,
// and cooperates with the cycle and reassignment controllers to produce
// a Trace.
type Simulator struct {
	classified *flow.Classified
	calendar   *calendar.Calendar
	pools      map[string][]string
	logger     *zap.Logger

	queue    *EventQueue
	ledger   *Ledger
	cycles   *CycleController
	reassign *ReassignmentController
	trace    *Trace

	clock time.Time

	completed           map[string]map[int]map[int]shared.TaskInstance
	completedCountByTask map[string]int
	running             map[instanceKey]shared.TaskInstance
	decided             map[instanceKey]bool
	workerOverrides     map[string][]string // taskID -> extra workers assigned via reassignment
	dailyDone           map[string]map[string]string // workerID -> date -> taskID

	dependencyByEdge map[string]shared.Dependency // "fromID->toID" -> Dependency
}

// NewSimulator constructs a fresh simulator for one run. No state is
// shared across runs or ported to a module-level singleton.
func NewSimulator(classified *flow.Classified, cal *calendar.Calendar, pools map[string][]string, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pools == nil {
		pools = map[string][]string{}
	}

	dependencyByEdge := make(map[string]shared.Dependency, len(classified.Flow.Dependencies))
	for _, d := range classified.Flow.Dependencies {
		if !d.Cyclic {
			dependencyByEdge[d.FromTaskID+"->"+d.ToTaskID] = d
		}
	}

	return &Simulator{
		classified:           classified,
		calendar:             cal,
		pools:                pools,
		logger:               logger,
		queue:                NewEventQueue(),
		ledger:               NewLedger(),
		cycles:               NewCycleController(classified.CycleGroups),
		reassign:             NewReassignmentController(classified.Flow.ReassignmentRules, logger),
		trace:                NewTrace(),
		completed:            make(map[string]map[int]map[int]shared.TaskInstance),
		completedCountByTask: make(map[string]int),
		running:              make(map[instanceKey]shared.TaskInstance),
		decided:              make(map[instanceKey]bool),
		workerOverrides:      make(map[string][]string),
		dailyDone:            make(map[string]map[string]string),
		dependencyByEdge:     dependencyByEdge,
	}
}

// Run expands demand into units, seeds the event queue with ready-checks
// for every root task of every unit, and drains the queue to completion,
// returning the assembled Trace as a SimulationResult.
func (s *Simulator) Run(demand shared.Demand, startTime time.Time) (shared.SimulationResult, error) {
	units := ExpandDemand(demand)
	if len(units) == 0 {
		return s.trace.Result(s.ledger), nil
	}

	roots := rootsOf(s.classified)
	for _, u := range units {
		for _, rootID := range roots {
			s.emitReadyCheck(rootID, u.UnitIndex, 1, startTime.Add(u.EarliestStartOffset))
		}
	}

	for {
		ev, ok := s.queue.Pop()
		if !ok {
			break
		}
		s.clock = ev.FireTime
		switch ev.Kind {
		case EventReadyCheck, EventWorkerFree, EventMachineFree:
			if err := s.handleReadyCheck(ev.Payload.(instanceKey)); err != nil {
				return shared.SimulationResult{}, err
			}
		case EventTaskComplete:
			if err := s.handleTaskComplete(ev.Payload.(completionPayload)); err != nil {
				return shared.SimulationResult{}, err
			}
		case EventReassignmentTrigger:
			s.handleReassignmentTrigger(ev.Payload.(reassignmentPayload))
		}
	}

	if pending := s.unresolvedPending(units, roots); len(pending) > 0 {
		return shared.SimulationResult{}, &shared.DeadlockDetectedError{PendingTaskIDs: pending}
	}

	return s.trace.Result(s.ledger), nil
}

func rootsOf(c *flow.Classified) []string {
	var roots []string
	for _, id := range c.TopoOrder {
		if len(c.Predecessors[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// unresolvedPending reports any (root-reachable) task that never
// produced a single completed instance for a unit, which can only
// happen if it is permanently blocked.
func (s *Simulator) unresolvedPending(units []UnitSpec, roots []string) []string {
	var stuck []string
	for _, u := range units {
		for _, id := range s.classified.TopoOrder {
			if _, inCycle := s.classified.CycleOf[id]; inCycle {
				// cycle membership completion is governed by the cycle
				// bound, not a single per-unit completion.
				group := s.classified.CycleOf[id]
				gid := s.classified.CycleGroups[group]
				if gid.TailTaskID == id {
					if _, ok := s.completed[id][u.UnitIndex][1]; !ok {
						stuck = append(stuck, id)
					}
				}
				continue
			}
			if _, ok := s.completed[id][u.UnitIndex][1]; !ok {
				stuck = append(stuck, id)
			}
		}
	}
	return stuck
}

func (s *Simulator) emitReadyCheck(taskID string, unitIndex, iteration int, notBefore time.Time) {
	key := instanceKey{taskID: taskID, unitIndex: unitIndex, iteration: iteration}
	if s.decided[key] {
		return
	}
	s.queue.Push(notBefore, EventReadyCheck, key)
}

type completionPayload struct {
	key       instanceKey
	instance  shared.TaskInstance
}

type reassignmentPayload struct {
	rule      shared.ReassignmentRule
	unitIndex int
}

func (s *Simulator) handleReadyCheck(key instanceKey) error {
	if s.decided[key] {
		return nil
	}
	task, ok := s.classified.TasksByID[key.taskID]
	if !ok {
		return nil
	}

	if ok, detail := s.predecessorsSatisfied(key); !ok {
		s.trace.RecordWait(s.clock, key.taskID, key.unitIndex, shared.ReasonWaitedOnPredecessor, detail)
		return nil
	}

	if groupID, inCycle := s.classified.CycleOf[key.taskID]; inCycle {
		if !s.cycles.IsOpen(key.unitIndex, groupID) {
			return nil
		}
	}

	if task.Daily {
		if done, workerID := s.dailyAlreadyDone(task, s.clock); done {
			s.decided[key] = true
			s.trace.RecordWait(s.clock, key.taskID, key.unitIndex, shared.ReasonDailyPrepSkipped, "worker "+workerID+" already ran this preparation today")
			return s.recordCompletion(key, shared.TaskInstance{
				ID: uuid.NewString(), TaskDefID: key.taskID, UnitIndex: key.unitIndex, IterationIndex: key.iteration,
				Start: s.clock, End: s.clock, Status: shared.StateCompleted, Reason: shared.ReasonDailyPrepSkipped,
			})
		}
	}

	workers, machine, resourceReady, reason := s.resolveResources(task, s.predecessorReadyTime(key))
	if machine == "" && len(workers) == 0 && requiresWorker(task) {
		s.trace.RecordWait(s.clock, key.taskID, key.unitIndex, shared.ReasonWaitedOnWorker, "no worker currently assigned")
		return nil
	}
	start := s.calendar.NextWorkingMinute(resourceReady)
	if start.After(resourceReady) {
		reason = shared.ReasonWaitedOnCalendar
	}
	if reason != "" {
		s.trace.RecordWait(s.clock, key.taskID, key.unitIndex, reason, "")
	}

	duration := effectiveDuration(task, workers)
	_, end, err := s.calendar.Advance(start, duration)
	if err != nil {
		return err
	}
	if end.Sub(start) > time.Duration(duration)*time.Minute {
		s.trace.RecordWait(s.clock, key.taskID, key.unitIndex, shared.ReasonWaitedOnCalendar, "execution spans non-working time")
	}

	instanceID := uuid.NewString()
	for _, w := range workers {
		if err := s.ledger.Reserve(w, false, start, end, instanceID); err != nil {
			return err
		}
	}
	if machine != "" {
		if err := s.ledger.Reserve(machine, true, start, end, instanceID); err != nil {
			return err
		}
	}

	s.decided[key] = true
	inst := shared.TaskInstance{
		ID: instanceID, TaskDefID: key.taskID, UnitIndex: key.unitIndex, IterationIndex: key.iteration,
		Start: start, End: end, WorkerIDs: workers, MachineID: machine, Status: shared.StateRunning,
		CycleGroupID: s.classified.CycleOf[key.taskID],
	}
	s.running[key] = inst

	if task.Daily && len(workers) > 0 {
		s.markDailyDone(workers[0], start, key.taskID)
	}

	s.fireReassignmentTriggers(key, shared.TriggerOnStart, start)

	s.queue.Push(end, EventTaskComplete, completionPayload{key: key, instance: inst})
	return nil
}

// predecessorReadyTime is the latest end-time among the predecessor
// instances already confirmed complete for this instance.
func (s *Simulator) predecessorReadyTime(key instanceKey) time.Time {
	latest := s.clock
	for _, predID := range s.classified.Predecessors[key.taskID] {
		predIteration := s.predecessorIterationFor(key, predID)
		if inst, ok := s.completed[predID][key.unitIndex][predIteration]; ok && inst.End.After(latest) {
			latest = inst.End
		}
	}
	return latest
}

func (s *Simulator) predecessorIterationFor(key instanceKey, predID string) int {
	if s.classified.CycleOf[predID] != "" && s.classified.CycleOf[predID] == s.classified.CycleOf[key.taskID] {
		return key.iteration
	}
	return 1
}

// predecessorsSatisfied implements the non-cyclic predecessor readiness
// check, generalised per the "minimum predecessor units" supplemented
// feature: a dependency may require more than one predecessor unit to
// have completed before its successor's corresponding unit may start.
func (s *Simulator) predecessorsSatisfied(key instanceKey) (bool, string) {
	if key.iteration > 1 {
		// Iterations beyond the first are opened directly by the cycle
		// controller's regression to the head; ordinary predecessors (if
		// any) were already satisfied on iteration 1.
		return true, ""
	}
	for _, predID := range s.classified.Predecessors[key.taskID] {
		dep := s.dependencyByEdge[predID+"->"+key.taskID]
		ratio := dep.EffectiveMinPredecessorUnits()
		if ratio <= 1 {
			predIteration := s.predecessorIterationFor(key, predID)
			if _, ok := s.completed[predID][key.unitIndex][predIteration]; !ok {
				return false, fmt.Sprintf("waiting on %s unit %d", predID, key.unitIndex)
			}
			continue
		}
		need := ratio * (key.unitIndex + 1)
		if s.completedCountByTask[predID] < need {
			return false, fmt.Sprintf("waiting on %d completed instances of %s (have %d)", need, predID, s.completedCountByTask[predID])
		}
	}
	return true, ""
}

// resolveResources picks the worker(s) and machine for a task-instance
// and returns the instant at which all of them are simultaneously
// available no earlier than notBefore, along with the dominant wait
// reason (if any).
func (s *Simulator) resolveResources(task shared.TaskDefinition, notBefore time.Time) (workers []string, machine string, readyAt time.Time, reason shared.ReasonCode) {
	readyAt = notBefore

	switch {
	case len(task.Workers) > 0 || len(s.workerOverrides[task.ID]) > 0:
		workers = append(append([]string{}, task.Workers...), s.workerOverrides[task.ID]...)
		for _, w := range workers {
			t := s.ledger.EarliestAvailable(w, false, notBefore)
			if t.After(readyAt) {
				readyAt = t
				reason = shared.ReasonWaitedOnWorker
			}
		}
	case task.WorkerPool != "":
		w, t := s.ledger.EarliestAvailableAmong(s.pools[task.WorkerPool], false, notBefore)
		if w != "" {
			workers = []string{w}
		}
		if t.After(readyAt) {
			readyAt = t
			reason = shared.ReasonWaitedOnWorker
		}
	}

	if task.Machine != "" {
		machine = task.Machine
		t := s.ledger.EarliestAvailable(machine, true, notBefore)
		if t.After(readyAt) {
			readyAt = t
			reason = shared.ReasonWaitedOnMachine
		}
	}

	return workers, machine, readyAt, reason
}

// effectiveDuration applies the duration-division-across-workers
// supplemented feature: a task with no machine requirement and more than
// one assigned worker divides its nominal duration by the worker count.
func effectiveDuration(task shared.TaskDefinition, workers []string) int {
	if task.Machine == "" && len(workers) > 1 {
		return ceilDiv(task.DurationMinutes, len(workers))
	}
	return task.DurationMinutes
}

// requiresWorker reports whether task cannot run without at least one
// assigned worker. Pure mechanical processes run on a machine alone;
// every other kind needs staffing, whether declared up front or applied
// later by a reassignment rule.
func requiresWorker(task shared.TaskDefinition) bool {
	return task.Kind != shared.KindMechanicalProcess
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func (s *Simulator) dailyAlreadyDone(task shared.TaskDefinition, at time.Time) (bool, string) {
	day := at.Format("2006-01-02")
	for _, w := range task.Workers {
		if s.dailyDone[w] != nil && s.dailyDone[w][day] == task.ID {
			return true, w
		}
	}
	return false, ""
}

func (s *Simulator) markDailyDone(workerID string, at time.Time, taskID string) {
	day := at.Format("2006-01-02")
	if s.dailyDone[workerID] == nil {
		s.dailyDone[workerID] = make(map[string]string)
	}
	s.dailyDone[workerID][day] = taskID
}

func (s *Simulator) handleTaskComplete(p completionPayload) error {
	return s.recordCompletion(p.key, p.instance)
}

// recordCompletion finalizes a task-instance as completed: bookkeeping,
// trace, on-complete reassignment triggers, feeder notification, and
// propagation to dependents. A normally-executed instance and a
// daily-prep instance skipped because its worker already ran it today
// both funnel through here, so a skipped unit still counts toward
// completedCountByTask and unblocks unresolvedPending the same way a
// real run would.
func (s *Simulator) recordCompletion(key instanceKey, inst shared.TaskInstance) error {
	inst.Status = shared.StateCompleted

	if s.completed[key.taskID] == nil {
		s.completed[key.taskID] = make(map[int]map[int]shared.TaskInstance)
	}
	if s.completed[key.taskID][key.unitIndex] == nil {
		s.completed[key.taskID][key.unitIndex] = make(map[int]shared.TaskInstance)
	}
	s.completed[key.taskID][key.unitIndex][key.iteration] = inst
	s.completedCountByTask[key.taskID]++
	delete(s.running, key)

	s.trace.RecordCompletion(inst)

	s.fireReassignmentTriggers(key, shared.TriggerOnComplete, inst.End)

	for feederGroupID, group := range s.classified.CycleGroups {
		if group.Bound.FeederTaskID == key.taskID {
			s.cycles.OnFeederComplete(key.unitIndex, key.taskID)
			_ = feederGroupID
		}
	}

	return s.propagateCompletion(key, inst)
}

// propagateCompletion advances the cycle controller (if the completed
// instance is a cycle-tail) or simply emits ready-checks for ordinary
// non-cyclic dependents.
func (s *Simulator) propagateCompletion(key instanceKey, inst shared.TaskInstance) error {
	groupID, inCycle := s.classified.CycleOf[key.taskID]
	if inCycle && s.classified.CycleGroups[groupID].TailTaskID == key.taskID {
		nextIteration, closed := s.cycles.OnTailComplete(key.unitIndex, groupID)
		s.fireReassignmentTriggers(key, shared.TriggerOnIterationK, inst.End)
		if !closed {
			s.emitReadyCheck(s.classified.CycleGroups[groupID].HeadTaskID, key.unitIndex, nextIteration, inst.End)
			return nil
		}
		for _, succ := range s.classified.Dependents[key.taskID] {
			s.emitReadyCheck(succ, key.unitIndex, 1, inst.End)
		}
		return nil
	}

	for _, succ := range s.classified.Dependents[key.taskID] {
		iteration := 1
		if s.classified.CycleOf[succ] != "" && s.classified.CycleOf[succ] == s.classified.CycleOf[key.taskID] {
			iteration = key.iteration
		}
		s.emitReadyCheck(succ, key.unitIndex, iteration, inst.End)
	}
	return nil
}

// fireReassignmentTriggers evaluates every reassignment rule attached to
// sourceTaskID for the given trigger kind and applies or defers each one.
func (s *Simulator) fireReassignmentTriggers(key instanceKey, trigger shared.ReassignTrigger, at time.Time) {
	rules := s.reassign.RulesMatching(key.taskID, trigger, key.iteration)
	for _, rule := range rules {
		s.applyReassignment(rule, key.unitIndex, at)
	}
}

func (s *Simulator) applyReassignment(rule shared.ReassignmentRule, unitIndex int, at time.Time) {
	workerBusy := s.ledger.EarliestAvailable(rule.WorkerID, false, at).After(at)
	targetStaffed := s.targetCurrentlyStaffed(rule.TargetTaskID, unitIndex, at)

	decision := s.reassign.Evaluate(rule, workerBusy, targetStaffed)
	switch {
	case decision.Deferred:
		freeAt := s.ledger.EarliestAvailable(rule.WorkerID, false, at)
		s.queue.Push(freeAt, EventReassignmentTrigger, reassignmentPayload{rule: rule, unitIndex: unitIndex})
	case decision.Suppressed:
		s.trace.RecordWait(at, rule.SourceTaskID, unitIndex, shared.ReasonReassignmentDeferred, "target already staffed")
	case decision.Fire:
		s.ledger.Splice(rule.WorkerID, at)
		if rule.Mode == shared.ModeParallelJoin {
			s.scheduleParallelInstance(rule.TargetTaskID, unitIndex, []string{rule.WorkerID}, at)
			return
		}
		s.workerOverrides[rule.TargetTaskID] = append(s.workerOverrides[rule.TargetTaskID], rule.WorkerID)
		s.emitReadyCheck(rule.TargetTaskID, unitIndex, 1, at)
	}
}

func (s *Simulator) handleReassignmentTrigger(p reassignmentPayload) {
	s.applyReassignment(p.rule, p.unitIndex, s.clock)
}

// targetCurrentlyStaffed reports whether the target task already has a
// running instance with at least one worker assigned at instant `at`.
func (s *Simulator) targetCurrentlyStaffed(targetTaskID string, unitIndex int, at time.Time) bool {
	for key, inst := range s.running {
		if key.taskID == targetTaskID && key.unitIndex == unitIndex && len(inst.WorkerIDs) > 0 {
			if !inst.Start.After(at) && inst.End.After(at) {
				return true
			}
		}
	}
	return false
}

// scheduleParallelInstance starts a brand new, independent task-instance
// at targetTaskID staffed solely by workers, bypassing the ordinary
// predecessor/readiness gate: it backs the PARALLEL_JOIN reassignment
// mode, where a reassigned worker opens a fresh parallel run rather than
// joining an existing instance's worker set.
func (s *Simulator) scheduleParallelInstance(targetTaskID string, unitIndex int, workers []string, notBefore time.Time) {
	task, ok := s.classified.TasksByID[targetTaskID]
	if !ok {
		return
	}
	start := s.calendar.NextWorkingMinute(notBefore)
	duration := effectiveDuration(task, workers)
	_, end, err := s.calendar.Advance(start, duration)
	if err != nil {
		return
	}
	if end.Sub(start) > time.Duration(duration)*time.Minute {
		s.trace.RecordWait(start, targetTaskID, unitIndex, shared.ReasonWaitedOnCalendar, "execution spans non-working time")
	}
	instanceID := uuid.NewString()
	for _, w := range workers {
		if err := s.ledger.Reserve(w, false, start, end, instanceID); err != nil {
			return
		}
	}
	key := instanceKey{taskID: targetTaskID, unitIndex: unitIndex, iteration: 1}
	inst := shared.TaskInstance{
		ID: instanceID, TaskDefID: targetTaskID, UnitIndex: unitIndex, IterationIndex: 1,
		Start: start, End: end, WorkerIDs: workers, Status: shared.StateRunning,
	}
	s.queue.Push(end, EventTaskComplete, completionPayload{key: key, instance: inst})
}
