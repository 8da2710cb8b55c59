package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"prodflow/calendar"
	"prodflow/flow"
	"prodflow/shared"
)

type SimulatorTestSuite struct {
	suite.Suite
	cal *calendar.Calendar
}

func TestSimulatorTestSuite(t *testing.T) {
	suite.Run(t, new(SimulatorTestSuite))
}

func (s *SimulatorTestSuite) SetupTest() {
	cal, err := calendar.New(shared.CalendarDefinition{
		WorkingWeekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Shifts:          []shared.TimeRange{{Start: "08:00", End: "16:00"}},
		HorizonDays:     30,
	})
	s.Require().NoError(err)
	s.cal = cal
}

func mondayStart() time.Time {
	return time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC)
}

func at(h, m int) time.Time {
	return time.Date(2026, 8, 3, h, m, 0, 0, time.UTC)
}

func (s *SimulatorTestSuite) run(f shared.Flow, demand shared.Demand, pools map[string][]string) shared.SimulationResult {
	classified, issues, err := flow.Validate(f)
	s.Require().NoError(err, "%v", issues)
	sim := NewSimulator(classified, s.cal, pools, nil)
	result, err := sim.Run(demand, mondayStart())
	s.Require().NoError(err)
	return result
}

func findInstance(instances []shared.TaskInstance, taskID string, iteration int) (shared.TaskInstance, bool) {
	for _, inst := range instances {
		if inst.TaskDefID == taskID && inst.IterationIndex == iteration {
			return inst, true
		}
	}
	return shared.TaskInstance{}, false
}

// TestLinearThreeTaskFlow is scenario 1: A(30m) -> B(45m) -> C(15m), one
// worker, no calendar gaps.
func (s *SimulatorTestSuite) TestLinearThreeTaskFlow() {
	f := shared.Flow{
		ID: "linear",
		Tasks: []shared.TaskDefinition{
			{ID: "A", DurationMinutes: 30, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 45, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "C", DurationMinutes: 15, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "A", ToTaskID: "B"},
			{FromTaskID: "B", ToTaskID: "C"},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	a, ok := findInstance(result.Instances, "A", 1)
	s.Require().True(ok)
	s.Equal(at(8, 0), a.Start)
	s.Equal(at(8, 30), a.End)

	b, ok := findInstance(result.Instances, "B", 1)
	s.Require().True(ok)
	s.Equal(at(8, 30), b.Start)
	s.Equal(at(9, 15), b.End)

	c, ok := findInstance(result.Instances, "C", 1)
	s.Require().True(ok)
	s.Equal(at(9, 15), c.Start)
	s.Equal(at(9, 30), c.End)

	s.Equal(90*time.Minute, result.Makespan())
}

// TestTwoWorkerParallelFanOut is scenario 2: R(10m) fans to P(60m) and
// Q(60m); W1 on R+P, W2 on Q.
func (s *SimulatorTestSuite) TestTwoWorkerParallelFanOut() {
	f := shared.Flow{
		ID: "fanout",
		Tasks: []shared.TaskDefinition{
			{ID: "R", DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "P", DurationMinutes: 60, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "Q", DurationMinutes: 60, Workers: []string{"W2"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "R", ToTaskID: "P"},
			{FromTaskID: "R", ToTaskID: "Q"},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	r, _ := findInstance(result.Instances, "R", 1)
	s.Equal(at(8, 0), r.Start)
	s.Equal(at(8, 10), r.End)

	p, _ := findInstance(result.Instances, "P", 1)
	s.Equal(at(8, 10), p.Start)
	s.Equal(at(9, 10), p.End)

	q, _ := findInstance(result.Instances, "Q", 1)
	s.Equal(at(8, 10), q.Start)
	s.Equal(at(9, 10), q.End)

	s.Equal(70*time.Minute, result.Makespan())
}

// TestCycleGroupFixedBound is scenario 3: Head(10m) -> Body(20m) ->
// Tail(10m) -> back to Head, bound N=3, single worker.
func (s *SimulatorTestSuite) TestCycleGroupFixedBound() {
	f := shared.Flow{
		ID: "cycle",
		Tasks: []shared.TaskDefinition{
			{ID: "H", Kind: shared.KindCycleHead, DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAutoOnEvent, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 20, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "T", Kind: shared.KindCycleTail, DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "H", ToTaskID: "B"},
			{FromTaskID: "B", ToTaskID: "T"},
			{FromTaskID: "T", ToTaskID: "H", Cyclic: true},
		},
		CycleGroups: []shared.CycleGroup{
			{ID: "G1", HeadTaskID: "H", TailTaskID: "T", MemberTaskIDs: []string{"H", "B", "T"}, Bound: shared.CycleBound{FixedN: 3}},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	h1, _ := findInstance(result.Instances, "H", 1)
	s.Equal(at(8, 0), h1.Start)
	s.Equal(at(8, 10), h1.End)
	t3, _ := findInstance(result.Instances, "T", 3)
	s.Equal(at(9, 50), t3.Start)
	s.Equal(at(10, 0), t3.End)

	headCount := 0
	for _, inst := range result.Instances {
		if inst.TaskDefID == "H" {
			headCount++
		}
	}
	s.Equal(3, headCount)
	s.Equal(120*time.Minute, result.Makespan())
}

// TestShiftBoundaryCrossing is scenario 4: a single 600-minute task
// crosses from Monday into Tuesday's shift.
func (s *SimulatorTestSuite) TestShiftBoundaryCrossing() {
	f := shared.Flow{
		ID: "crossing",
		Tasks: []shared.TaskDefinition{
			{ID: "X", DurationMinutes: 600, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	x, ok := findInstance(result.Instances, "X", 1)
	s.Require().True(ok)
	s.Equal(at(8, 0), x.Start)
	s.Equal(time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC), x.End)

	foundCalendarWait := false
	for _, e := range result.ReasonLog {
		if e.Reason == shared.ReasonWaitedOnCalendar {
			foundCalendarWait = true
		}
	}
	s.True(foundCalendarWait)
}

// TestReassignmentOnComplete is scenario 5: B starts unstaffed; when A
// completes, W1 moves from A to B.
func (s *SimulatorTestSuite) TestReassignmentOnComplete() {
	f := shared.Flow{
		ID: "reassign",
		Tasks: []shared.TaskDefinition{
			{ID: "A", DurationMinutes: 30, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 30, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
		},
		ReassignmentRules: []shared.ReassignmentRule{
			{WorkerID: "W1", SourceTaskID: "A", Trigger: shared.TriggerOnComplete, TargetTaskID: "B", Mode: shared.ModeReplace},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	a, _ := findInstance(result.Instances, "A", 1)
	s.Equal(at(8, 0), a.Start)
	s.Equal(at(8, 30), a.End)

	b, ok := findInstance(result.Instances, "B", 1)
	s.Require().True(ok)
	s.Equal(at(8, 30), b.Start)
	s.Equal(at(9, 0), b.End)
	s.Equal([]string{"W1"}, b.WorkerIDs)

	timeline := result.WorkerTimelines["W1"]
	s.Require().Len(timeline, 2)
	s.Equal(at(8, 30), timeline[0].End)
	s.Equal(at(8, 30), timeline[1].Start)
}

// TestWorkerPoolAssignment exercises the worker-pool resolution path the
// optimiser relies on: a task declares a pool role rather than a fixed
// worker, and the ledger picks whichever pool member frees up first.
func (s *SimulatorTestSuite) TestWorkerPoolAssignment() {
	f := shared.Flow{
		ID: "pool",
		Tasks: []shared.TaskDefinition{
			{ID: "T1", DurationMinutes: 60, WorkerPool: "line", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "T2", DurationMinutes: 60, WorkerPool: "line", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "T3", DurationMinutes: 60, WorkerPool: "line", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
	}
	pools := map[string][]string{"line": {"L1", "L2", "L3"}}
	result := s.run(f, shared.Demand{Units: 1}, pools)
	s.Equal(60*time.Minute, result.Makespan())
}

// TestParallelJoinReassignment exercises the PARALLEL_JOIN reassignment
// mode: a reassigned worker opens a brand-new instance of the target task
// instead of joining the one already running there.
func (s *SimulatorTestSuite) TestParallelJoinReassignment() {
	f := shared.Flow{
		ID: "parallel-join",
		Tasks: []shared.TaskDefinition{
			{ID: "A", DurationMinutes: 20, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 40, Workers: []string{"W2"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
		},
		ReassignmentRules: []shared.ReassignmentRule{
			{WorkerID: "W1", SourceTaskID: "A", Trigger: shared.TriggerOnComplete, TargetTaskID: "B", Mode: shared.ModeParallelJoin},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	var bInstances []shared.TaskInstance
	for _, inst := range result.Instances {
		if inst.TaskDefID == "B" {
			bInstances = append(bInstances, inst)
		}
	}
	s.Require().Len(bInstances, 2, "expected B's original run plus a parallel-joined instance")

	var sawOriginal, sawJoined bool
	for _, inst := range bInstances {
		switch {
		case len(inst.WorkerIDs) == 1 && inst.WorkerIDs[0] == "W2":
			sawOriginal = true
			s.Equal(at(8, 0), inst.Start)
		case len(inst.WorkerIDs) == 1 && inst.WorkerIDs[0] == "W1":
			sawJoined = true
			s.Equal(at(8, 20), inst.Start)
		}
	}
	s.True(sawOriginal, "B's original instance staffed by W2 should be untouched")
	s.True(sawJoined, "the reassigned W1 should open its own parallel B instance")
}

// TestMinPredecessorUnitsBatching exercises the minimum-predecessor-units
// batching rule directly: a successor unit's readiness gate counts total
// completed predecessor instances against ratio * (its own unit index + 1),
// not just its same-numbered predecessor instance.
func (s *SimulatorTestSuite) TestMinPredecessorUnitsBatching() {
	f := shared.Flow{
		ID: "batching",
		Tasks: []shared.TaskDefinition{
			{ID: "P", DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "S", DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "P", ToTaskID: "S", MinPredecessorUnits: 2},
		},
	}
	classified, issues, err := flow.Validate(f)
	s.Require().NoError(err, "%v", issues)
	sim := NewSimulator(classified, s.cal, nil, nil)

	key := instanceKey{taskID: "S", unitIndex: 0, iteration: 1}

	ok, _ := sim.predecessorsSatisfied(key)
	s.False(ok, "unit 0 of S should wait until 2 completed instances of P exist")

	sim.completedCountByTask["P"] = 1
	ok, _ = sim.predecessorsSatisfied(key)
	s.False(ok, "a single completed P instance is not enough for the ratio-2 edge")

	sim.completedCountByTask["P"] = 2
	ok, _ = sim.predecessorsSatisfied(key)
	s.True(ok, "two completed P instances satisfy unit 0's ratio-2 requirement")
}

// TestDurationDividesAcrossMultipleWorkers exercises the
// duration-division-across-workers supplemented feature: a task staffed
// by more than one worker finishes in a fraction of its nominal duration.
func (s *SimulatorTestSuite) TestDurationDividesAcrossMultipleWorkers() {
	f := shared.Flow{
		ID: "divided",
		Tasks: []shared.TaskDefinition{
			{ID: "D", DurationMinutes: 90, Workers: []string{"W1", "W2", "W3"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	d, ok := findInstance(result.Instances, "D", 1)
	s.Require().True(ok)
	s.Equal(at(8, 0), d.Start)
	s.Equal(at(8, 30), d.End, "90 minutes split across 3 workers finishes in 30")
}

// TestDailyPrepGatingPerWorker exercises the daily-prep supplemented
// feature: a Daily task's second unit, due to run for the same worker on
// the same calendar day, is skipped rather than re-run.
func (s *SimulatorTestSuite) TestDailyPrepGatingPerWorker() {
	f := shared.Flow{
		ID: "daily-prep",
		Tasks: []shared.TaskDefinition{
			{ID: "P", DurationMinutes: 5, Daily: true, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
		},
	}
	result := s.run(f, shared.Demand{Units: 2}, nil)

	var unit0, unit1 shared.TaskInstance
	var foundUnit0, foundUnit1 bool
	for _, inst := range result.Instances {
		if inst.TaskDefID != "P" {
			continue
		}
		switch inst.UnitIndex {
		case 0:
			unit0, foundUnit0 = inst, true
		case 1:
			unit1, foundUnit1 = inst, true
		}
	}
	s.Require().True(foundUnit0)
	s.Require().True(foundUnit1)

	s.Equal(at(8, 0), unit0.Start)
	s.Equal(at(8, 5), unit0.End)

	s.Equal(unit1.Start, unit1.End, "a skipped daily-prep instance has zero duration")
	s.Equal(shared.ReasonDailyPrepSkipped, unit1.Reason)

	skippedWait := false
	for _, e := range result.ReasonLog {
		if e.UnitIndex == 1 && e.Reason == shared.ReasonDailyPrepSkipped {
			skippedWait = true
		}
	}
	s.True(skippedWait)
}

// TestOnIterationKReassignment exercises the on-iteration-K reassignment
// trigger: a rule attached to a cycle-tail fires once that tail completes
// the declared iteration, independent of the on-start/on-complete
// triggers the cycle's own tasks use.
func (s *SimulatorTestSuite) TestOnIterationKReassignment() {
	f := shared.Flow{
		ID: "iteration-k",
		Tasks: []shared.TaskDefinition{
			{ID: "H", Kind: shared.KindCycleHead, DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAutoOnEvent, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 20, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "T", Kind: shared.KindCycleTail, DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
			{ID: "X", DurationMinutes: 15, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 3},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "H", ToTaskID: "B"},
			{FromTaskID: "B", ToTaskID: "T"},
			{FromTaskID: "T", ToTaskID: "H", Cyclic: true},
		},
		CycleGroups: []shared.CycleGroup{
			{ID: "G1", HeadTaskID: "H", TailTaskID: "T", MemberTaskIDs: []string{"H", "B", "T"}, Bound: shared.CycleBound{FixedN: 3}},
		},
		ReassignmentRules: []shared.ReassignmentRule{
			{WorkerID: "W2", SourceTaskID: "T", Trigger: shared.TriggerOnIterationK, IterationK: 2, TargetTaskID: "X"},
		},
	}
	result := s.run(f, shared.Demand{Units: 1}, nil)

	t2, ok := findInstance(result.Instances, "T", 2)
	s.Require().True(ok)
	s.Equal(at(9, 10), t2.Start)
	s.Equal(at(9, 20), t2.End)

	x, ok := findInstance(result.Instances, "X", 1)
	s.Require().True(ok)
	s.Equal(at(9, 20), x.Start)
	s.Equal(at(9, 35), x.End)
	s.Equal([]string{"W2"}, x.WorkerIDs)
}
