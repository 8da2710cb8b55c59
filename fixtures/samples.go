// Package fixtures holds sample Flow, Calendar, and Demand definitions
// used by the BDD step definitions and the CLI's -demo mode.
package fixtures

import (
	"time"

	"prodflow/shared"
)

// StandardCalendar is the Mon-Fri 08:00-16:00 calendar shared by every
// worked scenario below.
func StandardCalendar() shared.CalendarDefinition {
	return shared.CalendarDefinition{
		ID:              "standard",
		WorkingWeekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Shifts:          []shared.TimeRange{{Start: "08:00", End: "16:00"}},
		HorizonDays:     30,
	}
}

// LinearThreeTaskFlow is scenario 1: A(30m) -> B(45m) -> C(15m), one
// worker for all three steps.
func LinearThreeTaskFlow() shared.Flow {
	return shared.Flow{
		ID:         "linear-3-task",
		CalendarID: "standard",
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
}

// TwoWorkerFanOutFlow is scenario 2: root R(10m) fans out to parallel
// tasks P(60m) and Q(60m) staffed by distinct workers.
func TwoWorkerFanOutFlow() shared.Flow {
	return shared.Flow{
		ID:         "two-worker-fanout",
		CalendarID: "standard",
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
}

// FixedBoundCycleFlow is scenario 3: Head(10m) -> Body(20m) -> Tail(10m)
// feeding back to Head, bound N=3, single worker.
func FixedBoundCycleFlow() shared.Flow {
	return shared.Flow{
		ID:         "fixed-bound-cycle",
		CalendarID: "standard",
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
}

// ShiftCrossingFlow is scenario 4: a single 600-minute task that outlives
// one working day.
func ShiftCrossingFlow() shared.Flow {
	return shared.Flow{
		ID:         "shift-crossing",
		CalendarID: "standard",
		Tasks: []shared.TaskDefinition{
			{ID: "X", DurationMinutes: 600, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
		},
	}
}

// ReassignmentFlow is scenario 5: B starts unstaffed; when A completes,
// W1 moves from A to B.
func ReassignmentFlow() shared.Flow {
	return shared.Flow{
		ID:         "reassignment-on-complete",
		CalendarID: "standard",
		Tasks: []shared.TaskDefinition{
			{ID: "A", DurationMinutes: 30, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "B", DurationMinutes: 30, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
		},
		ReassignmentRules: []shared.ReassignmentRule{
			{WorkerID: "W1", SourceTaskID: "A", Trigger: shared.TriggerOnComplete, TargetTaskID: "B", Mode: shared.ModeReplace},
		},
	}
}

// ThreeParallelTasksFlow is scenario 6: three independent 60m tasks
// staffed from a single "default" pool, the flow an optimiser search
// tunes the pool size against.
func ThreeParallelTasksFlow() shared.Flow {
	return shared.Flow{
		ID:         "three-parallel",
		CalendarID: "standard",
		Tasks: []shared.TaskDefinition{
			{ID: "T1", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "T2", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "T3", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
	}
}

// SingleUnitDemand is the flat demand every scenario above simulates
// against: one unit, no lot structure.
func SingleUnitDemand() shared.Demand {
	return shared.Demand{Units: 1}
}

// MondayStart is the fixed run-start instant every scenario above is
// anchored to: Monday 08:00, the calendar's shift open.
func MondayStart() time.Time {
	return time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC)
}
