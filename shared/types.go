// Package shared holds the data model common to every package in this
// module: flow definitions, calendars, demand, task instances, and the
// results a simulation or optimiser run produces.
package shared

import "time"

// TaskKind classifies a TaskDefinition's role inside a Flow.
type TaskKind string

const (
	KindOrdinary          TaskKind = "ordinary"
	KindPreparation       TaskKind = "preparation"
	KindMechanicalProcess TaskKind = "mechanical_process"
	KindCycleHead         TaskKind = "cycle_head"
	KindCycleTail         TaskKind = "cycle_tail"
	KindAutoTriggered     TaskKind = "auto_triggered"
)

// StartCondition selects how a TaskDefinition becomes eligible to run.
type StartCondition string

const (
	StartAfterPredecessors StartCondition = "after_predecessors"
	StartManualTrigger     StartCondition = "manual_trigger"
	StartAutoOnEvent       StartCondition = "auto_on_event"
)

// TaskState is the lifecycle state of a materialised TaskInstance.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateReady     TaskState = "ready"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateCancelled TaskState = "cancelled"
)

// ReassignTrigger selects when a ReassignmentRule fires relative to its
// source task.
type ReassignTrigger string

const (
	TriggerOnStart      ReassignTrigger = "on_start"
	TriggerOnComplete   ReassignTrigger = "on_complete"
	TriggerOnIterationK ReassignTrigger = "on_iteration_k"
)

// ReassignMode selects what happens to the worker at the target task.
type ReassignMode string

const (
	// ModeReplace is the default: the worker joins the target task's
	// assigned-worker set for the remainder of the run.
	ModeReplace ReassignMode = "replace"
	// ModeParallelJoin starts a brand new parallel task-instance at the
	// target task instead of joining an existing one.
	ModeParallelJoin ReassignMode = "parallel_join"
)

// ReassignmentRule moves a worker from a source task's active assignment
// to a target task's when its trigger condition fires.
type ReassignmentRule struct {
	WorkerID               string          `json:"workerId" yaml:"workerId"`
	SourceTaskID           string          `json:"sourceTaskId" yaml:"sourceTaskId"`
	Trigger                ReassignTrigger `json:"trigger" yaml:"trigger"`
	IterationK             int             `json:"iterationK,omitempty" yaml:"iterationK,omitempty"`
	TargetTaskID           string          `json:"targetTaskId" yaml:"targetTaskId"`
	OnlyIfTargetNotStaffed bool            `json:"onlyIfTargetNotStaffed,omitempty" yaml:"onlyIfTargetNotStaffed,omitempty"`
	Mode                   ReassignMode    `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// TaskDefinition is a node in a Flow's dependency DAG.
type TaskDefinition struct {
	ID                string         `json:"id" yaml:"id"`
	Kind              TaskKind       `json:"kind" yaml:"kind"`
	DurationMinutes   int            `json:"durationMinutes" yaml:"durationMinutes"`
	Workers           []string       `json:"workers,omitempty" yaml:"workers,omitempty"`
	WorkerPool        string         `json:"workerPool,omitempty" yaml:"workerPool,omitempty"`
	Machine           string         `json:"machine,omitempty" yaml:"machine,omitempty"`
	PreparationStepID string         `json:"preparationStepId,omitempty" yaml:"preparationStepId,omitempty"`
	Daily             bool           `json:"daily,omitempty" yaml:"daily,omitempty"`
	StartCondition    StartCondition `json:"startCondition" yaml:"startCondition"`
	GroupKey          string         `json:"groupKey,omitempty" yaml:"groupKey,omitempty"`
	GroupPosition     int            `json:"groupPosition,omitempty" yaml:"groupPosition,omitempty"`
	DeclaredOrder     int            `json:"declaredOrder" yaml:"declaredOrder"`
}

// Dependency is a directed edge from a predecessor to a successor task.
type Dependency struct {
	FromTaskID          string `json:"fromTaskId" yaml:"fromTaskId"`
	ToTaskID            string `json:"toTaskId" yaml:"toTaskId"`
	Cyclic              bool   `json:"cyclic,omitempty" yaml:"cyclic,omitempty"`
	MinPredecessorUnits int    `json:"minPredecessorUnits,omitempty" yaml:"minPredecessorUnits,omitempty"`
}

// EffectiveMinPredecessorUnits returns MinPredecessorUnits with its
// default of 1 applied.
func (d Dependency) EffectiveMinPredecessorUnits() int {
	if d.MinPredecessorUnits <= 0 {
		return 1
	}
	return d.MinPredecessorUnits
}

// CycleBound describes how many iterations a cycle group runs for.
type CycleBound struct {
	FixedN       int    `json:"fixedN,omitempty" yaml:"fixedN,omitempty"`
	FeederTaskID string `json:"feederTaskId,omitempty" yaml:"feederTaskId,omitempty"`
}

// IsFeederDependent reports whether the bound is "until upstream complete"
// rather than a fixed iteration count.
func (b CycleBound) IsFeederDependent() bool {
	return b.FeederTaskID != ""
}

// CycleGroup is a named feedback loop inside a Flow.
type CycleGroup struct {
	ID            string     `json:"id" yaml:"id"`
	HeadTaskID    string     `json:"headTaskId" yaml:"headTaskId"`
	TailTaskID    string     `json:"tailTaskId" yaml:"tailTaskId"`
	MemberTaskIDs []string   `json:"memberTaskIds" yaml:"memberTaskIds"`
	Bound         CycleBound `json:"bound" yaml:"bound"`
}

// Flow is the canonical, immutable-during-a-run representation of a
// production flow: its tasks, dependency edges, cycle groups, and
// reassignment rules.
type Flow struct {
	ID                string             `json:"id" yaml:"id"`
	CalendarID        string             `json:"calendarId,omitempty" yaml:"calendarId,omitempty"`
	Tasks             []TaskDefinition   `json:"tasks" yaml:"tasks"`
	Dependencies      []Dependency       `json:"dependencies" yaml:"dependencies"`
	CycleGroups       []CycleGroup       `json:"cycleGroups,omitempty" yaml:"cycleGroups,omitempty"`
	ReassignmentRules []ReassignmentRule `json:"reassignmentRules,omitempty" yaml:"reassignmentRules,omitempty"`
}

// TimeRange is a local-time-of-day interval, "HH:MM" to "HH:MM".
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// CalendarDefinition is the working-day template: which weekdays are
// worked, the shift and break windows on those days, and the holiday set.
type CalendarDefinition struct {
	ID              string         `json:"id" yaml:"id"`
	WorkingWeekdays []time.Weekday `json:"workingWeekdays" yaml:"workingWeekdays"`
	Shifts          []TimeRange    `json:"shifts" yaml:"shifts"`
	Breaks          []TimeRange    `json:"breaks,omitempty" yaml:"breaks,omitempty"`
	Holidays        []string       `json:"holidays,omitempty" yaml:"holidays,omitempty"` // YYYY-MM-DD
	HorizonDays     int            `json:"horizonDays,omitempty" yaml:"horizonDays,omitempty"`
}

// Lot is one prioritised batch of units for a single product.
type Lot struct {
	ProductCode string `json:"productCode" yaml:"productCode"`
	UnitCount   int    `json:"unitCount" yaml:"unitCount"`
	Priority    int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Demand is either a flat unit count or a prioritised list of Lots.
type Demand struct {
	Units int   `json:"units,omitempty" yaml:"units,omitempty"`
	Lots  []Lot `json:"lots,omitempty" yaml:"lots,omitempty"`
}

// ReasonCode is the fixed enumeration of trace annotations.
type ReasonCode string

const (
	ReasonWaitedOnPredecessor  ReasonCode = "waited-on-predecessor"
	ReasonWaitedOnWorker       ReasonCode = "waited-on-worker"
	ReasonWaitedOnMachine      ReasonCode = "waited-on-machine"
	ReasonWaitedOnCalendar     ReasonCode = "waited-on-calendar"
	ReasonCycleIterationOpen   ReasonCode = "cycle-iteration-open"
	ReasonReassignmentDeferred ReasonCode = "reassignment-deferred"
	ReasonDailyPrepSkipped     ReasonCode = "daily-prep-skipped"
)

// TaskInstance is a materialised occurrence of a TaskDefinition for a
// specific (unit, iteration).
type TaskInstance struct {
	ID             string     `json:"id"`
	TaskDefID      string     `json:"taskDefId"`
	UnitIndex      int        `json:"unitIndex"`
	IterationIndex int        `json:"iterationIndex"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	WorkerIDs      []string   `json:"workerIds,omitempty"`
	MachineID      string     `json:"machineId,omitempty"`
	Status         TaskState  `json:"status"`
	CycleGroupID   string     `json:"cycleGroupId,omitempty"`
	Reason         ReasonCode `json:"reason,omitempty"`
}

// Interval is a single occupied span on a worker's or machine's ledger.
type Interval struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	TaskInstanceID string    `json:"taskInstanceId"`
}

// ReasonLogEntry records why a task-instance waited, in time order.
type ReasonLogEntry struct {
	Time      time.Time  `json:"time"`
	TaskDefID string     `json:"taskDefId"`
	UnitIndex int        `json:"unitIndex"`
	Reason    ReasonCode `json:"reason"`
	Detail    string     `json:"detail,omitempty"`
}

// SimulationResult is the sole output of a simulation run.
type SimulationResult struct {
	MakespanStart    time.Time             `json:"makespanStart"`
	MakespanEnd      time.Time             `json:"makespanEnd"`
	Instances        []TaskInstance        `json:"instances"`
	WorkerTimelines  map[string][]Interval `json:"workerTimelines"`
	MachineTimelines map[string][]Interval `json:"machineTimelines"`
	Bottleneck       string                `json:"bottleneck,omitempty"`
	ReasonLog        []ReasonLogEntry      `json:"reasonLog"`
}

// Makespan returns the wall-clock duration of the run.
func (r SimulationResult) Makespan() time.Duration {
	if r.MakespanEnd.Before(r.MakespanStart) {
		return 0
	}
	return r.MakespanEnd.Sub(r.MakespanStart)
}

// RoleRange is the inclusive worker-count search space for one role.
type RoleRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// OptimiserRequest is the input to a deadline search.
type OptimiserRequest struct {
	Deadline     time.Time            `json:"deadline" yaml:"deadline"`
	Search       map[string]RoleRange `json:"search" yaml:"search"`
	InitialGuess map[string]int       `json:"initialGuess,omitempty" yaml:"initialGuess,omitempty"`
}

// OptimiserStatus reports how a search concluded.
type OptimiserStatus string

const (
	OptimiserFeasible   OptimiserStatus = "feasible"
	OptimiserInfeasible OptimiserStatus = "infeasible"
	OptimiserCancelled  OptimiserStatus = "cancelled"
)

// OptimiserResult is the outcome of a deadline search.
type OptimiserResult struct {
	Status              OptimiserStatus `json:"status"`
	Vector              map[string]int  `json:"vector,omitempty"`
	Makespan             time.Duration  `json:"makespan"`
	CandidatesEvaluated  int            `json:"candidatesEvaluated"`
}

// ProgressRecord is delivered to the progress sink passed to an
// optimiser search, between candidate evaluations.
type ProgressRecord struct {
	CandidatesEvaluated int
	CandidatesTotal     int
	BestMakespan        time.Duration
	BestVector          map[string]int
}
