package scheduler

import (
	"time"

	"prodflow/shared"
)

// Trace accumulates the task-instance records and reason log a
// simulation run produces; it is the sole output consumed by downstream
// reporting.
type Trace struct {
	instances []shared.TaskInstance
	reasonLog []shared.ReasonLogEntry
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// RecordCompletion appends a finished task-instance to the trace.
func (t *Trace) RecordCompletion(inst shared.TaskInstance) {
	t.instances = append(t.instances, inst)
}

// RecordWait appends a reason-log entry explaining why a task-instance
// could not start immediately.
func (t *Trace) RecordWait(at time.Time, taskDefID string, unitIndex int, reason shared.ReasonCode, detail string) {
	t.reasonLog = append(t.reasonLog, shared.ReasonLogEntry{
		Time: at, TaskDefID: taskDefID, UnitIndex: unitIndex, Reason: reason, Detail: detail,
	})
}

// Result assembles the final shared.SimulationResult from the recorded
// instances, reason log, and the ledger's resource timelines.
func (t *Trace) Result(ledger *Ledger) shared.SimulationResult {
	result := shared.SimulationResult{
		Instances:        append([]shared.TaskInstance{}, t.instances...),
		WorkerTimelines:  make(map[string][]shared.Interval),
		MachineTimelines: make(map[string][]shared.Interval),
		ReasonLog:        append([]shared.ReasonLogEntry{}, t.reasonLog...),
	}

	for _, w := range ledger.AllWorkerIDs() {
		result.WorkerTimelines[w] = ledger.Timeline(w, false)
	}
	for _, m := range ledger.AllMachineIDs() {
		result.MachineTimelines[m] = ledger.Timeline(m, true)
	}

	if len(t.instances) == 0 {
		return result
	}

	start := t.instances[0].Start
	end := t.instances[0].End
	for _, inst := range t.instances {
		if inst.Start.Before(start) {
			start = inst.Start
		}
		if inst.End.After(end) {
			end = inst.End
		}
	}
	result.MakespanStart = start
	result.MakespanEnd = end
	result.Bottleneck = bottleneckResource(ledger, result.WorkerTimelines, result.MachineTimelines)
	return result
}

// bottleneckResource returns the resource (worker or machine) with the
// greatest total occupied duration, the resource most often on the
// critical path in a single-worker-per-interval model. Resources are
// visited in the ledger's sorted ID order so a tie in total duration
// resolves the same way on every run, regardless of Go's randomized map
// iteration order.
func bottleneckResource(ledger *Ledger, workers, machines map[string][]shared.Interval) string {
	best := ""
	var bestTotal time.Duration
	consider := func(id string, intervals []shared.Interval) {
		var total time.Duration
		for _, iv := range intervals {
			total += iv.End.Sub(iv.Start)
		}
		if total > bestTotal {
			bestTotal = total
			best = id
		}
	}
	for _, id := range ledger.AllWorkerIDs() {
		consider(id, workers[id])
	}
	for _, id := range ledger.AllMachineIDs() {
		consider(id, machines[id])
	}
	return best
}
