package scheduler

import (
	"sort"
	"time"

	"prodflow/shared"
)

type occupiedInterval struct {
	start          time.Time
	end            time.Time
	taskInstanceID string
}

// Ledger tracks, for every worker and machine, the sorted list of
// occupied intervals and answers reservation and availability queries.
// It is mutated exclusively by the Simulator (including its reassignment
// handling); every other component only reads it, so no locking is
// required.
type Ledger struct {
	workers  map[string][]occupiedInterval
	machines map[string][]occupiedInterval
}

// NewLedger returns an empty resource ledger.
func NewLedger() *Ledger {
	return &Ledger{
		workers:  make(map[string][]occupiedInterval),
		machines: make(map[string][]occupiedInterval),
	}
}

func (l *Ledger) bucket(resource string, isMachine bool) []occupiedInterval {
	if isMachine {
		return l.machines[resource]
	}
	return l.workers[resource]
}

func (l *Ledger) setBucket(resource string, isMachine bool, v []occupiedInterval) {
	if isMachine {
		l.machines[resource] = v
	} else {
		l.workers[resource] = v
	}
}

func overlaps(a, b occupiedInterval) bool {
	return a.start.Before(b.end) && b.start.Before(a.end)
}

// Reserve appends a new occupied interval for resource, failing with
// *shared.OverlapDetectedError if it would overlap an existing one.
func (l *Ledger) Reserve(resource string, isMachine bool, start, end time.Time, taskInstanceID string) error {
	iv := occupiedInterval{start: start, end: end, taskInstanceID: taskInstanceID}
	existing := l.bucket(resource, isMachine)
	for _, e := range existing {
		if overlaps(e, iv) {
			return &shared.OverlapDetectedError{ResourceID: resource}
		}
	}
	existing = append(existing, iv)
	sort.Slice(existing, func(i, j int) bool { return existing[i].start.Before(existing[j].start) })
	l.setBucket(resource, isMachine, existing)
	return nil
}

// EarliestAvailable returns the smallest t >= notBefore at which a new
// interval could begin on resource without overlapping an existing one.
// Intervals are kept sorted by start, so one forward pass suffices.
func (l *Ledger) EarliestAvailable(resource string, isMachine bool, notBefore time.Time) time.Time {
	candidate := notBefore
	for _, e := range l.bucket(resource, isMachine) {
		if !candidate.Before(e.start) && candidate.Before(e.end) {
			candidate = e.end
		}
	}
	return candidate
}

// EarliestAvailableAmong returns the resource (from resources) with the
// smallest earliest-available time at or after notBefore, and that time.
// It backs worker-pool role assignment, where any one worker from a named
// pool may be chosen.
func (l *Ledger) EarliestAvailableAmong(resources []string, isMachine bool, notBefore time.Time) (string, time.Time) {
	bestResource := ""
	var bestTime time.Time
	for _, r := range resources {
		t := l.EarliestAvailable(r, isMachine, notBefore)
		if bestResource == "" || t.Before(bestTime) {
			bestResource = r
			bestTime = t
		}
	}
	return bestResource, bestTime
}

// Splice closes the worker's current assignment at `at` (if one covers
// that instant, truncating it there) and the caller is expected to
// immediately Reserve a new interval starting at `at` on the target
// task. Splice exists so that a single truncation instant is shared by
// both the vacated and the newly occupied interval. It is used
// exclusively by the Simulator when a reassignment rule fires.
func (l *Ledger) Splice(resource string, at time.Time) {
	existing := l.workers[resource]
	for i, e := range existing {
		if e.start.Before(at) && at.Before(e.end) {
			existing[i].end = at
		}
	}
	l.workers[resource] = existing
}

// Timeline returns a copy of a resource's occupied intervals as
// shared.Interval values, in chronological order, for inclusion in a
// SimulationResult.
func (l *Ledger) Timeline(resource string, isMachine bool) []shared.Interval {
	src := l.bucket(resource, isMachine)
	out := make([]shared.Interval, 0, len(src))
	for _, e := range src {
		out = append(out, shared.Interval{Start: e.start, End: e.end, TaskInstanceID: e.taskInstanceID})
	}
	return out
}

// AllWorkerIDs returns the IDs of every worker with at least one
// occupied interval, sorted for deterministic iteration.
func (l *Ledger) AllWorkerIDs() []string {
	ids := make([]string, 0, len(l.workers))
	for id := range l.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllMachineIDs returns the IDs of every machine with at least one
// occupied interval, sorted for deterministic iteration.
func (l *Ledger) AllMachineIDs() []string {
	ids := make([]string, 0, len(l.machines))
	for id := range l.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
