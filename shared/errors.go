package shared

import "fmt"

// FlowInvalidError reports structural issues found by the flow validator.
// It is surfaced to the caller before any event processing begins.
type FlowInvalidError struct {
	Issues []string
}

func (e *FlowInvalidError) Error() string {
	return fmt.Sprintf("flow invalid: %d issue(s), first: %s", len(e.Issues), firstOr(e.Issues, "none"))
}

// CalendarMisconfiguredError reports a shift/break/holiday conflict.
type CalendarMisconfiguredError struct {
	Reason string
}

func (e *CalendarMisconfiguredError) Error() string {
	return fmt.Sprintf("calendar misconfigured: %s", e.Reason)
}

// DeadlockDetectedError reports pending task-instances at termination
// that have no path to ready, along with the blocking dependency set.
type DeadlockDetectedError struct {
	PendingTaskIDs []string
}

func (e *DeadlockDetectedError) Error() string {
	return fmt.Sprintf("deadlock detected: %d task(s) pending with no path to ready", len(e.PendingTaskIDs))
}

// OverlapDetectedError reports an attempt to double-book a resource. This
// is a programmer error and should never occur if the simulator is
// correct.
type OverlapDetectedError struct {
	ResourceID string
}

func (e *OverlapDetectedError) Error() string {
	return fmt.Sprintf("overlap detected on resource %q", e.ResourceID)
}

// HorizonExceededError reports that the calendar's configured horizon
// was exhausted before a task-instance could be scheduled.
type HorizonExceededError struct {
	LastSuccessfulTaskID string
}

func (e *HorizonExceededError) Error() string {
	return fmt.Sprintf("calendar horizon exceeded after task %q", e.LastSuccessfulTaskID)
}

// CancelledError reports an optimiser search aborted via its cancel flag.
type CancelledError struct {
	BestFeasibleVector map[string]int
}

func (e *CancelledError) Error() string {
	return "optimiser cancelled"
}

// InfeasibleError reports that an optimiser exhausted its search space
// without finding a configuration meeting the deadline.
type InfeasibleError struct {
	Deadline string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("no configuration in the search space meets deadline %s", e.Deadline)
}

func firstOr(s []string, fallback string) string {
	if len(s) == 0 {
		return fallback
	}
	return s[0]
}
