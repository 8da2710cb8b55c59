package scheduler

import (
	"go.uber.org/zap"

	"prodflow/shared"
)

// ReassignmentController applies reassignment rules: when a trigger tied
// to a source task fires, it decides whether the named worker actually
// moves to the target task, applying the no-preemption and
// not-already-staffed policies.
type ReassignmentController struct {
	bySource map[string][]shared.ReassignmentRule
	logger   *zap.Logger
}

// NewReassignmentController indexes a Flow's reassignment rules by their
// source task for O(1) lookup when that task's trigger fires.
func NewReassignmentController(rules []shared.ReassignmentRule, logger *zap.Logger) *ReassignmentController {
	bySource := make(map[string][]shared.ReassignmentRule)
	for _, r := range rules {
		bySource[r.SourceTaskID] = append(bySource[r.SourceTaskID], r)
	}
	return &ReassignmentController{bySource: bySource, logger: logger}
}

// RulesMatching returns the rules attached to sourceTaskID whose trigger
// matches the event just observed (on-start, on-complete, or the cycle
// having just reached iteration k).
func (rc *ReassignmentController) RulesMatching(sourceTaskID string, trigger shared.ReassignTrigger, iteration int) []shared.ReassignmentRule {
	var out []shared.ReassignmentRule
	for _, r := range rc.bySource[sourceTaskID] {
		if r.Trigger != trigger {
			continue
		}
		if trigger == shared.TriggerOnIterationK && r.IterationK != iteration {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Decision is the outcome of evaluating one reassignment rule.
type Decision struct {
	Rule      shared.ReassignmentRule
	Fire      bool
	Suppressed bool
	Deferred  bool
	Reason    shared.ReasonCode
}

// Evaluate decides whether rule should fire right now. workerBusy reports
// whether the named worker is mid-instance on a different task (no
// preemption: the move defers until that instance ends). targetStaffed
// reports whether the target task already has >=1 worker active for its
// current iteration (consulted only when the rule requires it).
func (rc *ReassignmentController) Evaluate(rule shared.ReassignmentRule, workerBusy bool, targetStaffed bool) Decision {
	if workerBusy {
		rc.logger.Debug("reassignment deferred: worker mid-instance",
			zap.String("worker", rule.WorkerID), zap.String("target", rule.TargetTaskID))
		return Decision{Rule: rule, Deferred: true, Reason: shared.ReasonReassignmentDeferred}
	}
	if rule.OnlyIfTargetNotStaffed && targetStaffed {
		rc.logger.Debug("reassignment suppressed: target already staffed",
			zap.String("worker", rule.WorkerID), zap.String("target", rule.TargetTaskID))
		return Decision{Rule: rule, Suppressed: true, Reason: shared.ReasonReassignmentDeferred}
	}
	return Decision{Rule: rule, Fire: true}
}
