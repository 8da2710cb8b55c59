// Package steps implements the godog step definitions that drive the
// simulator and optimiser against the bundled fixtures.
package steps

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"go.uber.org/zap"

	"prodflow/calendar"
	"prodflow/fixtures"
	"prodflow/flow"
	"prodflow/optimiser"
	"prodflow/scheduler"
	"prodflow/shared"
)

var fixtureFlows = map[string]func() shared.Flow{
	"linear-3-task":           fixtures.LinearThreeTaskFlow,
	"two-worker-fanout":       fixtures.TwoWorkerFanOutFlow,
	"fixed-bound-cycle":       fixtures.FixedBoundCycleFlow,
	"shift-crossing":          fixtures.ShiftCrossingFlow,
	"reassignment-on-complete": fixtures.ReassignmentFlow,
	"three-parallel":          fixtures.ThreeParallelTasksFlow,
}

// SimulationTestContext holds state across steps in one scenario.
type SimulationTestContext struct {
	logger     *zap.Logger
	startTime  time.Time
	flowDef    shared.Flow
	pools      map[string][]string
	result     shared.SimulationResult
	runErr     error
	optReq     shared.OptimiserRequest
	optResult  shared.OptimiserResult
	optErr     error
}

// NewSimulationTestContext creates a new context for a scenario.
func NewSimulationTestContext() *SimulationTestContext {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, _ := zapConfig.Build()
	return &SimulationTestContext{logger: logger}
}

// RegisterSteps connects Gherkin steps to Go functions.
func (tc *SimulationTestContext) RegisterSteps(ctx *godog.ScenarioContext) {
	ctx.Step(`^the simulation run starts at the Monday shift open$`, tc.theSimulationRunStartsAtTheMondayShiftOpen)
	ctx.Step(`^the "([^"]*)" flow simulated with a single unit$`, tc.theFlowSimulatedWithASingleUnit)
	ctx.Step(`^the "([^"]*)" flow with a "([^"]*)" pool searched between (\d+) and (\d+)$`, tc.theFlowWithAPoolSearchedBetween)
	ctx.Step(`^the optimiser searches for a deadline of "([^"]*)"$`, tc.theOptimiserSearchesForADeadlineOf)
	ctx.Step(`^the makespan should be "([^"]*)"$`, tc.theMakespanShouldBe)
	ctx.Step(`^task "([^"]*)" unit (\d+) should run from "([^"]*)" to "([^"]*)"$`, tc.taskUnitShouldRunFromTo)
	ctx.Step(`^task "([^"]*)" unit (\d+) should end on "([^"]*)" at "([^"]*)"$`, tc.taskUnitShouldEndOnAt)
	ctx.Step(`^task "([^"]*)" unit (\d+) should be staffed by "([^"]*)"$`, tc.taskUnitShouldBeStaffedBy)
	ctx.Step(`^a wait reason "([^"]*)" should be recorded$`, tc.aWaitReasonShouldBeRecorded)
	ctx.Step(`^cycle group "([^"]*)" should have run its head (\d+) times$`, tc.cycleGroupShouldHaveRunItsHeadTimes)
	ctx.Step(`^the optimiser result should be feasible with "([^"]*)" at (\d+)$`, tc.theOptimiserResultShouldBeFeasibleWith)
}

func (tc *SimulationTestContext) theSimulationRunStartsAtTheMondayShiftOpen() error {
	tc.startTime = fixtures.MondayStart()
	return nil
}

func (tc *SimulationTestContext) loadFlow(name string) (shared.Flow, error) {
	build, ok := fixtureFlows[name]
	if !ok {
		return shared.Flow{}, fmt.Errorf("unknown fixture flow %q", name)
	}
	return build(), nil
}

func (tc *SimulationTestContext) theFlowSimulatedWithASingleUnit(name string) error {
	f, err := tc.loadFlow(name)
	if err != nil {
		return err
	}
	tc.flowDef = f

	classified, _, err := flow.Validate(f)
	if err != nil {
		return fmt.Errorf("flow failed validation: %w", err)
	}
	cal, err := calendar.New(fixtures.StandardCalendar())
	if err != nil {
		return fmt.Errorf("calendar is misconfigured: %w", err)
	}
	sim := scheduler.NewSimulator(classified, cal, nil, tc.logger)
	tc.result, tc.runErr = sim.Run(fixtures.SingleUnitDemand(), tc.startTime)
	if tc.runErr != nil {
		return fmt.Errorf("simulation failed: %w", tc.runErr)
	}
	return nil
}

func (tc *SimulationTestContext) theFlowWithAPoolSearchedBetween(name, role string, min, max int) error {
	f, err := tc.loadFlow(name)
	if err != nil {
		return err
	}
	tc.flowDef = f
	tc.optReq = shared.OptimiserRequest{Search: map[string]shared.RoleRange{role: {Min: min, Max: max}}}
	return nil
}

func (tc *SimulationTestContext) theOptimiserSearchesForADeadlineOf(offset string) error {
	d, err := parseOffset(offset)
	if err != nil {
		return err
	}
	tc.optReq.Deadline = tc.startTime.Add(d)

	opt, err := optimiser.New(tc.flowDef, fixtures.StandardCalendar(), fixtures.SingleUnitDemand(), tc.logger)
	if err != nil {
		return fmt.Errorf("failed to construct optimiser: %w", err)
	}
	tc.optResult, tc.optErr = opt.Search(tc.startTime, tc.optReq, nil, nil)
	return nil
}

func (tc *SimulationTestContext) theMakespanShouldBe(expected string) error {
	want, err := parseOffset(expected)
	if err != nil {
		return err
	}
	got := tc.result.Makespan()
	if got != want {
		return fmt.Errorf("expected makespan %s, got %s", want, got)
	}
	return nil
}

func (tc *SimulationTestContext) findInstance(taskID string, unit int) (shared.TaskInstance, bool) {
	for _, inst := range tc.result.Instances {
		if inst.TaskDefID == taskID && inst.UnitIndex == unit {
			return inst, true
		}
	}
	return shared.TaskInstance{}, false
}

func (tc *SimulationTestContext) taskUnitShouldRunFromTo(taskID string, unit int, fromOffset, toOffset string) error {
	inst, ok := tc.findInstance(taskID, unit)
	if !ok {
		return fmt.Errorf("no instance found for task %q unit %d", taskID, unit)
	}
	wantStart, err := tc.absoluteTime(fromOffset)
	if err != nil {
		return err
	}
	wantEnd, err := tc.absoluteTime(toOffset)
	if err != nil {
		return err
	}
	if !inst.Start.Equal(wantStart) {
		return fmt.Errorf("task %s unit %d expected to start %s, started %s", taskID, unit, wantStart, inst.Start)
	}
	if !inst.End.Equal(wantEnd) {
		return fmt.Errorf("task %s unit %d expected to end %s, ended %s", taskID, unit, wantEnd, inst.End)
	}
	return nil
}

func (tc *SimulationTestContext) taskUnitShouldEndOnAt(taskID string, unit int, weekday, clock string) error {
	inst, ok := tc.findInstance(taskID, unit)
	if !ok {
		return fmt.Errorf("no instance found for task %q unit %d", taskID, unit)
	}
	if !strings.EqualFold(inst.End.Weekday().String(), weekday) {
		return fmt.Errorf("task %s unit %d expected to end on %s, ended on %s", taskID, unit, weekday, inst.End.Weekday())
	}
	wantHour, wantMin, err := parseClock(clock)
	if err != nil {
		return err
	}
	if inst.End.Hour() != wantHour || inst.End.Minute() != wantMin {
		return fmt.Errorf("task %s unit %d expected to end at %02d:%02d, ended at %02d:%02d", taskID, unit, wantHour, wantMin, inst.End.Hour(), inst.End.Minute())
	}
	return nil
}

func (tc *SimulationTestContext) taskUnitShouldBeStaffedBy(taskID string, unit int, workerID string) error {
	inst, ok := tc.findInstance(taskID, unit)
	if !ok {
		return fmt.Errorf("no instance found for task %q unit %d", taskID, unit)
	}
	for _, w := range inst.WorkerIDs {
		if w == workerID {
			return nil
		}
	}
	return fmt.Errorf("task %s unit %d staffed by %v, expected %q among them", taskID, unit, inst.WorkerIDs, workerID)
}

func (tc *SimulationTestContext) aWaitReasonShouldBeRecorded(reason string) error {
	for _, entry := range tc.result.ReasonLog {
		if string(entry.Reason) == reason {
			return nil
		}
	}
	return fmt.Errorf("no reason-log entry with reason %q found", reason)
}

func (tc *SimulationTestContext) cycleGroupShouldHaveRunItsHeadTimes(groupID string, times int) error {
	headTaskID := ""
	for _, g := range tc.flowDef.CycleGroups {
		if g.ID == groupID {
			headTaskID = g.HeadTaskID
		}
	}
	if headTaskID == "" {
		return fmt.Errorf("no cycle group %q declared in the flow", groupID)
	}
	count := 0
	for _, inst := range tc.result.Instances {
		if inst.TaskDefID == headTaskID {
			count++
		}
	}
	if count != times {
		return fmt.Errorf("head task %q ran %d times, expected %d", headTaskID, count, times)
	}
	return nil
}

func (tc *SimulationTestContext) theOptimiserResultShouldBeFeasibleWith(role string, value int) error {
	if tc.optErr != nil {
		return fmt.Errorf("optimiser search failed: %w", tc.optErr)
	}
	if tc.optResult.Status != shared.OptimiserFeasible {
		return fmt.Errorf("expected feasible result, got status %q", tc.optResult.Status)
	}
	if got := tc.optResult.Vector[role]; got != value {
		return fmt.Errorf("expected role %q at %d, got %d", role, value, got)
	}
	return nil
}

func (tc *SimulationTestContext) absoluteTime(offset string) (time.Time, error) {
	d, err := parseOffset(offset)
	if err != nil {
		return time.Time{}, err
	}
	return tc.startTime.Add(d), nil
}

func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimPrefix(s, "+")
	return time.ParseDuration(s)
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return hour, minute, nil
}
