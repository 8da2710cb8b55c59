package optimiser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"prodflow/shared"
)

type OptimiserTestSuite struct {
	suite.Suite
}

func TestOptimiserTestSuite(t *testing.T) {
	suite.Run(t, new(OptimiserTestSuite))
}

func mondayStart() time.Time {
	return time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC)
}

// TestFindsMinimumWorkerCount is scenario 6: three independent 60m tasks,
// a single "default" role searched over [1,3], deadline 90 minutes.
func (s *OptimiserTestSuite) TestFindsMinimumWorkerCount() {
	f := shared.Flow{
		ID: "threeparallel",
		Tasks: []shared.TaskDefinition{
			{ID: "T1", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "T2", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "T3", DurationMinutes: 60, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
	}
	calDef := shared.CalendarDefinition{
		WorkingWeekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Shifts:          []shared.TimeRange{{Start: "08:00", End: "16:00"}},
		HorizonDays:     30,
	}
	opt, err := New(f, calDef, shared.Demand{Units: 1}, nil)
	s.Require().NoError(err)

	req := shared.OptimiserRequest{
		Deadline: mondayStart().Add(90 * time.Minute),
		Search:   map[string]shared.RoleRange{"default": {Min: 1, Max: 3}},
	}

	result, err := opt.Search(mondayStart(), req, nil, nil)
	s.Require().NoError(err)
	s.Equal(shared.OptimiserFeasible, result.Status)
	s.Equal(3, result.Vector["default"])
	s.Equal(60*time.Minute, result.Makespan)
	s.Equal(2, result.CandidatesEvaluated)
}

func (s *OptimiserTestSuite) TestInfeasibleWhenMaxCannotMeetDeadline() {
	f := shared.Flow{
		ID: "single",
		Tasks: []shared.TaskDefinition{
			{ID: "T1", DurationMinutes: 120, WorkerPool: "default", StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
		},
	}
	calDef := shared.CalendarDefinition{
		WorkingWeekdays: []time.Weekday{time.Monday},
		Shifts:          []shared.TimeRange{{Start: "08:00", End: "16:00"}},
		HorizonDays:     30,
	}
	opt, err := New(f, calDef, shared.Demand{Units: 1}, nil)
	s.Require().NoError(err)

	req := shared.OptimiserRequest{
		Deadline: mondayStart().Add(60 * time.Minute),
		Search:   map[string]shared.RoleRange{"default": {Min: 1, Max: 3}},
	}

	_, err = opt.Search(mondayStart(), req, nil, nil)
	s.Require().Error(err)
	s.IsType(&shared.InfeasibleError{}, err)
}
