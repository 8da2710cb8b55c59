package flow

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"prodflow/shared"
)

type ValidatorTestSuite struct {
	suite.Suite
}

func TestValidatorTestSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func linearFlow() shared.Flow {
	return shared.Flow{
		ID: "linear",
		Tasks: []shared.TaskDefinition{
			{ID: "A", Kind: shared.KindOrdinary, DurationMinutes: 30, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 0},
			{ID: "B", Kind: shared.KindOrdinary, DurationMinutes: 45, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
			{ID: "C", Kind: shared.KindOrdinary, DurationMinutes: 15, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 2},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "A", ToTaskID: "B"},
			{FromTaskID: "B", ToTaskID: "C"},
		},
	}
}

func (s *ValidatorTestSuite) TestLinearFlowIsValid() {
	classified, issues, err := Validate(linearFlow())
	s.Require().NoError(err)
	for _, i := range issues {
		s.NotEqual(SeverityFatal, i.Severity)
	}
	s.Equal([]string{"A", "B", "C"}, classified.TopoOrder)
}

func (s *ValidatorTestSuite) TestUnknownDependencyTargetIsFatal() {
	f := linearFlow()
	f.Dependencies = append(f.Dependencies, shared.Dependency{FromTaskID: "A", ToTaskID: "ghost"})
	_, _, err := Validate(f)
	s.Error(err)
	s.IsType(&shared.FlowInvalidError{}, err)
}

func (s *ValidatorTestSuite) TestOrphanTaskIsFatal() {
	// D and E form a two-task island (D -> E -> D) disconnected from the
	// linear flow's only root, A. Neither is a root itself, so both are
	// unreachable and neither is auto-triggered.
	f := linearFlow()
	f.Tasks = append(f.Tasks,
		shared.TaskDefinition{ID: "D", Kind: shared.KindOrdinary, DurationMinutes: 10, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 3},
		shared.TaskDefinition{ID: "E", Kind: shared.KindOrdinary, DurationMinutes: 10, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 4},
	)
	f.Dependencies = append(f.Dependencies,
		shared.Dependency{FromTaskID: "D", ToTaskID: "E"},
		shared.Dependency{FromTaskID: "E", ToTaskID: "D"},
	)
	_, _, err := Validate(f)
	s.Error(err)
	s.IsType(&shared.FlowInvalidError{}, err)
}

func (s *ValidatorTestSuite) TestNoRootsIsFatal() {
	f := shared.Flow{
		ID: "cyclic-only",
		Tasks: []shared.TaskDefinition{
			{ID: "A", StartCondition: shared.StartAfterPredecessors},
			{ID: "B", StartCondition: shared.StartAfterPredecessors},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "A", ToTaskID: "B"},
			{FromTaskID: "B", ToTaskID: "A"},
		},
	}
	_, _, err := Validate(f)
	s.Error(err)
	s.IsType(&shared.FlowInvalidError{}, err)
}

func (s *ValidatorTestSuite) TestCycleGroupClassification() {
	f := shared.Flow{
		ID: "cycle",
		Tasks: []shared.TaskDefinition{
			{ID: "H", Kind: shared.KindCycleHead, DurationMinutes: 10, Workers: []string{"W1"}, StartCondition: shared.StartAutoOnEvent, DeclaredOrder: 0},
			{ID: "B", Kind: shared.KindOrdinary, DurationMinutes: 20, Workers: []string{"W1"}, StartCondition: shared.StartAfterPredecessors, DeclaredOrder: 1},
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
	classified, issues, err := Validate(f)
	s.Require().NoError(err)
	for _, i := range issues {
		s.NotEqual(SeverityFatal, i.Severity)
	}
	s.Equal("G1", classified.CycleOf["H"])
	s.Equal("G1", classified.CycleOf["B"])
	s.Equal("G1", classified.CycleOf["T"])
	s.True(classified.AutoTriggered["H"])
}

func (s *ValidatorTestSuite) TestBackEdgeMustRunTailToHead() {
	f := shared.Flow{
		ID: "bad-cycle",
		Tasks: []shared.TaskDefinition{
			{ID: "H", StartCondition: shared.StartAutoOnEvent},
			{ID: "T", StartCondition: shared.StartAfterPredecessors},
		},
		Dependencies: []shared.Dependency{
			{FromTaskID: "H", ToTaskID: "T"},
			{FromTaskID: "H", ToTaskID: "T", Cyclic: true}, // wrong direction
		},
		CycleGroups: []shared.CycleGroup{
			{ID: "G1", HeadTaskID: "H", TailTaskID: "T", MemberTaskIDs: []string{"H", "T"}, Bound: shared.CycleBound{FixedN: 1}},
		},
	}
	_, _, err := Validate(f)
	s.Error(err)
}
