// Package config loads Flow, Calendar, Demand, and OptimiserRequest
// documents from YAML, performing a light pre-validator sanity check
// before handing off to the flow validator.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"prodflow/shared"
)

// LoadFlow parses a Flow document. It does not run the full structural
// validator (see the flow package) — only the minimal sanity checks a
// config loader can cheaply perform before that: at least one task
// declared, and at least one task with no non-cyclic dependency edges
// leading into it (a candidate root).
func LoadFlow(data []byte) (shared.Flow, error) {
	var f shared.Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return shared.Flow{}, fmt.Errorf("failed to unmarshal flow document: %w", err)
	}
	if len(f.Tasks) == 0 {
		return shared.Flow{}, fmt.Errorf("flow document must declare at least one task")
	}

	hasIncoming := make(map[string]bool, len(f.Tasks))
	for _, d := range f.Dependencies {
		if !d.Cyclic {
			hasIncoming[d.ToTaskID] = true
		}
	}
	hasRoot := false
	for _, t := range f.Tasks {
		if !hasIncoming[t.ID] {
			hasRoot = true
			break
		}
	}
	if !hasRoot {
		return shared.Flow{}, fmt.Errorf("flow document has no task free of incoming dependencies")
	}

	return f, nil
}

// LoadCalendar parses a CalendarDefinition document.
func LoadCalendar(data []byte) (shared.CalendarDefinition, error) {
	var cal shared.CalendarDefinition
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return shared.CalendarDefinition{}, fmt.Errorf("failed to unmarshal calendar document: %w", err)
	}
	if len(cal.Shifts) == 0 {
		return shared.CalendarDefinition{}, fmt.Errorf("calendar document must declare at least one shift")
	}
	return cal, nil
}

// LoadDemand parses a Demand document.
func LoadDemand(data []byte) (shared.Demand, error) {
	var d shared.Demand
	if err := yaml.Unmarshal(data, &d); err != nil {
		return shared.Demand{}, fmt.Errorf("failed to unmarshal demand document: %w", err)
	}
	return d, nil
}

// LoadOptimiserRequest parses an OptimiserRequest document.
func LoadOptimiserRequest(data []byte) (shared.OptimiserRequest, error) {
	var req shared.OptimiserRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return shared.OptimiserRequest{}, fmt.Errorf("failed to unmarshal optimiser request document: %w", err)
	}
	return req, nil
}

// Bundle is every document a simulation or optimiser run needs.
type Bundle struct {
	Flow     shared.Flow
	Calendar shared.CalendarDefinition
	Demand   shared.Demand
}

// LoadAll parses the three mandatory documents in one call, the shape
// the CLI front-end consumes directly.
func LoadAll(flowYAML, calendarYAML, demandYAML []byte) (Bundle, error) {
	f, err := LoadFlow(flowYAML)
	if err != nil {
		return Bundle{}, err
	}
	cal, err := LoadCalendar(calendarYAML)
	if err != nil {
		return Bundle{}, err
	}
	demand, err := LoadDemand(demandYAML)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Flow: f, Calendar: cal, Demand: demand}, nil
}
