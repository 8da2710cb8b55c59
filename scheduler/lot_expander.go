package scheduler

import (
	"sort"
	"time"

	"prodflow/shared"
)

// UnitSpec is one simulation unit produced by expanding a Demand: a
// unit-index the simulator uses to instantiate per-unit task-instances,
// paired with the product it belongs to and an optional earliest-start
// offset from the run's nominal start.
type UnitSpec struct {
	UnitIndex           int
	ProductCode         string
	EarliestStartOffset time.Duration
}

// ExpandDemand multiplies a Flow by a Demand (flat unit count or a list
// of prioritised Lots), producing the ordered sequence of unit-indices
// the Simulator instantiates task-instances against. It does not
// duplicate Flow structure itself.
//
// Lower Lot.Priority runs sooner: this rewrite reads "order is by
// declared priority" as the common scheduling convention where
// priority 1 outranks priority 2. Lots sharing a priority keep their
// declared (lot-index) order.
func ExpandDemand(d shared.Demand) []UnitSpec {
	if len(d.Lots) == 0 {
		specs := make([]UnitSpec, d.Units)
		for i := 0; i < d.Units; i++ {
			specs[i] = UnitSpec{UnitIndex: i}
		}
		return specs
	}

	type ordered struct {
		lot   shared.Lot
		index int
	}
	lots := make([]ordered, len(d.Lots))
	for i, l := range d.Lots {
		lots[i] = ordered{lot: l, index: i}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].lot.Priority != lots[j].lot.Priority {
			return lots[i].lot.Priority < lots[j].lot.Priority
		}
		return lots[i].index < lots[j].index
	})

	var specs []UnitSpec
	unitIndex := 0
	for _, o := range lots {
		for i := 0; i < o.lot.UnitCount; i++ {
			specs = append(specs, UnitSpec{UnitIndex: unitIndex, ProductCode: o.lot.ProductCode})
			unitIndex++
		}
	}
	return specs
}
