// Package optimiser searches a worker-count vector that meets a
// deadline, invoking the scheduler package's Simulator as its
// feasibility oracle.
package optimiser

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prodflow/calendar"
	"prodflow/flow"
	"prodflow/scheduler"
	"prodflow/shared"
)

// ProgressSink receives a ProgressRecord between candidate evaluations;
// the caller decides whether to forward it to a UI. A nil sink is valid.
type ProgressSink func(shared.ProgressRecord)

// Optimiser holds the fixed inputs of a deadline search: the Flow, its
// Calendar, and the Demand to simulate against every candidate vector.
type Optimiser struct {
	classified  *flow.Classified
	cal         *calendar.Calendar
	demand      shared.Demand
	logger      *zap.Logger
	cache       *lru.Cache
	evaluations int64
}

// New validates flowDef once and returns an Optimiser ready to Search
// any number of deadlines against the same Flow/Calendar/Demand.
func New(flowDef shared.Flow, calDef shared.CalendarDefinition, demand shared.Demand, logger *zap.Logger) (*Optimiser, error) {
	classified, issues, err := flow.Validate(flowDef)
	if err != nil {
		return nil, err
	}
	cal, err := calendar.New(calDef)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New(256)
	if err != nil {
		return nil, fmt.Errorf("building candidate cache: %w", err)
	}
	for _, issue := range issues {
		logger.Warn("flow validation warning", zap.String("message", issue.Message))
	}
	return &Optimiser{classified: classified, cal: cal, demand: demand, logger: logger, cache: cache}, nil
}

type candidateResult struct {
	makespan time.Duration
	feasible bool
}

// vectorKey produces a deterministic cache key for a worker-count vector.
func vectorKey(v map[string]int) string {
	roles := make([]string, 0, len(v))
	for r := range v {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	key := ""
	for _, r := range roles {
		key += fmt.Sprintf("%s=%d;", r, v[r])
	}
	return key
}

// evaluate runs one simulation for vector v (cached by vector), reporting
// whether its makespan, measured from startTime, meets deadline.
func (o *Optimiser) evaluate(v map[string]int, startTime, deadline time.Time) candidateResult {
	key := vectorKey(v)
	if cached, ok := o.cache.Get(key); ok {
		return cached.(candidateResult)
	}

	pools := make(map[string][]string, len(v))
	for role, count := range v {
		members := make([]string, count)
		for i := 0; i < count; i++ {
			members[i] = fmt.Sprintf("%s-%d", role, i+1)
		}
		pools[role] = members
	}

	sim := scheduler.NewSimulator(o.classified, o.cal, pools, o.logger)
	result, err := sim.Run(o.demand, startTime)
	atomic.AddInt64(&o.evaluations, 1)

	var res candidateResult
	if err != nil {
		res = candidateResult{feasible: false}
	} else {
		res = candidateResult{makespan: result.Makespan(), feasible: !result.MakespanEnd.After(deadline)}
	}
	o.cache.Add(key, res)
	return res
}

// Search finds the minimal-cost worker-count vector (in the product-space
// sense: smallest per role, found by binary search / coordinate descent)
// that completes the Demand by deadline, starting the simulated run at
// startTime. abort is polled between candidates; if it reports true the
// best feasible vector found so far is returned with Status
// OptimiserCancelled, together with a *shared.CancelledError carrying
// the same vector.
func (o *Optimiser) Search(startTime time.Time, req shared.OptimiserRequest, abort func() bool, sink ProgressSink) (shared.OptimiserResult, error) {
	roles := make([]string, 0, len(req.Search))
	for r := range req.Search {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	if len(roles) == 0 {
		res := o.evaluate(nil, startTime, req.Deadline)
		if !res.feasible {
			return shared.OptimiserResult{}, &shared.InfeasibleError{Deadline: req.Deadline.String()}
		}
		return shared.OptimiserResult{Status: shared.OptimiserFeasible, Vector: map[string]int{}, Makespan: res.makespan, CandidatesEvaluated: int(o.evaluations)}, nil
	}

	maxVector := make(map[string]int, len(roles))
	for _, r := range roles {
		maxVector[r] = req.Search[r].Max
	}
	if !o.evaluate(maxVector, startTime, req.Deadline).feasible {
		return shared.OptimiserResult{}, &shared.InfeasibleError{Deadline: req.Deadline.String()}
	}

	vector := make(map[string]int, len(roles))
	for _, r := range roles {
		vector[r] = req.Search[r].Min
		if req.InitialGuess != nil {
			if g, ok := req.InitialGuess[r]; ok {
				vector[r] = g
			}
		}
	}

	if len(roles) == 1 {
		role := roles[0]
		best := o.binarySearchRole(role, req.Search[role], fixedOthers(vector, role), startTime, req.Deadline, abort, sink)
		vector[role] = best
	} else {
		o.parallelBracket(roles, req, vector, startTime, abort, sink)
		o.coordinateDescentRefine(roles, req, vector, startTime, abort, sink)
	}

	final := o.evaluate(vector, startTime, req.Deadline)
	if !final.feasible {
		vector = maxVector
		final = o.evaluate(vector, startTime, req.Deadline)
	}

	status := shared.OptimiserFeasible
	var cancelErr error
	if abort != nil && abort() {
		status = shared.OptimiserCancelled
		cancelErr = &shared.CancelledError{BestFeasibleVector: vector}
	}

	return shared.OptimiserResult{
		Status:              status,
		Vector:              vector,
		Makespan:            final.makespan,
		CandidatesEvaluated: int(o.evaluations),
	}, cancelErr
}

func fixedOthers(vector map[string]int, exclude string) map[string]int {
	others := make(map[string]int, len(vector)-1)
	for k, v := range vector {
		if k != exclude {
			others[k] = v
		}
	}
	return others
}

// binarySearchRole finds the smallest n in [rng.Min, rng.Max] such that
// vector{role: n} ∪ others is feasible, exploiting monotonicity: once a
// candidate is infeasible, every smaller candidate is assumed infeasible
// too, so the search narrows without re-testing them.
func (o *Optimiser) binarySearchRole(role string, rng shared.RoleRange, others map[string]int, startTime time.Time, deadline time.Time, abort func() bool, sink ProgressSink) int {
	lo, hi := rng.Min, rng.Max
	for lo < hi {
		if abort != nil && abort() {
			return hi
		}
		mid := (lo + hi) / 2
		v := cloneWith(others, role, mid)
		res := o.evaluate(v, startTime, deadline)
		o.reportProgress(sink, res)
		if res.feasible {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func cloneWith(base map[string]int, role string, value int) map[string]int {
	out := make(map[string]int, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[role] = value
	return out
}

// parallelBracket finds, for every role concurrently, the smallest value
// feasible when every OTHER role is held at its maximum — a safe,
// role-independent upper bound that makes the per-role searches
// embarrassingly parallel. The result seeds the sequential refinement pass.
func (o *Optimiser) parallelBracket(roles []string, req shared.OptimiserRequest, vector map[string]int, startTime time.Time, abort func() bool, sink ProgressSink) {
	maxOthers := make(map[string]int, len(roles))
	for _, r := range roles {
		maxOthers[r] = req.Search[r].Max
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, role := range roles {
		role := role
		g.Go(func() error {
			others := fixedOthers(maxOthers, role)
			best := o.binarySearchRole(role, req.Search[role], others, startTime, req.Deadline, abort, sink)
			mu.Lock()
			vector[role] = best
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// coordinateDescentRefine sequentially re-tunes each role against the
// others' CURRENT (already-bracketed) values, since those may be tighter
// than the all-Max bracket used in parallelBracket. Two passes are enough
// in practice to stabilise the vector for the worker-count ranges this
// search space is intended for; it is not a global-optimality guarantee
// for non-separable cost surfaces.
func (o *Optimiser) coordinateDescentRefine(roles []string, req shared.OptimiserRequest, vector map[string]int, startTime time.Time, abort func() bool, sink ProgressSink) {
	for pass := 0; pass < 2; pass++ {
		changed := false
		for _, role := range roles {
			if abort != nil && abort() {
				return
			}
			others := fixedOthers(vector, role)
			best := o.binarySearchRole(role, req.Search[role], others, startTime, req.Deadline, abort, sink)
			if best != vector[role] {
				vector[role] = best
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (o *Optimiser) reportProgress(sink ProgressSink, res candidateResult) {
	if sink == nil {
		return
	}
	sink(shared.ProgressRecord{
		CandidatesEvaluated: int(atomic.LoadInt64(&o.evaluations)),
		BestMakespan:        res.makespan,
	})
}
