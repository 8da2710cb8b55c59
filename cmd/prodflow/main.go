package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	prodcalendar "prodflow/calendar"
	"prodflow/config"
	"prodflow/fixtures"
	"prodflow/flow"
	"prodflow/optimiser"
	"prodflow/scheduler"
	"prodflow/shared"
)

func main() {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	flowPath := flag.String("flow", "", "path to a flow YAML document")
	calendarPath := flag.String("calendar", "", "path to a calendar YAML document")
	demandPath := flag.String("demand", "", "path to a demand YAML document")
	optimiseFlag := flag.Bool("optimise", false, "search for the minimal worker-count vector meeting -deadline instead of simulating once")
	deadline := flag.Duration("deadline", 0, "deadline, as a duration from the run's start, for -optimise")
	role := flag.String("role", "default", "worker-pool role name the -optimise search tunes")
	roleMin := flag.Int("role-min", 1, "minimum worker count for -role, used with -optimise")
	roleMax := flag.Int("role-max", 4, "maximum worker count for -role, used with -optimise")
	demo := flag.Bool("demo", false, "run the bundled linear-3-task fixture instead of reading -flow/-calendar/-demand")
	flag.Parse()

	var bundle config.Bundle
	if *demo {
		bundle = config.Bundle{Flow: fixtures.LinearThreeTaskFlow(), Calendar: fixtures.StandardCalendar(), Demand: fixtures.SingleUnitDemand()}
	} else {
		bundle, err = loadBundle(*flowPath, *calendarPath, *demandPath)
		if err != nil {
			logger.Fatal("failed to load configuration", zap.Error(err))
		}
	}

	classified, issues, err := flow.Validate(bundle.Flow)
	if err != nil {
		logger.Fatal("flow is invalid", zap.Error(err))
	}
	for _, issue := range issues {
		logger.Warn("flow validation warning", zap.String("message", issue.Message))
	}

	startTime := time.Now().Truncate(time.Minute)

	if *optimiseFlag {
		runOptimise(logger, bundle, *deadline, *role, *roleMin, *roleMax, startTime)
		return
	}

	cal, err := prodcalendar.New(bundle.Calendar)
	if err != nil {
		logger.Fatal("calendar is misconfigured", zap.Error(err))
	}

	sim := scheduler.NewSimulator(classified, cal, nil, logger)
	result, err := sim.Run(bundle.Demand, startTime)
	if err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}

	report(logger, result)
}

func loadBundle(flowPath, calendarPath, demandPath string) (config.Bundle, error) {
	if flowPath == "" || calendarPath == "" || demandPath == "" {
		return config.Bundle{}, fmt.Errorf("must provide -flow, -calendar, and -demand (or -demo)")
	}
	flowYAML, err := os.ReadFile(flowPath)
	if err != nil {
		return config.Bundle{}, err
	}
	calendarYAML, err := os.ReadFile(calendarPath)
	if err != nil {
		return config.Bundle{}, err
	}
	demandYAML, err := os.ReadFile(demandPath)
	if err != nil {
		return config.Bundle{}, err
	}
	return config.LoadAll(flowYAML, calendarYAML, demandYAML)
}

func runOptimise(logger *zap.Logger, bundle config.Bundle, deadline time.Duration, role string, roleMin, roleMax int, startTime time.Time) {
	if deadline <= 0 {
		logger.Fatal("-optimise requires -deadline > 0")
	}
	opt, err := optimiser.New(bundle.Flow, bundle.Calendar, bundle.Demand, logger)
	if err != nil {
		logger.Fatal("failed to construct optimiser", zap.Error(err))
	}
	req := shared.OptimiserRequest{
		Deadline: startTime.Add(deadline),
		Search:   map[string]shared.RoleRange{role: {Min: roleMin, Max: roleMax}},
	}
	result, err := opt.Search(startTime, req, nil, func(p shared.ProgressRecord) {
		logger.Info("optimiser candidate evaluated",
			zap.Int("candidatesEvaluated", p.CandidatesEvaluated),
			zap.Duration("bestMakespan", p.BestMakespan))
	})
	if err != nil {
		logger.Fatal("optimiser search failed", zap.Error(err))
	}
	logger.Info("optimiser result",
		zap.String("status", string(result.Status)),
		zap.Any("vector", result.Vector),
		zap.Duration("makespan", result.Makespan),
		zap.Int("candidatesEvaluated", result.CandidatesEvaluated))
}

func report(logger *zap.Logger, result shared.SimulationResult) {
	logger.Info("simulation complete",
		zap.Time("makespanStart", result.MakespanStart),
		zap.Time("makespanEnd", result.MakespanEnd),
		zap.Duration("makespan", result.Makespan()),
		zap.String("bottleneck", result.Bottleneck),
		zap.Int("instanceCount", len(result.Instances)))

	for _, inst := range result.Instances {
		logger.Info("task-instance",
			zap.String("task", inst.TaskDefID),
			zap.Int("unit", inst.UnitIndex),
			zap.Int("iteration", inst.IterationIndex),
			zap.Time("start", inst.Start),
			zap.Time("end", inst.End),
			zap.Strings("workers", inst.WorkerIDs))
	}
}
