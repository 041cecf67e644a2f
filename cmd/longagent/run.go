package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kkelly-oss/kkcode/pkg/checkpoint"
	"github.com/kkelly-oss/kkcode/pkg/config"
	"github.com/kkelly-oss/kkcode/pkg/control"
	"github.com/kkelly-oss/kkcode/pkg/driver"
	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/observability"
	"github.com/kkelly-oss/kkcode/pkg/scheduler"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/worker"
)

// collabFlags are the subprocess collaborator flags shared by run and
// resume: every external seam spec.md §1 calls out of scope is wired to
// a configurable command line here.
type collabFlags struct {
	PlannerCmd     string        `name:"planner-cmd" help:"Command that turns an objective into a raw stage plan (reads a JSON request on stdin, writes raw plan JSON on stdout)." required:""`
	WorkerCmd      string        `name:"worker-cmd" help:"Command that runs one task's sub-session (reads a task descriptor JSON on stdin, writes a worker.Result JSON on stdout)." required:""`
	IntakeCmd      string        `name:"intake-cmd" help:"Optional command that runs the intake-clarification dialogue."`
	ScaffoldCmd    string        `name:"scaffold-cmd" help:"Optional command that runs the one-shot scaffold sub-session."`
	ConfirmCmd     string        `name:"confirm-cmd" help:"Optional command asked to confirm completion when no task reply carries the completion sentinel."`
	RemediationCmd string        `name:"remediation-cmd" help:"Optional command that runs one remediation agent turn between failed gate attempts, given the list of failed gate names."`
	BuildCmd       string        `name:"build-cmd" help:"Build gate command (empty = not_applicable)."`
	TestCmd        string        `name:"test-cmd" help:"Test gate command (empty = not_applicable)."`
	CollabTimeout  time.Duration `name:"collab-timeout" help:"Timeout for each external-collaborator subprocess call." default:"10m"`
	ControlAddr    string        `name:"control-addr" help:"If set, run the control-plane HTTP server (status/stop/retry-stage) on this address alongside the session."`
}

// RunCmd starts a new session for an objective.
type RunCmd struct {
	collabFlags
	Objective string `arg:"" help:"The free-form objective to implement."`
	SessionID string `help:"Session id (default: a fresh random id)."`
}

func (c *RunCmd) Run(cli *CLI) error {
	sessionID := c.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return runSession(cli, c.collabFlags, sessionID, c.Objective)
}

// ResumeCmd resumes an existing session from its persisted session state
// (stage index, task progress and frozen plan in the session store). The
// objective is recovered from the session's frozen stage plan
// (plan.StagePlan.Objective), per spec §6's data model — it is not
// re-entered on the command line.
type ResumeCmd struct {
	collabFlags
	SessionID string `arg:"" help:"Session id to resume."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}
	session, err := store.Get(c.SessionID)
	if err != nil {
		return err
	}
	if session == nil || session.StagePlan == nil {
		return fmt.Errorf("session %q has no frozen plan yet; use \"run\" to start it", c.SessionID)
	}
	return runSession(cli, c.collabFlags, c.SessionID, session.StagePlan.Objective)
}

func openStore(cli *CLI) (state.SessionStore, error) {
	cfg, _, err := loadConfig(context.Background(), cli.Config)
	if err != nil {
		return nil, err
	}
	return openSessionStore(cfg, cli.StateDir)
}

// openSessionStore picks the session backend named by cfg.Database:
// a SQL-backed store when a database config is present (shared across
// hosts through DBPool's connection cache), otherwise the plain
// lock-guarded JSON file under stateDir.
func openSessionStore(cfg *config.Config, stateDir string) (state.SessionStore, error) {
	if cfg.Database != nil {
		pool := config.NewDBPool()
		db, err := pool.Get(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database pool: %w", err)
		}
		return state.NewSQLStore(db, cfg.Database.Dialect())
	}
	return state.New(filepath.Join(stateDir, "sessions.json"), time.Duration(cfg.LockTimeoutMs)*time.Millisecond)
}

func runSession(cli *CLI, flags collabFlags, sessionID, objective string) error {
	ctx, cancel := withSignals()
	defer cancel()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if err := os.MkdirAll(cli.StateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store, err := openSessionStore(cfg, cli.StateDir)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	checkpointDir := filepath.Join(cli.StateDir, "checkpoints")
	checkpoints := checkpoint.New(checkpointDir)

	bus := events.NewBus(nil)

	obs, err := observability.NewManager(ctx, &cfg.Observability)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()
	if obs.MetricsEnabled() {
		metricsSrv := startMetricsServer(obs)
		if metricsSrv != nil {
			defer func() { _ = metricsSrv.Close() }()
		}
	}
	checkpoints.Metrics = obs.Metrics()
	checkpoints.Tracer = obs.Tracer()

	if flags.ControlAddr != "" {
		ctrl := control.New(flags.ControlAddr, store)
		ctrl.Metrics = obs.Metrics()
		ctrl.Tracer = obs.Tracer()
		go func() {
			if err := ctrl.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "control server: %v\n", err)
			}
		}()
	}

	collab := ExecCollaborators{
		WorkerCmd:      flags.WorkerCmd,
		PlannerCmd:     flags.PlannerCmd,
		ScaffoldCmd:    flags.ScaffoldCmd,
		IntakeCmd:      flags.IntakeCmd,
		ConfirmCmd:     flags.ConfirmCmd,
		RemediationCmd: flags.RemediationCmd,
		Timeout:        flags.CollabTimeout,
	}
	pool := worker.NewInProcessPool(collab.Worker)
	sched := scheduler.New(pool, bus)
	sched.Metrics = obs.Metrics()
	sched.Tracer = obs.Tracer()

	driverCfg := cfg.ToDriverConfig()
	gates := newGateRunner(bus, gateCommands{BuildCmd: flags.BuildCmd, TestCmd: flags.TestCmd}, store, checkpointDir, sessionID, driverCfg.BudgetLimitUsd, obs)

	var git driver.GitGate
	if driverCfg.GitEnabled {
		git = &driver.ExecGit{Dir: "."}
	}

	d := &driver.Driver{
		States:      store,
		Checkpoints: checkpoints,
		Scheduler:   sched,
		Gates:       gates,
		Bus:         bus,
		Config:      driverCfg,
		Collab:      collab.Collaborators(git),
	}

	result, err := d.Run(ctx, sessionID, objective)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
