// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command longagent drives one staged, multi-stage coding session to
// completion.
//
// Usage:
//
//	longagent run "implement the login flow" --planner-cmd ./planner.sh --worker-cmd ./worker.sh
//	longagent status <session-id>
//	longagent validate config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kkelly-oss/kkcode/pkg/config"
	"github.com/kkelly-oss/kkcode/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Run        RunCmd        `cmd:"" help:"Start a new session for an objective."`
	Resume     ResumeCmd     `cmd:"" help:"Resume an existing session from its persisted session state."`
	Status     StatusCmd     `cmd:"" help:"Show a session's current status."`
	Stop       StopCmd       `cmd:"" help:"Request a running session to stop at its next checkpoint."`
	RetryStage RetryStageCmd `cmd:"" name:"retry-stage" help:"Rewind a session to the start of a given stage and retry it."`
	Validate   ValidateCmd   `cmd:"" help:"Validate a configuration file."`
	Schema     SchemaCmd     `cmd:"" help:"Generate JSON Schema for a stage plan."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	StateDir  string `help:"Directory holding the session state file and checkpoints." default:".longagent"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("longagent version %s\n", version)
	return nil
}

// loadConfig reads and resolves the driver configuration, applying
// defaults when no --config file is given at all.
func loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("default config failed validation: %w", err)
		}
		return cfg, nil, nil
	}
	return config.LoadConfigFile(ctx, path)
}

// withSignals returns a context cancelled on SIGINT/SIGTERM, and the
// cancel func the caller must still defer.
func withSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("longagent"),
		kong.Description("longagent - staged, parallel coding-session orchestrator"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	out := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		out = file
	}
	logger.Init(level, out, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
