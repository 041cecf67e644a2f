package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kkelly-oss/kkcode/pkg/state"
)

// StatusCmd shows a session's current status, read straight from the
// local session state store (the same file the control-plane HTTP
// surface in pkg/control reads from, for deployments that run one).
type StatusCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}
	sess, err := store.Get(c.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session %q not found", c.SessionID)
	}
	return printSessionJSON(sess)
}

// StopCmd requests a running session to stop at its next checkpoint
// boundary (spec §4.7's checkControlFlags), without blocking for it to
// actually stop.
type StopCmd struct {
	SessionID string `arg:"" help:"Session id."`
}

func (c *StopCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}
	sess, err := store.Stop(c.SessionID)
	if err != nil {
		return err
	}
	return printSessionJSON(sess)
}

// RetryStageCmd rewinds a session to the start of a given stage and
// clears taskProgress for that stage and every later one (spec §4.7's
// retryStageId handling).
type RetryStageCmd struct {
	SessionID string `arg:"" help:"Session id."`
	StageID   string `arg:"" help:"Stage id to retry."`
}

func (c *RetryStageCmd) Run(cli *CLI) error {
	store, err := openStore(cli)
	if err != nil {
		return err
	}
	stageID := c.StageID
	sess, err := store.Update(c.SessionID, state.Patch{RetryStageID: &stageID})
	if err != nil {
		return err
	}
	return printSessionJSON(sess)
}

func printSessionJSON(sess *state.SessionState) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}
