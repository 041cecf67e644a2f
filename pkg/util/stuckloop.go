package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ToolCallSignature hashes a tool name and its arguments into a
// comparable signature for stuck-loop detection.
func ToolCallSignature(toolName string, args any) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%v", toolName, args)))
	return toolName + ":" + hex.EncodeToString(h[:8])
}

// StuckLoopDetector maintains a ring buffer of recent tool-call
// signatures and a consecutive-read-only-call counter, signalling "stuck"
// on a doom loop (last K signatures identical) or on too many consecutive
// read-only calls.
type StuckLoopDetector struct {
	ringSize       int
	ring           []string
	readOnlyLimit  int
	readOnlyStreak int
}

// NewStuckLoopDetector creates a detector with the given doom-loop window
// size and read-only-streak threshold.
func NewStuckLoopDetector(ringSize, readOnlyLimit int) *StuckLoopDetector {
	if ringSize < 1 {
		ringSize = 1
	}
	return &StuckLoopDetector{ringSize: ringSize, readOnlyLimit: readOnlyLimit}
}

// Record appends a tool-call signature and whether the call was
// read-only, and reports whether the detector now considers the
// caller stuck.
func (d *StuckLoopDetector) Record(signature string, readOnly bool) (stuck bool, reason string) {
	d.ring = append(d.ring, signature)
	if len(d.ring) > d.ringSize {
		d.ring = d.ring[len(d.ring)-d.ringSize:]
	}

	if readOnly {
		d.readOnlyStreak++
	} else {
		d.readOnlyStreak = 0
	}

	if d.isDoomLoop() {
		return true, "doom_loop"
	}
	if d.readOnlyLimit > 0 && d.readOnlyStreak > d.readOnlyLimit {
		return true, "read_only_streak"
	}
	return false, ""
}

func (d *StuckLoopDetector) isDoomLoop() bool {
	if len(d.ring) < d.ringSize {
		return false
	}
	first := d.ring[0]
	for _, sig := range d.ring[1:] {
		if sig != first {
			return false
		}
	}
	return true
}

// Reset clears all detector state.
func (d *StuckLoopDetector) Reset() {
	d.ring = nil
	d.readOnlyStreak = 0
}
