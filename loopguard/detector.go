// Package loopguard notices when an agent keeps repeating the same tool
// calls and steers it toward a final answer.
package loopguard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Status is the outcome of a loop check.
type Status int

const (
	StatusOK Status = iota
	// StatusWarn means a repetition is forming.
	StatusWarn
	// StatusStop means the agent is stuck and should stop calling tools.
	StatusStop
)

func (s Status) String() string {
	switch s {
	case StatusWarn:
		return "warn"
	case StatusStop:
		return "stop"
	}
	return "ok"
}

// Limits holds the detection thresholds. Zero values use the defaults.
type Limits struct {
	// Consecutive identical calls before stopping (default 3; warns one earlier).
	Consecutive int
	// Identical errors from the same call before stopping (default 2).
	Errors int
	// Complete A/B cycles before stopping (default 3).
	Alternating int
	// Identical successful results from the same call before stopping (default 3).
	NoProgress int
}

func (l Limits) withDefaults() Limits {
	if l.Consecutive <= 0 {
		l.Consecutive = 3
	}
	if l.Errors <= 0 {
		l.Errors = 2
	}
	if l.Alternating <= 0 {
		l.Alternating = 3
	}
	if l.NoProgress <= 0 {
		l.NoProgress = 3
	}
	return l
}

type call struct {
	tool   string
	args   string
	result string
	failed bool
}

func (c call) sameInput(o call) bool { return c.tool == o.tool && c.args == o.args }

// Detector keeps the tool call history of one run. It is not safe for
// concurrent use.
type Detector struct {
	limits  Limits
	history []call
}

// NewDetector creates a detector.
func NewDetector(l Limits) *Detector {
	return &Detector{limits: l.withDefaults()}
}

// Record adds one executed tool call.
func (d *Detector) Record(tool string, args map[string]any, output string, failed bool) {
	raw, _ := json.Marshal(args)
	d.history = append(d.history, call{tool: tool, args: digest(string(raw)), result: digest(output), failed: failed})
}

// Reset forgets the history.
func (d *Detector) Reset() { d.history = d.history[:0] }

// Check evaluates the history. Stops take precedence over warnings.
func (d *Detector) Check() (Status, string) {
	if len(d.history) == 0 {
		return StatusOK, ""
	}
	for _, check := range []func() (Status, string){d.repeatedErrors, d.noProgress, d.consecutive, d.alternating} {
		if s, msg := check(); s != StatusOK {
			return s, msg
		}
	}
	return StatusOK, ""
}

func (d *Detector) last() call { return d.history[len(d.history)-1] }

func (d *Detector) repeatedErrors() (Status, string) {
	last := d.last()
	if !last.failed {
		return StatusOK, ""
	}
	n := 0
	for _, c := range d.history {
		if c.failed && c.sameInput(last) && c.result == last.result {
			n++
		}
	}
	if n >= d.limits.Errors {
		return StatusStop, fmt.Sprintf("%s failed with the same error %d times", last.tool, n)
	}
	return StatusOK, ""
}

func (d *Detector) noProgress() (Status, string) {
	last := d.last()
	if last.failed {
		return StatusOK, ""
	}
	n := 0
	for _, c := range d.history {
		if !c.failed && c.sameInput(last) && c.result == last.result {
			n++
		}
	}
	if n >= d.limits.NoProgress {
		return StatusStop, fmt.Sprintf("%s returned the same result %d times", last.tool, n)
	}
	return StatusOK, ""
}

func (d *Detector) consecutive() (Status, string) {
	last := d.last()
	n := 1
	for i := len(d.history) - 2; i >= 0 && d.history[i].sameInput(last); i-- {
		n++
	}
	switch {
	case n >= d.limits.Consecutive:
		return StatusStop, fmt.Sprintf("%s was called with the same arguments %d times in a row", last.tool, n)
	case n >= 2 && n >= d.limits.Consecutive-1:
		return StatusWarn, fmt.Sprintf("%s was called with the same arguments %d times in a row", last.tool, n)
	}
	return StatusOK, ""
}

func (d *Detector) alternating() (Status, string) {
	h := d.history
	if len(h) < 4 {
		return StatusOK, ""
	}
	b, a := h[len(h)-1], h[len(h)-2]
	if a.sameInput(b) {
		return StatusOK, ""
	}
	cycles := 0
	for i := len(h) - 1; i >= 1 && h[i].sameInput(b) && h[i-1].sameInput(a); i -= 2 {
		cycles++
	}
	if cycles >= d.limits.Alternating {
		return StatusStop, fmt.Sprintf("%s and %s alternated %d times", a.tool, b.tool, cycles)
	}
	return StatusOK, ""
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
