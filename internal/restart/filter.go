// Package restart replays an engine command script when a run resumes from
// a checkpoint. Setup commands that precede the restart marker are dropped
// because the checkpoint already carries their effect.
package restart

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/cvgrid/internal/monitoring"
)

var logf = monitoring.Component("restart")

// Marker is the substring that opens the section replayed on resume.
const Marker = "#RESTART"

// State is the filter position within a script.
type State int

const (
	// Normal passes lines through.
	Normal State = iota
	// SkippingRestartSection drops lines until the first marker.
	SkippingRestartSection
)

func (s State) String() string {
	switch s {
	case Normal:
		return "Normal"
	case SkippingRestartSection:
		return "SkippingRestartSection"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Filter is a two-state line filter. Construct it with NewFilter once the
// whole script is known.
type Filter struct {
	state   State
	skipped int
}

// NewFilter starts in SkippingRestartSection only when resuming and the
// script contains a marker; otherwise every line passes.
func NewFilter(resume bool, lines []string) *Filter {
	f := &Filter{state: Normal}
	if resume && containsMarker(lines) {
		f.state = SkippingRestartSection
	}
	return f
}

// State returns the current state.
func (f *Filter) State() State { return f.state }

// Skipped returns how many lines have been dropped so far.
func (f *Filter) Skipped() int { return f.skipped }

// Accept advances the filter by one line and reports whether the line
// should be executed. A marker line is always executed.
func (f *Filter) Accept(line string) bool {
	if strings.Contains(line, Marker) {
		f.state = Normal
	}
	if f.state == SkippingRestartSection {
		f.skipped++
		return false
	}
	return true
}

func containsMarker(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(l, Marker) {
			return true
		}
	}
	return false
}

// Lines returns the lines of script to execute.
func Lines(lines []string, resume bool) []string {
	f := NewFilter(resume, lines)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if f.Accept(l) {
			out = append(out, l)
		}
	}
	return out
}

// Replay reads a script from r and calls exec for every line that should
// run. It stops at the first exec error.
func Replay(r io.Reader, resume bool, exec func(line string) error) error {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	f := NewFilter(resume, lines)
	for i, l := range lines {
		if !f.Accept(l) {
			continue
		}
		if err := exec(l); err != nil {
			return fmt.Errorf("script line %d: %w", i+1, err)
		}
	}
	if f.Skipped() > 0 {
		logf("skipped %d setup lines before %s", f.Skipped(), Marker)
	}
	return nil
}
