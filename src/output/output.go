// Package output renders human-facing build results for the CLI: framed
// sections, layer tables and CI reports.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sofmeright/freightqueue/src/build"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorRule   = "\033[2;36m"
)

// outputTailLines is how much of a build transcript CI logs and reports keep.
const outputTailLines = 40

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

// BuildSection renders one finished job: its tags, the parsed build
// layers and, for a failure, the error. On GitLab CI the tail of the raw
// build output follows in a collapsed log section.
func BuildSection(w io.Writer, snap build.Snapshot, color bool) {
	jobSection(w, snap, color)
	if IsGitLabCI() && len(snap.BuildOutput) > 0 {
		id := "fq_output_" + shortID(snap.ID)
		SectionStartCollapsed(w, id, "build output: "+snap.Repo)
		for _, line := range strings.Split(outputTail(snap.BuildOutput, outputTailLines), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
		SectionEnd(w, id)
	}
}

func jobSection(w io.Writer, snap build.Snapshot, color bool) {
	sec := NewJobSection(w, snap, 0, color)
	defer sec.Close()

	sec.JobRows(snap)

	if layers := build.ParseLayers(snap.BuildOutput); len(layers) > 0 {
		sec.Separator()
		LayerTable(sec, layers, color)
	}

	if snap.Error != "" {
		sec.Separator()
		for _, line := range strings.Split(strings.TrimRight(snap.Error, "\n"), "\n") {
			if color {
				line = colorRed + line + colorReset
			}
			sec.Row("%s", line)
		}
	}
}

// LayerTable writes one row per build layer inside a section.
func LayerTable(sec *Section, layers []build.LayerEvent, color bool) {
	for _, l := range layers {
		step := l.StageStep
		if l.Stage != "" {
			step = l.Stage + " " + step
		}
		timing := build.FormatLayerTiming(l)
		if l.Cached {
			timing = Dimmed(timing, color)
		}
		sec.Row("%-14s %-6s %-34s %s", step, l.Instruction, truncate(build.FormatLayerInstruction(l), 34), timing)
	}
}

// Summary writes one line per job and a total line. It reports whether
// every job succeeded.
func Summary(w io.Writer, snaps []build.Snapshot, color bool) bool {
	sec := NewSection(w, "Summary", 0, color)
	total := build.StatusSuccess
	for _, snap := range snaps {
		if snap.Status != build.StatusSuccess {
			total = build.StatusFailure
		}
		summaryRow(w, snap, color)
	}
	sec.Separator()
	summaryTotal(w, totalElapsed(snaps), total, color)
	sec.Close()
	return total == build.StatusSuccess
}

// RowStatus writes a row with label, detail, and a status icon.
func RowStatus(sec *Section, label, detail, status string, color bool) {
	icon := StatusIcon(status, color)
	if detail != "" {
		sec.Row("%s · %s %s", label, detail, icon)
	} else {
		sec.Row("%s %s", label, icon)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// totalElapsed spans the earliest start to the latest finish.
func totalElapsed(snaps []build.Snapshot) time.Duration {
	var first, last time.Time
	for _, s := range snaps {
		if s.StartedAt != nil && (first.IsZero() || s.StartedAt.Before(first)) {
			first = *s.StartedAt
		}
		if s.FinishedAt != nil && s.FinishedAt.After(last) {
			last = *s.FinishedAt
		}
	}
	if first.IsZero() || last.Before(first) {
		return 0
	}
	return last.Sub(first)
}
