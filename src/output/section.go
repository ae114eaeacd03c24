package output

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sofmeright/freightqueue/src/build"
)

const frameWidth = 61 // columns between │ and the end of a row

// Section is a framed block of rows under a titled rule.
type Section struct {
	w     io.Writer
	color bool
}

// NewSection opens a section titled name. A non-zero elapsed is printed at
// the right end of the title rule.
func NewSection(w io.Writer, name string, elapsed time.Duration, color bool) *Section {
	var right string
	if elapsed > 0 {
		right = formatElapsed(elapsed)
	}
	return openSection(w, name, right, color)
}

// NewJobSection opens a section for one job. The title rule carries the
// repository on the left and the job's state on the right: its status and
// run time, or its place in line while it waits.
func NewJobSection(w io.Writer, snap build.Snapshot, position int, color bool) *Section {
	return openSection(w, snap.Repo, jobState(snap, position), color)
}

func jobState(snap build.Snapshot, position int) string {
	switch {
	case snap.Status == build.StatusQueued && position > 0:
		return fmt.Sprintf("queued #%d", position)
	case snap.Duration() > 0:
		return string(snap.Status) + " " + formatElapsed(snap.Duration())
	default:
		return string(snap.Status)
	}
}

func openSection(w io.Writer, title, right string, color bool) *Section {
	left := "── " + title + " "
	tail := "──"
	if right != "" {
		tail = " " + right + " ──"
	}
	fill := max(frameWidth+4-utf8.RuneCountInString(left)-utf8.RuneCountInString(tail), 1)
	rule := left + strings.Repeat("─", fill) + tail
	if color {
		rule = colorRule + rule + colorReset
	}
	fmt.Fprintf(w, "\n    %s\n", rule)
	return &Section{w: w, color: color}
}

// Row writes one framed line.
func (s *Section) Row(format string, args ...any) {
	fmt.Fprintf(s.w, "    │ %s\n", fmt.Sprintf(format, args...))
}

// Separator divides the section.
func (s *Section) Separator() {
	fmt.Fprintf(s.w, "    ├%s\n", strings.Repeat("─", frameWidth))
}

// Close writes the bottom rule.
func (s *Section) Close() {
	fmt.Fprintf(s.w, "    └%s\n", strings.Repeat("─", frameWidth))
}

// JobRows writes a job's status line, the last build step it finished while
// still running and the references it was tagged with.
func (s *Section) JobRows(snap build.Snapshot) {
	RowStatus(s, string(snap.Status), shortID(snap.ID), string(snap.Status), s.color)
	if step := lastStep(snap.BuildOutput); step != "" && !snap.Status.Terminal() {
		s.Row("last step %s", step)
	}
	for _, ref := range snap.Tags {
		s.Row("  %s", ref)
	}
}

// lastStep names the newest finished step in a transcript, e.g.
// "builder 2/3 RUN".
func lastStep(events []build.ProgressEvent) string {
	layers := build.ParseLayers(events)
	if len(layers) == 0 {
		return ""
	}
	l := layers[len(layers)-1]
	return strings.TrimSpace(strings.Join([]string{l.Stage, l.StageStep, l.Instruction}, " "))
}

// QueueSection lists submitted jobs: running ones first, then waiting ones
// by their position in the queue. queued holds the waiting job IDs in
// admission order.
func QueueSection(w io.Writer, snaps []build.Snapshot, queued []string, color bool) {
	position := make(map[string]int, len(queued))
	for i, id := range queued {
		position[id] = i + 1
	}

	sec := NewSection(w, "Queue", 0, color)
	defer sec.Close()

	var waiting []build.Snapshot
	for _, snap := range snaps {
		if position[snap.ID] > 0 {
			waiting = append(waiting, snap)
			continue
		}
		sec.Row("%-4s %-40s %s %s", "▸", truncate(snap.Repo, 40), snap.Status, StatusIcon(string(snap.Status), color))
	}
	for _, snap := range waiting {
		p := position[snap.ID]
		sec.Row("%-4s %-40s %s", fmt.Sprintf("#%d", p), truncate(snap.Repo, 40), Dimmed(jobState(snap, p), color))
	}
	if len(waiting) > 0 {
		sec.Separator()
		sec.Row("%d building, %d waiting for a slot", len(snaps)-len(waiting), len(waiting))
	}
}

// StatusIcon returns the icon for a job status, colored when color is set.
func StatusIcon(status string, color bool) string {
	icon, code := "⊘", colorYellow
	switch build.Status(status) {
	case build.StatusSuccess:
		icon, code = "✓", colorGreen
	case build.StatusFailure:
		icon, code = "✗", colorRed
	case build.StatusBuilding:
		icon, code = "…", colorCyan
	case build.StatusQueued:
		icon, code = "○", colorGray
	}
	if !color {
		return icon
	}
	return code + icon + colorReset
}

// Dimmed grays text out when color is set.
func Dimmed(text string, color bool) string {
	if !color {
		return text
	}
	return colorGray + text + colorReset
}

// KV is one entry of a context block.
type KV struct {
	Key   string
	Value string
}

// ContextBlock prints run context two entries to a line, skipping entries
// without a value.
func ContextBlock(w io.Writer, kv []KV) {
	var set []KV
	for _, e := range kv {
		if e.Value != "" {
			set = append(set, e)
		}
	}
	if len(set) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i := 0; i < len(set); i += 2 {
		line := fmt.Sprintf("    %-12s%-14s", set[i].Key, set[i].Value)
		if i+1 < len(set) {
			line += fmt.Sprintf("%-11s%s", set[i+1].Key, set[i+1].Value)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// formatElapsed renders a run time for titles and totals.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d / time.Minute)
	return fmt.Sprintf("%dm%.1fs", mins, (d - time.Duration(mins)*time.Minute).Seconds())
}

// summaryRow writes one job of the summary: repository, status icon and
// either its tags or its error.
func summaryRow(w io.Writer, snap build.Snapshot, color bool) {
	detail := strings.Join(snap.Tags, ", ")
	if snap.Status != build.StatusSuccess {
		detail = snap.Error
	}
	fmt.Fprintf(w, "    │ %-12s %s  %s\n", truncate(snap.Repo, 12), StatusIcon(string(snap.Status), color), truncate(detail, 44))
}

func summaryTotal(w io.Writer, elapsed time.Duration, status build.Status, color bool) {
	fmt.Fprintf(w, "    │ %-12s%40s   %s\n", "total", formatElapsed(elapsed), StatusIcon(string(status), color))
}
