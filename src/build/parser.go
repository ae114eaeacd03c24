package build

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LayerEvent is a completed build layer recovered from a job's build output.
type LayerEvent struct {
	Stage       string        // "builder", "stage-1", "" for the classic builder
	StageStep   string        // "1/7", "2/7", etc.
	Instruction string        // "FROM", "COPY", "RUN", "WORKDIR", "ENV", "ARG", "EXPOSE", "ADD"
	Detail      string        // instruction arguments (truncated)
	Cached      bool          // true if layer was a cache hit
	Duration    time.Duration // layer execution time (0 for cached or untimed layers)
	Image       string        // for FROM: the base image name (without digest)
}

// layerState tracks one step while its lines are being read.
type layerState struct {
	LayerEvent
	done bool
}

// BuildKit --progress=plain output.
var (
	// #N [stage M/N] INSTRUCTION args...
	layerStartRe = regexp.MustCompile(`^#(\d+) \[([^\]]*?) ?(\d+/\d+)\] (\w+)\s*(.*)`)
	// #N [internal] load build definition from Dockerfile
	internalRe = regexp.MustCompile(`^#\d+ \[internal\]`)
	// #N CACHED
	cachedRe = regexp.MustCompile(`^#(\d+) CACHED`)
	// #N DONE 44.8s
	doneRe = regexp.MustCompile(`^#(\d+) DONE (\d+\.?\d*)s`)
)

// Classic builder output.
var (
	// Step 2/5 : RUN apk add curl
	classicStepRe = regexp.MustCompile(`^Step (\d+/\d+) : (\w+)\s*(.*)`)
	// ---> Using cache
	classicCacheRe = regexp.MustCompile(`^---> Using cache`)
	// ---> 05455a08881e
	classicLayerRe = regexp.MustCompile(`^---> [0-9a-f]{12}`)
)

// FROM image@sha256:... AS name
var fromImageRe = regexp.MustCompile(`FROM\s+(\S+?)(?:@sha256:[a-f0-9]+)?(?:\s+AS\s+\S+)?$`)

// ParseLayers recovers build layers from a job's build output. Both
// BuildKit plain progress and classic builder output are understood. Only
// meaningful layers are returned (FROM, COPY, RUN, etc.); internal steps
// such as loading the build definition are dropped. Events may carry one
// line each or several newline-separated lines.
func ParseLayers(events []ProgressEvent) []LayerEvent {
	var lines []string
	for _, ev := range events {
		lines = append(lines, strings.Split(ev.Text(), "\n")...)
	}
	return parseLayerLines(lines)
}

func parseLayerLines(lines []string) []LayerEvent {
	kit := map[int]*layerState{}
	var classic []*layerState

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || internalRe.MatchString(line) {
			continue
		}

		if m := layerStartRe.FindStringSubmatch(line); m != nil {
			step, _ := strconv.Atoi(m[1])
			kit[step] = newLayer(m[2], m[3], m[4], m[5])
			continue
		}
		if m := cachedRe.FindStringSubmatch(line); m != nil {
			step, _ := strconv.Atoi(m[1])
			if ls, ok := kit[step]; ok {
				ls.Cached = true
				ls.done = true
			}
			continue
		}
		if m := doneRe.FindStringSubmatch(line); m != nil {
			step, _ := strconv.Atoi(m[1])
			seconds, _ := strconv.ParseFloat(m[2], 64)
			if ls, ok := kit[step]; ok {
				if seconds > 0 {
					ls.Duration = time.Duration(seconds * float64(time.Second))
				}
				ls.done = true
			}
			continue
		}

		if m := classicStepRe.FindStringSubmatch(line); m != nil {
			classic = append(classic, newLayer("", m[1], strings.ToUpper(m[2]), m[3]))
			continue
		}
		if len(classic) == 0 {
			continue
		}
		last := classic[len(classic)-1]
		switch {
		case classicCacheRe.MatchString(line):
			last.Cached = true
		case classicLayerRe.MatchString(line):
			last.done = true
		}
	}

	steps := make([]int, 0, len(kit))
	for step := range kit {
		steps = append(steps, step)
	}
	sort.Ints(steps)

	var out []LayerEvent
	for _, step := range steps {
		if ls := kit[step]; ls.done {
			out = append(out, ls.LayerEvent)
		}
	}
	for _, ls := range classic {
		if ls.done {
			out = append(out, ls.LayerEvent)
		}
	}
	return out
}

func newLayer(stage, stageStep, instruction, detail string) *layerState {
	ls := &layerState{LayerEvent: LayerEvent{
		Stage:       stage,
		StageStep:   stageStep,
		Instruction: instruction,
	}}
	if instruction == "FROM" {
		if m := fromImageRe.FindStringSubmatch(instruction + " " + detail); m != nil {
			ls.Image = m[1]
		}
	}
	if len(detail) > 60 {
		detail = detail[:57] + "..."
	}
	ls.Detail = detail
	return ls
}

// FormatLayerTiming formats a layer's timing for display.
// Returns "cached" for cache hits, or the duration string for timed layers.
func FormatLayerTiming(e LayerEvent) string {
	if e.Cached {
		return "cached"
	}
	if e.Duration > 0 {
		return FormatDuration(e.Duration)
	}
	return ""
}

// FormatDuration renders d with one decimal in seconds, or minutes past one minute.
func FormatDuration(d time.Duration) string {
	if d >= time.Minute {
		return strconv.FormatFloat(d.Minutes(), 'f', 1, 64) + "m"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
}

// FormatLayerInstruction formats a layer for display: the base image for
// FROM, otherwise the instruction and its truncated arguments.
func FormatLayerInstruction(e LayerEvent) string {
	if e.Instruction == "FROM" && e.Image != "" {
		return e.Image
	}
	if e.Detail != "" {
		return e.Instruction + " " + e.Detail
	}
	return e.Instruction
}
