package badge

import (
	"github.com/sofmeright/freightqueue/src/build"
)

// Engine generates SVG badges using a specific font.
type Engine struct {
	metrics *FontMetrics

	// EmbedFont inlines the font as base64 so the badge renders identically
	// everywhere, at the cost of a much larger SVG.
	EmbedFont bool
}

// New creates a badge engine with the given font metrics.
func New(metrics *FontMetrics) *Engine {
	return &Engine{metrics: metrics}
}

// Badge defines the content and appearance of a single badge.
type Badge struct {
	Label string // left side text
	Value string // right side text
	Color string // hex color for right side (e.g. "#4c1")

	// Status selects the glyph drawn before the value. Empty draws none.
	Status build.Status
}

// Generate produces a shields.io-compatible SVG badge string.
func (e *Engine) Generate(b Badge) string {
	return e.renderSVG(b)
}

// ForSnapshot returns the badge describing a job's state. Finished builds
// show their duration.
func ForSnapshot(label string, s build.Snapshot) Badge {
	value := string(s.Status)
	if d := s.Duration(); d > 0 && s.Status.Terminal() {
		value += " " + build.FormatDuration(d)
	}
	return Badge{Label: label, Value: value, Color: StatusColor(s.Status), Status: s.Status}
}

// StatusColor maps a job status to a badge hex color.
func StatusColor(status build.Status) string {
	switch status {
	case build.StatusSuccess:
		return "#4c1"
	case build.StatusBuilding:
		return "#007ec6"
	case build.StatusQueued:
		return "#9f9f9f"
	case build.StatusFailure:
		return "#e05d44"
	default:
		return "#dfb317"
	}
}
