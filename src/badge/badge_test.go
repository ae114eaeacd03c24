package badge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/font/gofont/goregular"

	"github.com/sofmeright/freightqueue/src/build"
)

func loadDefault(t *testing.T) *FontMetrics {
	t.Helper()
	m, err := LoadBuiltinFont("", 11)
	if err != nil {
		t.Fatalf("LoadBuiltinFont: %v", err)
	}
	return m
}

func TestLoadBuiltinFont(t *testing.T) {
	m := loadDefault(t)
	if m.FontSize() != 11 {
		t.Errorf("FontSize = %v", m.FontSize())
	}
	if m.FontName() == "" {
		t.Error("empty font name")
	}
	if w := m.TextWidth("success"); w <= m.TextWidth("ok") {
		t.Errorf("TextWidth(success) = %v, not wider than ok", w)
	}
	if m.TextWidth("☃") <= 0 {
		t.Error("unmapped rune should use the fallback width")
	}
}

func TestLoadBuiltinFontUnknown(t *testing.T) {
	if _, err := LoadBuiltinFont("comic-sans", 11); err == nil {
		t.Error("expected error for unknown font")
	}
}

func TestLoadPrefersFontFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.ttf")
	if err := os.WriteFile(path, goregular.TTF, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load("does-not-exist", path, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.FontSize() != 11 {
		t.Errorf("FontSize = %v, want default 11", m.FontSize())
	}

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.ttf"), 11); err == nil {
		t.Error("expected error for missing font file")
	}
}

func TestLoadFontRejectsGarbage(t *testing.T) {
	if _, err := LoadFont("junk", []byte("not a font"), 11); err == nil {
		t.Error("expected parse error")
	}
}

func TestGenerate(t *testing.T) {
	e := New(loadDefault(t))
	svg := e.Generate(Badge{Label: "build", Value: "a<b", Color: "#4c1"})

	if !strings.HasPrefix(svg, "<svg ") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatalf("not an svg document: %.60s", svg)
	}
	if !strings.Contains(svg, "a&lt;b") {
		t.Error("value not escaped")
	}
	if strings.Contains(svg, "@font-face") {
		t.Error("font embedded without EmbedFont")
	}

	e.EmbedFont = true
	if svg := e.Generate(Badge{Label: "build", Value: "ok", Color: "#4c1"}); !strings.Contains(svg, "font/ttf;base64,") {
		t.Error("EmbedFont did not inline the font")
	}
}

func TestGenerateStatusGlyph(t *testing.T) {
	e := New(loadDefault(t))
	plain := e.measure(Badge{Label: "build", Value: "success"})

	for _, st := range []build.Status{build.StatusQueued, build.StatusBuilding, build.StatusSuccess, build.StatusFailure} {
		t.Run(string(st), func(t *testing.T) {
			b := Badge{Label: "build", Value: "success", Color: "#4c1", Status: st}
			svg := e.Generate(b)
			if !strings.Contains(svg, `class="status-`+string(st)+`"`) {
				t.Errorf("no %s glyph:\n%s", st, svg)
			}
			if animated := strings.Contains(svg, "animateTransform"); animated != (st == build.StatusBuilding) {
				t.Errorf("animated = %v for %s", animated, st)
			}
			if got, want := e.measure(b).width(), plain.width()+glyphWidth; got != want {
				t.Errorf("width = %d, want %d", got, want)
			}
			if !strings.Contains(svg, "<title>build: success</title>") {
				t.Error("title missing")
			}
		})
	}

	if svg := e.Generate(Badge{Label: "build", Value: "ok", Status: "bogus"}); strings.Contains(svg, `class="status-`) {
		t.Error("glyph drawn for an unknown status")
	}
}

func TestForSnapshot(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	tests := []struct {
		name  string
		snap  build.Snapshot
		value string
		color string
	}{
		{"queued", build.Snapshot{Status: build.StatusQueued}, "queued", "#9f9f9f"},
		{"building", build.Snapshot{Status: build.StatusBuilding, StartedAt: &start}, "building", "#007ec6"},
		{"success", build.Snapshot{Status: build.StatusSuccess, StartedAt: &start, FinishedAt: &end}, "success 1.5m", "#4c1"},
		{"failure", build.Snapshot{Status: build.StatusFailure}, "failure", "#e05d44"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ForSnapshot("build", tt.snap)
			if b.Label != "build" || b.Value != tt.value || b.Color != tt.color || b.Status != tt.snap.Status {
				t.Errorf("got %+v, want value %q color %q", b, tt.value, tt.color)
			}
		})
	}
}

func TestStatusColorUnknown(t *testing.T) {
	if got := StatusColor("bogus"); got != "#dfb317" {
		t.Errorf("StatusColor(bogus) = %q", got)
	}
}
