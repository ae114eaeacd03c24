// Package badge renders SVG status badges with dynamic font measurement.
package badge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/sofmeright/freightqueue/src/fonts"
)

// FontMetrics holds measured glyph widths and font data for SVG embedding.
type FontMetrics struct {
	name     string           // font family name
	size     float64          // point size
	data     []byte           // raw TTF/OTF bytes for base64 embedding
	advances map[rune]float64 // measured glyph advances (printable ASCII)
	fallback float64          // average width for unmapped runes
}

// TextWidth returns the pixel width of s using measured glyph advances.
func (m *FontMetrics) TextWidth(s string) float64 {
	var w float64
	for _, r := range s {
		if adv, ok := m.advances[r]; ok {
			w += adv
		} else {
			w += m.fallback
		}
	}
	return w
}

// FontData returns the raw font bytes for SVG embedding.
func (m *FontMetrics) FontData() []byte { return m.data }

// FontName returns the font family name.
func (m *FontMetrics) FontName() string { return m.name }

// FontSize returns the configured point size.
func (m *FontMetrics) FontSize() float64 { return m.size }

// LoadFont parses a TTF/OTF and measures glyph advances at the given size.
// Built-in and custom fonts share this path.
func LoadFont(name string, data []byte, size float64) (*FontMetrics, error) {
	if size <= 0 {
		size = 11
	}
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("badge: parsing font %s: %w", name, err)
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72})
	if err != nil {
		return nil, fmt.Errorf("badge: creating face for %s: %w", name, err)
	}
	defer face.Close()

	advances := make(map[rune]float64, 95)
	var total float64
	for r := rune(32); r <= 126; r++ {
		adv, ok := face.GlyphAdvance(r)
		if !ok {
			continue
		}
		px := fixedToFloat(adv)
		advances[r] = px
		total += px
	}

	fallback := size * 0.6
	if len(advances) > 0 {
		fallback = total / float64(len(advances))
	}

	familyName := name
	if n, err := f.Name(&sfnt.Buffer{}, sfnt.NameIDFamily); err == nil && n != "" {
		familyName = n
	}

	return &FontMetrics{
		name:     familyName,
		size:     size,
		data:     data,
		advances: advances,
		fallback: fallback,
	}, nil
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}

// LoadBuiltinFont loads a built-in font by config name.
func LoadBuiltinFont(name string, size float64) (*FontMetrics, error) {
	data, err := fonts.Data(name)
	if err != nil {
		return nil, err
	}
	return LoadFont(name, data, size)
}

// LoadFontFile loads a TTF/OTF from a filesystem path.
func LoadFontFile(path string, size float64) (*FontMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("badge: reading font file %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadFont(name, data, size)
}

// Load picks the font file when set, otherwise the named built-in font.
func Load(fontName, fontFile string, size float64) (*FontMetrics, error) {
	if fontFile != "" {
		return LoadFontFile(fontFile, size)
	}
	return LoadBuiltinFont(fontName, size)
}
