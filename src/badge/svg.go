package badge

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	"github.com/sofmeright/freightqueue/src/build"
)

const (
	badgeHeight = 20
	textPadding = 10
	glyphWidth  = 14 // reserved left of the value when the badge has a status
)

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}

// geometry is the horizontal layout of one badge.
type geometry struct {
	label int // label box
	glyph int // status glyph, 0 without a status
	value int // value text
}

func (g geometry) width() int      { return g.label + g.glyph + g.value }
func (g geometry) valueStart() int { return g.label + g.glyph }

func (e *Engine) measure(b Badge) geometry {
	g := geometry{
		label: int(math.Round(e.metrics.TextWidth(b.Label))) + textPadding,
		value: int(math.Round(e.metrics.TextWidth(b.Value))) + textPadding,
	}
	if glyphFor(b.Status) != "" {
		g.glyph = glyphWidth
	}
	return g
}

// renderSVG draws a flat two-part badge. A badge carrying a job status gets
// a glyph in front of its value: a tick, a cross, a clock for a queued job
// and a spinning arc while the job builds.
func (e *Engine) renderSVG(b Badge) string {
	g := e.measure(b)
	title := xmlEscape(b.Label + ": " + b.Value)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" role="img" aria-label="%s">`,
		g.width(), badgeHeight, title)
	fmt.Fprintf(&buf, `<title>%s</title>`, title)

	buf.WriteString(`<defs>`)
	if e.EmbedFont {
		fmt.Fprintf(&buf, `<style type="text/css">%s</style>`, fontFaceCSS(e.metrics.FontName(), e.metrics.FontData()))
	}
	buf.WriteString(`<linearGradient id="s" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>`)
	fmt.Fprintf(&buf, `<clipPath id="r"><rect width="%d" height="%d" rx="3"/></clipPath>`, g.width(), badgeHeight)
	buf.WriteString(`</defs>`)

	fmt.Fprintf(&buf, `<g clip-path="url(#r)"><rect width="%d" height="%d" fill="#555"/>`, g.label, badgeHeight)
	fmt.Fprintf(&buf, `<rect x="%d" width="%d" height="%d" fill="%s"/>`, g.label, g.glyph+g.value, badgeHeight, xmlEscape(b.Color))
	fmt.Fprintf(&buf, `<rect width="%d" height="%d" fill="url(#s)"/></g>`, g.width(), badgeHeight)

	if glyph := glyphFor(b.Status); glyph != "" {
		fmt.Fprintf(&buf, `<g transform="translate(%d 0)" fill="none" stroke="#fff" stroke-width="1.6" stroke-linecap="round" stroke-linejoin="round" class="status-%s">%s</g>`,
			g.label+2, b.Status, glyph)
	}

	family := xmlEscape(fmt.Sprintf("'%s',Verdana,Geneva,sans-serif", e.metrics.FontName()))
	fmt.Fprintf(&buf, `<g fill="#fff" text-anchor="middle" font-family="%s" font-size="%g">`, family, e.metrics.FontSize())
	writeShadowedText(&buf, g.label/2, b.Label)
	writeShadowedText(&buf, g.valueStart()+g.value/2, b.Value)
	buf.WriteString(`</g></svg>`)
	return buf.String()
}

func writeShadowedText(buf *bytes.Buffer, x int, text string) {
	text = xmlEscape(text)
	fmt.Fprintf(buf, `<text x="%d" y="15" fill="#010101" fill-opacity=".3">%s</text><text x="%d" y="14">%s</text>`, x, text, x, text)
}

// glyphFor returns the SVG shapes drawn for status in a glyphWidth box, or
// "" for a badge without a known status.
func glyphFor(status build.Status) string {
	switch status {
	case build.StatusSuccess:
		return `<path d="M3 10.5l3 3 5-6.5"/>`
	case build.StatusFailure:
		return `<path d="M4 6.5l6 7m0-7l-6 7"/>`
	case build.StatusQueued:
		return `<circle cx="7" cy="10" r="4.5"/><path d="M7 7.5V10h2"/>`
	case build.StatusBuilding:
		return `<path d="M7 5.5a4.5 4.5 0 1 1-4.5 4.5">` +
			`<animateTransform attributeName="transform" type="rotate" from="0 7 10" to="360 7 10" dur="1.2s" repeatCount="indefinite"/></path>`
	default:
		return ""
	}
}

// fontFaceCSS inlines a TrueType or OpenType font as a base64 @font-face.
func fontFaceCSS(name string, data []byte) string {
	subtype, format := "ttf", "truetype"
	if bytes.HasPrefix(data, []byte("OTTO")) {
		subtype, format = "otf", "opentype"
	}
	return fmt.Sprintf(`@font-face{font-family:'%s';src:url(data:font/%s;base64,%s) format('%s')}`,
		name, subtype, base64.StdEncoding.EncodeToString(data), format)
}
