// Package fonts provides the built-in fonts shared by badge rendering.
// They are the Go font family, so no font files ship with the binary.
package fonts

import (
	"fmt"
	"sort"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
)

// Builtin maps config names to TTF data.
var Builtin = map[string][]byte{
	"go-regular":   goregular.TTF,
	"go-bold":      gobold.TTF,
	"go-mono":      gomono.TTF,
	"go-smallcaps": gosmallcaps.TTF,
}

// DefaultFont is the config name of the default built-in font.
const DefaultFont = "go-regular"

// Data returns the TTF bytes of a built-in font.
func Data(name string) ([]byte, error) {
	if name == "" {
		name = DefaultFont
	}
	data, ok := Builtin[name]
	if !ok {
		return nil, fmt.Errorf("fonts: unknown built-in font %q (available: %v)", name, Names())
	}
	return data, nil
}

// Names returns sorted list of available built-in font names.
func Names() []string {
	names := make([]string, 0, len(Builtin))
	for k := range Builtin {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
