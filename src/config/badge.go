package config

// BadgeConfig holds status badge rendering configuration.
type BadgeConfig struct {
	Font     string  `yaml:"font" toml:"font"`           // built-in font name (default: "go-regular")
	FontSize float64 `yaml:"font_size" toml:"font_size"` // pixel size (default: 11)
	FontFile string  `yaml:"font_file" toml:"font_file"` // path to custom TTF/OTF (overrides Font)
	Label    string  `yaml:"label" toml:"label"`         // left side text (default: "build")
}

// DefaultBadgeConfig returns sensible defaults for badge generation.
func DefaultBadgeConfig() BadgeConfig {
	return BadgeConfig{
		Font:     "go-regular",
		FontSize: 11,
		Label:    "build",
	}
}
