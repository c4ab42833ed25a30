package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBold
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// DefaultColorTheme returns a default color theme
func DefaultColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBold,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Info:    ColorCyan,
		Muted:   ColorWhite,
	}
}

// Palette applies colors when enabled
type Palette struct {
	enabled bool
	theme   ColorTheme
	colors  map[Color]*color.Color
}

// NewPalette creates a palette; colors are applied only when enabled is true
func NewPalette(enabled bool, theme ColorTheme) *Palette {
	p := &Palette{
		enabled: enabled,
		theme:   theme,
		colors: map[Color]*color.Color{
			ColorReset:  color.New(color.Reset),
			ColorRed:    color.New(color.FgRed),
			ColorGreen:  color.New(color.FgGreen),
			ColorYellow: color.New(color.FgYellow),
			ColorBlue:   color.New(color.FgBlue),
			ColorCyan:   color.New(color.FgCyan),
			ColorWhite:  color.New(color.FgWhite),
			ColorBold:   color.New(color.Bold),
		},
	}
	for _, c := range p.colors {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Theme returns the palette's theme
func (p *Palette) Theme() ColorTheme {
	return p.theme
}

// Colorize applies clr to text if colors are enabled
func (p *Palette) Colorize(text string, clr Color) string {
	if !p.enabled {
		return text
	}
	if c, ok := p.colors[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats and colorizes
func (p *Palette) Sprintf(clr Color, format string, args ...interface{}) string {
	return p.Colorize(fmt.Sprintf(format, args...), clr)
}

// DetectColor reports whether w is a terminal that should get colors.
// NO_COLOR and a dumb TERM disable colors, CLICOLOR_FORCE enables them.
func DetectColor(w io.Writer) bool {
	out := termenv.NewOutput(w)
	if out.EnvNoColor() {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}

	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return out.EnvColorProfile() != termenv.Ascii
}

// DetectUnicode reports whether the environment can render the status icons
func DetectUnicode(w io.Writer) bool {
	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "vt100" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}
