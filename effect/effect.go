// Package effect defines the visual "looks" a captured photo can carry and
// renders them as overlay layers on top of a source frame.
//
// A Spec is an immutable value describing exactly one overlay. Layering two
// looks means stacking two Specs, drawn in order over the base frame.
package effect

import (
	"fmt"
	"image/color"
	"strings"
)

// Kind identifies an overlay treatment.
type Kind string

const (
	KindNone    Kind = "none"
	KindNight   Kind = "night"
	KindThermal Kind = "thermal"
	KindTint    Kind = "tint"
)

// Kinds lists all valid kinds in display order.
func Kinds() []Kind {
	return []Kind{KindNone, KindNight, KindThermal, KindTint}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNone, KindNight, KindThermal, KindTint:
		return true
	}
	return false
}

// DefaultStrength is the overlay strength applied when none is given.
const DefaultStrength = 0.35

// TintSwatches are the preset tint colors offered by the editor.
var TintSwatches = []string{
	"#22c55e",
	"#3b82f6",
	"#ef4444",
	"#f59e0b",
	"#a855f7",
	"#14b8a6",
	"#eab308",
}

// DefaultTint is the first swatch.
const DefaultTint = "#22c55e"

// Spec describes one overlay: a kind, an optional tint color (hex, only
// meaningful for KindTint), and a strength in [0,1].
type Spec struct {
	Kind     Kind    `json:"kind" yaml:"kind"`
	TintHex  string  `json:"tint_hex,omitempty" yaml:"tint_hex,omitempty"`
	Strength float64 `json:"strength" yaml:"strength"`
}

// Normalize clamps strength to [0,1], fills kind/tint defaults, and returns
// the cleaned copy. The zero Spec normalizes to KindNone.
func (s Spec) Normalize() Spec {
	if s.Kind == "" {
		s.Kind = KindNone
	}
	if s.Strength < 0 {
		s.Strength = 0
	}
	if s.Strength > 1 {
		s.Strength = 1
	}
	if s.Kind == KindTint && s.TintHex == "" {
		s.TintHex = DefaultTint
	}
	return s
}

// Validate rejects unknown kinds and unparseable tint colors. Strength outside
// [0,1] is clamped by Normalize, not rejected.
func (s Spec) Validate() error {
	if s.Kind != "" && !s.Kind.Valid() {
		return fmt.Errorf("effect: unknown kind %q", s.Kind)
	}
	if s.Kind == KindTint && s.TintHex != "" {
		if _, err := ParseHex(s.TintHex); err != nil {
			return err
		}
	}
	return nil
}

// ParseHex parses "#rgb" or "#rrggbb" into an opaque color.
func ParseHex(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("effect: invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(h, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("effect: invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// FormatHex renders c as "#rrggbb", ignoring alpha.
func FormatHex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
