package effect

import (
	"image"
	"image/color"
)

// Night is the flat green-black fill used by the night look. Alpha comes from
// the spec strength at render time.
var nightColor = color.NRGBA{R: 0, G: 32, B: 16}

// thermal gradient stops, top to bottom: transparent, red, yellow.
var thermalStops = []color.NRGBA{
	{R: 255, G: 0, B: 0, A: 0},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 255, G: 220, B: 0, A: 255},
}

// Overlay returns the overlay layer for spec over the given bounds, or nil
// when the spec draws nothing. KindNone always returns nil, whatever the
// strength says.
func Overlay(spec Spec, bounds image.Rectangle) image.Image {
	spec = spec.Normalize()
	alpha := uint8(spec.Strength*255 + 0.5)

	switch spec.Kind {
	case KindNone:
		return nil
	case KindNight:
		c := nightColor
		c.A = alpha
		return &flatLayer{bounds: bounds, c: c}
	case KindThermal:
		return &gradientLayer{bounds: bounds, stops: thermalStops, opacity: spec.Strength}
	case KindTint:
		c, err := ParseHex(spec.TintHex)
		if err != nil {
			c, _ = ParseHex(DefaultTint)
		}
		c.A = alpha
		return &flatLayer{bounds: bounds, c: c}
	}
	return nil
}

// flatLayer is a bounded uniform fill.
type flatLayer struct {
	bounds image.Rectangle
	c      color.NRGBA
}

func (l *flatLayer) ColorModel() color.Model { return color.NRGBAModel }
func (l *flatLayer) Bounds() image.Rectangle { return l.bounds }

func (l *flatLayer) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(l.bounds) {
		return color.NRGBA{}
	}
	return l.c
}

// gradientLayer interpolates vertically across its stops, then scales the
// resulting alpha by an overall opacity.
type gradientLayer struct {
	bounds  image.Rectangle
	stops   []color.NRGBA
	opacity float64
}

func (l *gradientLayer) ColorModel() color.Model { return color.NRGBAModel }
func (l *gradientLayer) Bounds() image.Rectangle { return l.bounds }

func (l *gradientLayer) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(l.bounds) {
		return color.NRGBA{}
	}
	h := l.bounds.Dy()
	if h <= 1 {
		return l.scale(l.stops[len(l.stops)-1])
	}

	// Position in [0,1] from top of the layer.
	t := float64(y-l.bounds.Min.Y) / float64(h-1)
	seg := t * float64(len(l.stops)-1)
	i := int(seg)
	if i >= len(l.stops)-1 {
		return l.scale(l.stops[len(l.stops)-1])
	}
	f := seg - float64(i)
	return l.scale(lerp(l.stops[i], l.stops[i+1], f))
}

func (l *gradientLayer) scale(c color.NRGBA) color.NRGBA {
	c.A = uint8(float64(c.A)*l.opacity + 0.5)
	return c
}

func lerp(a, b color.NRGBA, f float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x)*(1-f) + float64(y)*f + 0.5)
	}
	return color.NRGBA{
		R: mix(a.R, b.R),
		G: mix(a.G, b.G),
		B: mix(a.B, b.B),
		A: mix(a.A, b.A),
	}
}
