package effect

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Rasterize bakes a source frame plus a stack of overlays into a flat image
// of the given dimensions. The source is scaled to fit (contain) on a black
// background, then each overlay is drawn over the whole frame in order.
//
// Overlays whose spec resolves to nothing (KindNone) are skipped; a nil or
// empty source produces a plain black frame with the overlays applied, so a
// failed decode still yields a capturable surface.
func Rasterize(src image.Image, specs []Spec, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	if src != nil && !src.Bounds().Empty() {
		xdraw.CatmullRom.Scale(dst, fitRect(src.Bounds(), dst.Bounds()), src, src.Bounds(), xdraw.Over, nil)
	}

	for _, spec := range specs {
		layer := Overlay(spec, dst.Bounds())
		if layer == nil {
			continue
		}
		draw.Draw(dst, dst.Bounds(), layer, dst.Bounds().Min, draw.Over)
	}

	return dst
}

// fitRect returns the largest rectangle with src's aspect ratio centered
// inside dst.
func fitRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}

	w := dw
	h := w * sh / sw
	if h > dh {
		h = dh
		w = h * sw / sh
	}

	x0 := dst.Min.X + (dw-w)/2
	y0 := dst.Min.Y + (dh-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}
