package panorama

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
)

// Overlay parameters. Fixed: this is an awareness effect, not a calibrated
// medical simulation.
const (
	// monocularFadeEnd is where the left-side field-loss gradient reaches
	// full transparency, as a fraction of panorama width. Opaque at the
	// left edge, clear past the midline.
	monocularFadeEnd = 0.6

	// tunnelRadiusX and tunnelRadiusY are the clear elliptical region's
	// radii as fractions of panorama width and height.
	tunnelRadiusX = 0.18
	tunnelRadiusY = 0.35

	// tunnelFeather softens the ellipse edge: the mask ramps from clear to
	// opaque across this band of normalized radial distance.
	tunnelFeather = 0.35
)

// RenderOverlay draws the monocular and tunnel-vision masks over a copy of
// the panorama and returns the result as JPEG bytes. The panorama itself is
// never modified, so toggling the overlay off returns the original render.
func RenderOverlay(p *Panorama) ([]byte, error) {
	b := p.Pixels.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), p.Pixels, b.Min, draw.Src)

	w := float64(b.Dx())
	h := float64(b.Dy())
	cx := w / 2
	cy := h / 2
	rx := w * tunnelRadiusX
	ry := h * tunnelRadiusY

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			ga := monocularAlpha(float64(x), w)
			ta := tunnelAlpha(float64(x), float64(y), cx, cy, rx, ry)

			// Two black layers composited over each other.
			a := 1 - (1-ga)*(1-ta)
			if a <= 0 {
				continue
			}
			blendBlack(out, x, y, a)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: composeQuality}); err != nil {
		return nil, fmt.Errorf("encode overlay render: %w", err)
	}
	return buf.Bytes(), nil
}

// monocularAlpha is the left-side field-loss gradient: 1 at the left edge,
// linear fade to 0 at monocularFadeEnd of the width.
func monocularAlpha(x, width float64) float64 {
	end := width * monocularFadeEnd
	if x >= end {
		return 0
	}
	return 1 - x/end
}

// tunnelAlpha is 0 inside the clear ellipse, ramps across the feather band,
// and is 1 beyond it.
func tunnelAlpha(x, y, cx, cy, rx, ry float64) float64 {
	dx := (x - cx) / rx
	dy := (y - cy) / ry
	d := math.Sqrt(dx*dx + dy*dy)

	if d <= 1 {
		return 0
	}
	if d >= 1+tunnelFeather {
		return 1
	}
	return (d - 1) / tunnelFeather
}

// blendBlack composites black at the given alpha over one pixel.
func blendBlack(img *image.RGBA, x, y int, alpha float64) {
	c := img.RGBAAt(x, y)
	k := 1 - alpha
	img.SetRGBA(x, y, color.RGBA{
		R: uint8(float64(c.R) * k),
		G: uint8(float64(c.G) * k),
		B: uint8(float64(c.B) * k),
		A: c.A,
	})
}
