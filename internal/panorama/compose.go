// Package panorama assembles captured stills into a single wide strip and
// renders the low-vision overlay on top of it.
//
// Strip assembly is fixed-geometry: a centered half-width crop of each
// still, concatenated left to right in capture order. The guided rotation
// keeps the source images roughly aligned, so no feature matching or
// warping is involved.
package panorama

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"vision-sim/internal/capture"
)

// MinImages is the fewest stills that compose into a panorama.
const MinImages = 3

// composeQuality is the JPEG quality of the finished panorama.
const composeQuality = 90

// ErrTooFewImages is returned when composition is requested below MinImages.
var ErrTooFewImages = errors.New("not enough images to compose")

// Panorama is the composited strip image. Immutable after creation: the
// overlay renderer reads Pixels but never writes them.
type Panorama struct {
	Data   []byte // JPEG, quality 90
	Width  int
	Height int
	Pixels image.Image
}

// Compose assembles the ordered stills into one panorama. All inputs were
// decoded at capture time, so composition never blocks on decoding. Strip
// geometry comes from the first image; all stills share one camera
// configuration and therefore one size.
func Compose(images []*capture.Image) (*Panorama, error) {
	if len(images) < MinImages {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewImages, len(images), MinImages)
	}

	stripWidth := images[0].Width() / 2
	height := images[0].Height()
	if stripWidth == 0 || height == 0 {
		return nil, fmt.Errorf("first image has degenerate size %dx%d", images[0].Width(), images[0].Height())
	}

	out := image.NewRGBA(image.Rect(0, 0, stripWidth*len(images), height))

	for i, img := range images {
		srcX := (img.Width() - stripWidth) / 2
		srcOrigin := img.Pixels.Bounds().Min.Add(image.Pt(srcX, 0))
		dst := image.Rect(i*stripWidth, 0, (i+1)*stripWidth, height)
		draw.Draw(out, dst, img.Pixels, srcOrigin, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: composeQuality}); err != nil {
		return nil, fmt.Errorf("encode panorama: %w", err)
	}

	return &Panorama{
		Data:   buf.Bytes(),
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Pixels: out,
	}, nil
}
