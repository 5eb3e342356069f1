package panorama

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"pgregory.net/rapid"

	"vision-sim/internal/capture"
)

func makeStill(ordinal, w, h int, c color.RGBA) *capture.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return &capture.Image{Ordinal: ordinal, Pixels: img}
}

func TestCompose_TooFewImages(t *testing.T) {
	images := []*capture.Image{
		makeStill(0, 64, 48, color.RGBA{A: 255}),
		makeStill(1, 64, 48, color.RGBA{A: 255}),
	}
	if _, err := Compose(images); !errors.Is(err, ErrTooFewImages) {
		t.Errorf("expected ErrTooFewImages, got %v", err)
	}
}

func TestCompose_Geometry(t *testing.T) {
	// Three camera-sized stills compose into a 1920x720 strip.
	images := []*capture.Image{
		makeStill(0, 1280, 720, color.RGBA{R: 255, A: 255}),
		makeStill(1, 1280, 720, color.RGBA{G: 255, A: 255}),
		makeStill(2, 1280, 720, color.RGBA{B: 255, A: 255}),
	}

	pano, err := Compose(images)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	if pano.Width != 1920 || pano.Height != 720 {
		t.Errorf("expected 1920x720, got %dx%d", pano.Width, pano.Height)
	}
	if len(pano.Data) == 0 {
		t.Error("expected encoded panorama data")
	}
}

func TestCompose_StripOrderAndColor(t *testing.T) {
	colors := []color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
		{R: 255, G: 255, A: 255},
	}
	images := make([]*capture.Image, len(colors))
	for i, c := range colors {
		images[i] = makeStill(i, 100, 40, c)
	}

	pano, err := Compose(images)
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	// stripWidth = 50; sample the middle of each strip.
	out := pano.Pixels.(*image.RGBA)
	for i, want := range colors {
		got := out.RGBAAt(i*50+25, 20)
		if got != want {
			t.Errorf("strip %d: got %v, want %v", i, got, want)
		}
	}
}

func TestCompose_CenteredCrop(t *testing.T) {
	// Left half red, right half blue: the centered half-width crop spans
	// W/4..3W/4, so the strip is red on its left and blue on its right.
	w, h := 80, 20
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	still := &capture.Image{Pixels: img}
	pano, err := Compose([]*capture.Image{still, still, still})
	if err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	out := pano.Pixels.(*image.RGBA)
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	if got := out.RGBAAt(5, 10); got != red {
		t.Errorf("left of first strip: got %v, want red", got)
	}
	if got := out.RGBAAt(35, 10); got != blue {
		t.Errorf("right of first strip: got %v, want blue", got)
	}
}

func TestCompose_DegenerateFirstImage(t *testing.T) {
	images := []*capture.Image{
		makeStill(0, 1, 10, color.RGBA{A: 255}),
		makeStill(1, 1, 10, color.RGBA{A: 255}),
		makeStill(2, 1, 10, color.RGBA{A: 255}),
	}
	if _, err := Compose(images); err == nil {
		t.Error("expected error for zero strip width")
	}
}

// TestCompose_OutputDimensions checks width = floor(W/2)*N and height = H
// for arbitrary image counts and sizes.
func TestCompose_OutputDimensions(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(MinImages, 6).Draw(t, "n")
		w := rapid.IntRange(2, 120).Draw(t, "w")
		h := rapid.IntRange(1, 80).Draw(t, "h")

		images := make([]*capture.Image, n)
		for i := range images {
			images[i] = makeStill(i, w, h, color.RGBA{R: uint8(i * 40), A: 255})
		}

		pano, err := Compose(images)
		if err != nil {
			t.Fatalf("compose failed: %v", err)
		}
		if pano.Width != (w/2)*n {
			t.Fatalf("width = %d, want %d", pano.Width, (w/2)*n)
		}
		if pano.Height != h {
			t.Fatalf("height = %d, want %d", pano.Height, h)
		}
	})
}
