// Package capture turns the live preview feed into encoded still images.
//
// The client relays its camera preview as a stream of JPEG frames; only the
// most recent frame is retained. A grab snapshots that frame: it must decode
// and report nonzero dimensions, otherwise the grab fails and the caller
// skips it silently.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// captureQuality is the JPEG quality for captured stills.
const captureQuality = 80

var (
	// ErrNoFrame means the feed has not delivered a frame yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrEmptyFrame means the frame decoded to zero width or height.
	ErrEmptyFrame = errors.New("frame has zero dimensions")
)

// Frame is the most recent preview frame relayed from the client feed. Only
// the encoded bytes are kept; dimensions always come from decoding, never
// from what the client reported.
type Frame struct {
	Data       []byte // encoded JPEG
	ReceivedAt time.Time
}

// Image is one captured still, decoded and re-encoded at capture time so
// later composition never meets an undecodable payload.
type Image struct {
	Data    []byte // JPEG, quality 80
	Ordinal int    // 0-based position in capture order
	Pixels  image.Image
}

// Width returns the pixel width of the captured still.
func (img *Image) Width() int {
	return img.Pixels.Bounds().Dx()
}

// Height returns the pixel height of the captured still.
func (img *Image) Height() int {
	return img.Pixels.Bounds().Dy()
}

// Store holds the latest frame from the live feed. It is owned by a single
// session, which serializes access.
type Store struct {
	frame *Frame
}

// NewStore creates an empty frame store.
func NewStore() *Store {
	return &Store{}
}

// Put replaces the stored frame with a newer one.
func (s *Store) Put(f Frame) {
	f.ReceivedAt = time.Now().UTC()
	s.frame = &f
}

// Latest returns the most recent frame, or false if none has arrived.
func (s *Store) Latest() (*Frame, bool) {
	if s.frame == nil {
		return nil, false
	}
	return s.frame, true
}

// Drop releases the stored frame. Called when the camera feed is stopped.
func (s *Store) Drop() {
	s.frame = nil
}

// Probe reads the dimensions of an encoded frame without a full decode.
// Used to confirm the feed is producing real frames.
func Probe(data []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("probe frame: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Grab snapshots the current frame into a captured still with the given
// ordinal. The frame must decode with nonzero dimensions.
func (s *Store) Grab(ordinal int) (*Image, error) {
	f, ok := s.Latest()
	if !ok {
		return nil, ErrNoFrame
	}

	src, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyFrame
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: captureQuality}); err != nil {
		return nil, fmt.Errorf("encode still: %w", err)
	}

	return &Image{
		Data:    buf.Bytes(),
		Ordinal: ordinal,
		Pixels:  src,
	}, nil
}
