// Package frame defines the single-channel observation frame shared by the
// capture loop, the dataset builder and the live environment, along with the
// preprocessing that turns a captured screen image into one.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"time"

	"golang.org/x/image/draw"
)

// Default observation resolution.
const (
	DefaultWidth  = 128
	DefaultHeight = 128
)

// Frame is a decoded, fixed-resolution 8-bit grayscale image. Pix is
// row-major with stride Width. Frames are treated as immutable once built;
// callers must not modify Pix of a frame they did not create.
type Frame struct {
	ID        int
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []uint8
}

// Zero returns an all-zero frame of the given size. It stands in for PAD
// window slots and for images that could not be decoded.
func Zero(width, height int) Frame {
	return Frame{
		ID:     -1,
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// IsZero reports whether every pixel is zero.
func (f Frame) IsZero() bool {
	for _, p := range f.Pix {
		if p != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two frames have the same size and pixels.
func (f Frame) Equal(o Frame) bool {
	return f.Width == o.Width && f.Height == o.Height && bytes.Equal(f.Pix, o.Pix)
}

// Gray wraps the frame pixels as an image.Gray without copying.
func (f Frame) Gray() *image.Gray {
	return &image.Gray{
		Pix:    f.Pix,
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Preprocessor converts captured screen images into observation frames.
type Preprocessor struct {
	Width  int
	Height int
}

// NewPreprocessor returns a Preprocessor producing width x height frames.
// Non-positive sizes fall back to the defaults.
func NewPreprocessor(width, height int) Preprocessor {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return Preprocessor{Width: width, Height: height}
}

// Process converts img to grayscale and scales it to the target size.
func (p Preprocessor) Process(img image.Image) Frame {
	dst := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return Frame{
		Width:  p.Width,
		Height: p.Height,
		Pix:    dst.Pix,
	}
}

// Decode decodes an encoded JPEG or PNG image and preprocesses it.
func (p Preprocessor) Decode(data []byte) (Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode image: %w", err)
	}
	return p.Process(img), nil
}

// Zero returns an all-zero frame at the preprocessor's resolution.
func (p Preprocessor) Zero() Frame {
	return Zero(p.Width, p.Height)
}

// JPEGQuality is the quality used when persisting captured frames.
const JPEGQuality = 90

// EncodeJPEG writes img as a JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
}
