package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestZeroFrame(t *testing.T) {
	f := Zero(4, 3)
	assert.Equal(t, 12, len(f.Pix))
	assert.True(t, f.IsZero())
	assert.Equal(t, 4, f.Gray().Bounds().Dx())
	assert.Equal(t, 3, f.Gray().Bounds().Dy())
}

func TestPreprocessorScalesAndGrays(t *testing.T) {
	p := NewPreprocessor(16, 8)
	f := p.Process(uniform(800, 448, color.RGBA{R: 255, G: 255, B: 255, A: 255}))

	require.Equal(t, 16, f.Width)
	require.Equal(t, 8, f.Height)
	require.Len(t, f.Pix, 16*8)
	for i, v := range f.Pix {
		if v < 254 {
			t.Fatalf("pixel %d = %d, want ~255", i, v)
		}
	}
}

func TestNewPreprocessorDefaults(t *testing.T) {
	p := NewPreprocessor(0, -1)
	assert.Equal(t, DefaultWidth, p.Width)
	assert.Equal(t, DefaultHeight, p.Height)
	assert.True(t, p.Zero().IsZero())
}

func TestDecodePNGAndJPEG(t *testing.T) {
	p := NewPreprocessor(8, 8)
	src := uniform(32, 32, color.Gray{Y: 200})

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))
	f, err := p.Decode(pngBuf.Bytes())
	require.NoError(t, err)
	assert.InDelta(t, 200, int(f.Pix[0]), 1)

	var jpgBuf bytes.Buffer
	require.NoError(t, EncodeJPEG(&jpgBuf, src))
	f2, err := p.Decode(jpgBuf.Bytes())
	require.NoError(t, err)
	assert.InDelta(t, 200, int(f2.Pix[0]), 3)
}

func TestDecodeCorrupt(t *testing.T) {
	_, err := NewPreprocessor(8, 8).Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := Frame{Width: 2, Height: 1, Pix: []uint8{1, 2}}
	b := Frame{Width: 2, Height: 1, Pix: []uint8{1, 2}}
	c := Frame{Width: 2, Height: 1, Pix: []uint8{1, 3}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
