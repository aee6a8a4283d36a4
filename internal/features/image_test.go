package features

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int, fill color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeImageWidthMatchesSchema(t *testing.T) {
	raw := pngBytes(t, 10, 7, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	for _, pixelWidth := range []int{0, 5, 100, 64 * 64 * 3, 20000} {
		schema := NewSchema(pixelWidth, []float64{0.5, 0.5, 1})
		vec, err := EncodeImage(raw, schema, nil)
		require.NoError(t, err)
		assert.Len(t, vec, pixelWidth+3, "pixel width %d", pixelWidth)
	}
}

func TestEncodeImageLayout(t *testing.T) {
	raw := pngBytes(t, 128, 96, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	schema := NewSchema(64*64*3+10, []float64{0.45, 0.55, 1})

	vec, err := EncodeImage(raw, schema, nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{200, 100, 50, 200, 100, 50}, vec[:6])
	for _, v := range vec[64*64*3 : 64*64*3+10] {
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, []float64{0.45, 0.55, 1}, vec[len(vec)-3:])
}

func TestEncodeImageDeterministic(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 8), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	schema := NewSchema(500, []float64{0.1, 0.2, 2})
	a, err := EncodeImage(buf.Bytes(), schema, nil)
	require.NoError(t, err)
	b, err := EncodeImage(buf.Bytes(), schema, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeImageWithMeasurements(t *testing.T) {
	raw := pngBytes(t, 8, 8, color.White)
	schema := NewSchema(4, []float64{0.5, 0.5, 1})

	vec, err := EncodeImage(raw, schema, &Measurements{Oil: 0.8, Water: 0.2, PoreSize: "besar"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, 0.2, 2}, vec[4:])

	_, err = EncodeImage(raw, schema, &Measurements{PoreSize: "unknown"})
	var poreErr *PoreSizeError
	assert.True(t, errors.As(err, &poreErr))
	assert.EqualError(t, err, `unknown pore size "unknown"`)
}

func TestEncodeImageUndecodable(t *testing.T) {
	schema := NewSchema(10, []float64{0, 0, 0})

	_, err := EncodeImage([]byte("definitely not an image"), schema, nil)

	var decodeErr *ImageDecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeImageDataURL(t *testing.T) {
	raw := pngBytes(t, 3, 3, color.Black)
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	img, err := DecodeImage([]byte(url))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = DecodeImage([]byte("data:image/png;base64"))
	var decodeErr *ImageDecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestEncodeDecodedTransparentPixelsKeepColour(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 20, 30, 0
	}

	vec, err := EncodeDecoded(img, NewSchema(3, []float64{0, 0, 0}), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30}, vec[:3])
}
