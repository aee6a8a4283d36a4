package features

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Measurements are scalar readings taken for an image by other means. When
// absent, the schema substitutes are used.
type Measurements struct {
	Oil      float64
	Water    float64
	PoreSize string
}

// DecodeImage reads encoded image bytes. A "data:image/...;base64," URL is
// accepted as well.
func DecodeImage(raw []byte) (image.Image, error) {
	if bytes.HasPrefix(raw, []byte("data:image")) {
		comma := bytes.IndexByte(raw, ',')
		if comma < 0 {
			return nil, &ImageDecodeError{Err: errors.New("data URL without payload")}
		}
		decoded, err := base64.StdEncoding.DecodeString(string(raw[comma+1:]))
		if err != nil {
			return nil, &ImageDecodeError{Err: errors.Wrap(err, "data URL payload")}
		}
		raw = decoded
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &ImageDecodeError{Err: err}
	}
	return img, nil
}

// EncodeImage decodes raw image data and encodes it with EncodeDecoded.
func EncodeImage(raw []byte, schema Schema, m *Measurements) ([]float64, error) {
	img, err := DecodeImage(raw)
	if err != nil {
		return nil, err
	}
	return EncodeDecoded(img, schema, m)
}

// EncodeDecoded turns an image into a vector of exactly schema.Width() values:
// the RGB channels of the image resized to ImageSize x ImageSize, flattened row
// by row and fitted to PixelWidth, followed by the scalar slots.
func EncodeDecoded(img image.Image, schema Schema, m *Measurements) ([]float64, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &ImageDecodeError{Err: errors.New("empty image")}
	}

	scalars, err := scalarSlots(schema, m)
	if err != nil {
		return nil, err
	}

	pixels := rgbPixels(img, schema.ImageSize)

	vec := make([]float64, schema.Width())
	copy(vec[:schema.PixelWidth], pixels)
	copy(vec[schema.PixelWidth:], scalars)
	return vec, nil
}

func scalarSlots(schema Schema, m *Measurements) ([]float64, error) {
	if m == nil {
		if len(schema.Substitutes) != len(ScalarSlots) {
			return nil, errors.Newf("schema carries %d substitute values, need %d", len(schema.Substitutes), len(ScalarSlots))
		}
		return schema.Substitutes, nil
	}
	pore, ok := PoreCode(m.PoreSize)
	if !ok {
		return nil, &PoreSizeError{Value: m.PoreSize}
	}
	return []float64{m.Oil, m.Water, pore}, nil
}

// rgbPixels drops alpha, resizes with a bicubic kernel and returns R, G, B
// values in the 0-255 range.
func rgbPixels(src image.Image, size int) []float64 {
	if size <= 0 {
		size = DefaultImageSize
	}

	bounds := src.Bounds()
	opaque := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if n, ok := src.(*image.NRGBA); ok {
		// Straight alpha: keep the colour of transparent pixels.
		for y := 0; y < bounds.Dy(); y++ {
			start := n.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(opaque.Pix[y*opaque.Stride:(y+1)*opaque.Stride], n.Pix[start:start+bounds.Dx()*4])
		}
	} else {
		draw.Draw(opaque, opaque.Bounds(), src, bounds.Min, draw.Src)
	}
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 0xff
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), opaque, opaque.Bounds(), draw.Src, nil)

	out := make([]float64, 0, size*size*3)
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			out = append(out, float64(row[x*4]), float64(row[x*4+1]), float64(row[x*4+2]))
		}
	}
	return out
}
