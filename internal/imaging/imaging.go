// Package imaging decodes submitted evidence and reads pixels at a target resolution.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/terra-ai/eco-verify/internal/apperrors"
)

// Decode turns raw bytes into an image. Undecodable data and images with a zero
// dimension are reported as invalid input.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", apperrors.NewInvalidInputError("empty image payload", nil)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", apperrors.NewInvalidInputError("unable to decode image", err)
	}
	if err := CheckDimensions(img); err != nil {
		return nil, "", err
	}
	return img, format, nil
}

// CheckDimensions rejects nil images and images without pixels.
func CheckDimensions(img image.Image) error {
	if img == nil {
		return apperrors.NewInvalidInputError("image is nil", nil)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return apperrors.NewInvalidInputError("image has zero width or height", nil)
	}
	return nil
}

// SampleRGBA resamples img to width x height with nearest-neighbour lookup and
// returns non-premultiplied RGBA bytes, four per pixel, row-major.
func SampleRGBA(img image.Image, width, height int) ([]uint8, error) {
	if err := CheckDimensions(img); err != nil {
		return nil, err
	}
	if width < 1 || height < 1 {
		return nil, apperrors.NewInvalidInputError("target size must be positive", nil)
	}

	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	out := make([]uint8, width*height*4)

	// column lookup is shared by every row
	cols := make([]int, width)
	for x := 0; x < width; x++ {
		cols[x] = b.Min.X + (2*x+1)*srcW/(2*width)
	}

	i := 0
	for y := 0; y < height; y++ {
		sy := b.Min.Y + (2*y+1)*srcH/(2*height)
		for x := 0; x < width; x++ {
			c := color.NRGBAModel.Convert(img.At(cols[x], sy)).(color.NRGBA)
			out[i] = c.R
			out[i+1] = c.G
			out[i+2] = c.B
			out[i+3] = c.A
			i += 4
		}
	}
	return out, nil
}
