package detector

import (
	"image"

	"github.com/terra-ai/eco-verify/internal/imaging"
)

// Preprocess resamples img to size x size and returns the model input tensor:
// RGB scaled to [0,1], laid out channel-major (every red value, then every green,
// then every blue). The result has length 3*size*size.
func Preprocess(img image.Image, size int) ([]float32, error) {
	px, err := imaging.SampleRGBA(img, size, size)
	if err != nil {
		return nil, err
	}

	plane := size * size
	tensor := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		tensor[i] = float32(px[i*4]) / 255
		tensor[plane+i] = float32(px[i*4+1]) / 255
		tensor[2*plane+i] = float32(px[i*4+2]) / 255
	}
	return tensor, nil
}
