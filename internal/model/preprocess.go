package model

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

func DecodeImage(file []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("invalid image format, supported: JPEG, PNG: %w", err)
	}
	return img, nil
}

// Preprocess converts an image to the CHW float32 layout the model expects:
// resized to size x size, scaled to [0,1] and normalized per channel.
func Preprocess(img image.Image, size int, mean, std [3]float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = (float32(r)/65535.0 - mean[0]) / std[0]
			inputData[plane+pixelIndex] = (float32(g)/65535.0 - mean[1]) / std[1]
			inputData[2*plane+pixelIndex] = (float32(b)/65535.0 - mean[2]) / std[2]
		}
	}
	return inputData
}
