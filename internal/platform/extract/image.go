package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
)

// DefaultThreshold is the luminance cut-off used to binarise scans.
const DefaultThreshold uint8 = 150

// Binarize converts img to grayscale and maps every pixel brighter than
// threshold to white and everything else to black.
func Binarize(img image.Image, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			lum := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			if lum > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

// PrepareImage decodes a PNG or JPEG, binarises it and re-encodes it as PNG
// ready for OCR.
func PrepareImage(content []byte, threshold uint8) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, Binarize(img, threshold)); err != nil {
		return nil, fmt.Errorf("encode binarised image: %w", err)
	}
	return buf.Bytes(), nil
}
