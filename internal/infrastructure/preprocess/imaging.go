package preprocess

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessor normalizes scans before recognition: grayscale, contrast
// stretch, light denoise, and a dimension cap so pathological uploads cannot
// stall the OCR engine.
type Preprocessor struct {
	maxDimension int
}

func New(maxDimension int) *Preprocessor {
	if maxDimension <= 0 {
		maxDimension = 4000
	}
	return &Preprocessor{maxDimension: maxDimension}
}

// Prepare returns the normalized image as PNG along with the final dimensions.
func (p *Preprocessor) Prepare(raw []byte) ([]byte, int, int, error) {
	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 20)
	// Mild blur knocks out scanner noise without smearing glyph edges.
	img = imaging.Blur(img, 0.5)

	bounds := img.Bounds()
	if bounds.Dx() > p.maxDimension || bounds.Dy() > p.maxDimension {
		img = imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)
		bounds = img.Bounds()
	}

	encoded, err := encodePNG(img)
	if err != nil {
		return nil, 0, 0, err
	}
	return encoded, bounds.Dx(), bounds.Dy(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
