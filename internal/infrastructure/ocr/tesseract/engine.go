package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/fundlane/mca-backend/internal/core/domain"
)

const engineName = "tesseract"

// Engine runs Tesseract through gosseract. A fresh client per invocation
// keeps the cgo handle lifecycle simple; clients are not safe to share.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func New(languages string) *Engine {
	langs := strings.Split(languages, "+")
	if len(langs) == 1 && langs[0] == "" {
		langs = []string{"eng"}
	}
	return &Engine{
		languages:     langs,
		clientFactory: gosseract.NewClient,
	}
}

func (e *Engine) Recognize(ctx context.Context, image []byte) (domain.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(image); err != nil {
		return domain.Extraction{}, fmt.Errorf("set image: %w", err)
	}
	if err := client.SetLanguage(e.languages...); err != nil {
		return domain.Extraction{}, fmt.Errorf("set languages: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("recognize text: %w", err)
	}

	return domain.Extraction{
		Text:            strings.TrimSpace(text),
		WordConfidences: wordConfidences(client),
		Engine:          engineName,
	}, nil
}

// wordConfidences collects per-word confidences on Tesseract's native 0..100
// scale. Words the engine could not rate keep the -1 sentinel; the scorer
// filters them out.
func wordConfidences(client *gosseract.Client) []float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil
	}
	confidences := make([]float64, 0, len(boxes))
	for _, box := range boxes {
		if strings.TrimSpace(box.Word) == "" {
			continue
		}
		confidences = append(confidences, box.Confidence)
	}
	return confidences
}
