package providers

import (
	"context"

	"github.com/ncecere/speech_relay/internal/models"
)

// Recognizer runs one recognition pass against a readable audio file.
type Recognizer interface {
	Recognize(ctx context.Context, req models.RecognitionRequest) (models.RecognitionPass, error)
}
