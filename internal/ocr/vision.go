package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/llm"
)

const visionSystemPrompt = "Ты OCR-ассистент. Извлекай текст чеков и возвращай только корректный JSON."

const visionUserPrompt = `Распознай чек на изображении и верни JSON строго такого вида:
{
  "text": "весь распознанный текст чека",
  "confidence": 0-100,
  "fields": {
    "datetime": "YYYY-MM-DD HH:MM:SS",
    "transactionType": "string",
    "amount": number,
    "isIncome": boolean,
    "currency": "string",
    "cardLast4": "string",
    "operator": "string",
    "balance": number
  }
}

Правила:
- Суммы извлекай как числа без пробелов и запятых тысяч.
- Последние 4 цифры карты извлекай из *XXXX или ***XXXX.
- Если уверенность низкая, все равно заполни поля, но поставь confidence <= 40.`

// visionCompleter is the slice of the llm client the fallback needs.
type visionCompleter interface {
	CompleteVision(ctx context.Context, messages []llm.Message) (string, error)
}

// VisionStrategy recognizes a receipt with a vision-capable language model.
// It is the secondary tier behind the OCR microservice.
type VisionStrategy struct {
	client visionCompleter
}

// NewVisionStrategy creates the fallback recognizer.
func NewVisionStrategy(client visionCompleter) *VisionStrategy {
	return &VisionStrategy{client: client}
}

type visionReply struct {
	Fields     *fieldPayload `json:"fields"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
}

// Recognize submits the image and parses the structured reply.
func (v *VisionStrategy) Recognize(ctx context.Context, imageBase64, mimeType string) (*Result, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return nil, common.ErrNoInput
	}
	if mimeType == "" {
		mimeType = "image/png"
	}

	messages := []llm.Message{
		llm.TextMessage("system", visionSystemPrompt),
		llm.VisionMessage(visionUserPrompt, fmt.Sprintf("data:%s;base64,%s", mimeType, imageBase64)),
	}

	content, err := v.client.CompleteVision(ctx, messages)
	if err != nil {
		return nil, err
	}

	cleaned := llm.StripMarkdownFences(content)
	var reply visionReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}
	if reply.Fields == nil {
		return nil, fmt.Errorf("%w: vision reply carries no fields", common.ErrSchemaViolation)
	}

	return &Result{
		Text:       strings.TrimSpace(reply.Text),
		Confidence: clampConfidence(reply.Confidence),
		Classifier: "GPTVisionFallback",
		Fields:     *reply.Fields,
	}, nil
}

func clampConfidence(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
