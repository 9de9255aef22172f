package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/service"
)

const systemPrompt = `Ты - эксперт по парсингу банковских уведомлений узбекских банков.
Твоя задача - извлечь структурированные данные из текста транзакции.
Отвечай ТОЛЬКО валидным JSON без дополнительных комментариев.`

// Strategy submits raw text to the language model and maps the reply onto
// the extraction schema. Invoked only when the fast path found nothing.
type Strategy struct {
	client    *Client
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// NewStrategy creates the language-model extraction strategy.
func NewStrategy(client *Client, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		client:    client,
		logger:    logger,
		retryOpts: service.DefaultRetryOptions(),
	}
}

// extractionPayload is the field schema the model is asked to fill.
type extractionPayload struct {
	IsIncome        *bool    `json:"isIncome"`
	Balance         *float64 `json:"balance"`
	Datetime        string   `json:"datetime"`
	TransactionType string   `json:"transactionType"`
	Currency        string   `json:"currency"`
	CardLast4       string   `json:"cardLast4"`
	Operator        string   `json:"operator"`
	Amount          float64  `json:"amount"`
}

// ExtractText asks the model to parse the notification text. Transient
// provider failures are retried with exponential backoff; rate limits wait
// for the provider's hint. Parse and schema failures are not retried.
func (s *Strategy) ExtractText(ctx context.Context, text string, source model.Source) (model.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return model.Extraction{}, common.ErrNoInput
	}

	messages := []Message{
		TextMessage("system", systemPrompt),
		TextMessage("user", buildPrompt(text, source)),
	}

	var content string
	err := common.WithRetry(ctx, func() error {
		var callErr error
		content, callErr = s.client.Complete(ctx, messages)
		return callErr
	}, s.retryOpts)
	if err != nil {
		return model.Extraction{}, s.wrapProviderError(err)
	}

	return s.parsePayload(content, text, source)
}

func (s *Strategy) parsePayload(content, rawText string, source model.Source) (model.Extraction, error) {
	cleaned := StripMarkdownFences(content)
	if cleaned == "" {
		return model.Extraction{}, common.ErrEmptyResponse
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return model.Extraction{}, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}

	if payload.Amount == 0 && payload.TransactionType == "" && payload.Operator == "" {
		return model.Extraction{}, fmt.Errorf("%w: no transaction fields in reply", common.ErrSchemaViolation)
	}

	var datetime any
	if payload.Datetime != "" {
		datetime = payload.Datetime
	}

	return model.Extraction{
		DateTime:        datetime,
		TransactionType: payload.TransactionType,
		Amount:          payload.Amount,
		IsIncome:        payload.IsIncome,
		Currency:        payload.Currency,
		CardLast4:       payload.CardLast4,
		Operator:        payload.Operator,
		Balance:         payload.Balance,
		RawText:         rawText,
		Source:          source,
		Metadata: map[string]any{
			"parser": "llm",
			"model":  s.client.model,
		},
	}, nil
}

// wrapProviderError attaches human-actionable guidance to exhausted-retry
// failures so callers can show the user something better than a stack of
// wrapped errors.
func (s *Strategy) wrapProviderError(err error) error {
	var rateErr *common.RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.RetryAfter > 0 {
			return common.NewUserError(
				fmt.Sprintf("Лимит запросов к модели временно превышен. Повторите попытку через ~%d секунд.", int(rateErr.RetryAfter.Seconds())),
				err)
		}
		return common.NewUserError("Лимит запросов к модели временно превышен. Повторите попытку немного позже.", err)
	}
	if errors.Is(err, common.ErrUnreachable) {
		return common.NewUserError("Сервис распознавания временно недоступен. Попробуйте позже.", err)
	}
	return err
}

func buildPrompt(text string, source model.Source) string {
	return fmt.Sprintf(`
Распарси следующее банковское уведомление и верни данные в формате JSON.

Текст сообщения (источник: %s):
%s

Верни JSON со следующими полями:
{
  "datetime": "YYYY-MM-DD HH:MM:SS",
  "transactionType": "string",
  "amount": number,
  "isIncome": boolean,
  "currency": "string",
  "cardLast4": "string",
  "operator": "string",
  "balance": number
}

Важные правила:
1. Дату в формате "25-04-06" преобразуй в "2025-04-06"
2. Дату в формате "06.04.25" преобразуй в "2025-04-06"
3. Дату в формате "01-APR-2025" преобразуй в "2025-04-01"
4. Суммы извлекай как числа без пробелов и запятых тысяч
5. Последние 4 цифры карты извлекай из *XXXX или ***XXXX
6. Оператор - это то, что идет после 📍 в Telegram или после двоеточия в SMS
7. isIncome = true если есть ➕ или "Пополнение" или "popolnenie"
8. isIncome = false если есть ➖ или "Оплата" или "Покупка" или "Списание" или "oplata" или "pokupka" или "spisanie"
9. Для OTMENA (отмена) - это возврат средств, isIncome = true, transactionType = "Возврат"
10. transactionType нормализуй: "Pokupka" -> "Оплата", "Popolnenie" -> "Пополнение", "Spisanie" -> "Списание", "Platezh" -> "Платеж"
`, source, text)
}

var (
	fenceOpenRe  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```$")
)

// StripMarkdownFences removes a wrapping ```json code fence, which models
// emit even when told not to.
func StripMarkdownFences(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = fenceOpenRe.ReplaceAllString(trimmed, "")
	trimmed = fenceCloseRe.ReplaceAllString(trimmed, "")
	return strings.TrimSpace(trimmed)
}
