package ocr

import (
	"context"
	"errors"
	"log/slog"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/model"
)

// Tier names which recognizer produced a result.
type Tier string

// Recognition tiers.
const (
	TierPrimary        Tier = "primary"
	TierVisionFallback Tier = "vision_fallback"
)

// DefaultConfidenceThreshold is the percentage below which a recognition is
// returned as a draft instead of being accepted.
const DefaultConfidenceThreshold = 70.0

// Outcome is the orchestrator's answer for one image. Draft outcomes carry
// the extraction for manual confirmation and must not be persisted as-is.
type Outcome struct {
	Extraction model.Extraction
	Text       string
	Tier       Tier
	Confidence float64
	Draft      bool
}

// primaryRecognizer is the OCR microservice tier.
type primaryRecognizer interface {
	Process(ctx context.Context, imageBase64 string) (*Result, error)
}

// fallbackRecognizer is the vision-model tier.
type fallbackRecognizer interface {
	Recognize(ctx context.Context, imageBase64, mimeType string) (*Result, error)
}

// auditSink receives stage events. The audit trail satisfies it.
type auditSink interface {
	Emit(ctx context.Context, event *model.StageEvent)
}

// Config tunes the orchestrator.
type Config struct {
	ConfidenceThreshold float64
	FallbackEnabled     bool
}

// Orchestrator runs the two recognition tiers and applies the confidence
// gate. Every outcome, including terminal failures, lands in the audit trail
// with the tier that produced it and the fallback toggle state.
type Orchestrator struct {
	primary  primaryRecognizer
	fallback fallbackRecognizer
	trail    auditSink
	logger   *slog.Logger
	cfg      Config
}

// NewOrchestrator wires the tiers together. fallback may be nil when no
// vision model is configured; the FallbackEnabled toggle is then moot.
func NewOrchestrator(primary primaryRecognizer, fallback fallbackRecognizer, trail auditSink, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		trail:    trail,
		logger:   logger,
		cfg:      cfg,
	}
}

// ProcessImage recognizes one receipt image. The primary tier runs first;
// on any primary failure the vision fallback runs when enabled. Low
// confidence yields a draft outcome rather than an error.
func (o *Orchestrator) ProcessImage(ctx context.Context, imageBase64, mimeType string, source model.Source) (*Outcome, error) {
	tier := TierPrimary
	result, primaryErr := o.primary.Process(ctx, imageBase64)
	if primaryErr != nil {
		if errors.Is(primaryErr, common.ErrNoInput) {
			return nil, primaryErr
		}

		o.emit(ctx, model.StageOCRServiceError, model.StatusError, source, "primary ocr failed", map[string]any{
			"error":            primaryErr.Error(),
			"tier":             string(TierPrimary),
			"fallback_enabled": o.fallbackEnabled(),
		})

		if !o.fallbackEnabled() {
			return nil, o.terminalError(primaryErr)
		}

		o.logger.Warn("primary ocr failed, trying vision fallback", "error", primaryErr)
		var fallbackErr error
		result, fallbackErr = o.fallback.Recognize(ctx, imageBase64, mimeType)
		if fallbackErr != nil {
			o.emit(ctx, model.StageOCRServiceError, model.StatusError, source, "vision fallback failed", map[string]any{
				"error":            fallbackErr.Error(),
				"tier":             string(TierVisionFallback),
				"fallback_enabled": true,
			})
			return nil, o.terminalError(primaryErr)
		}
		tier = TierVisionFallback
	}

	draft := result.Confidence < o.cfg.ConfidenceThreshold

	stage := model.StageOCRProcessed
	if tier == TierVisionFallback {
		stage = model.StageOCRFallback
	}
	status := model.StatusOK
	message := "recognition accepted"
	if draft {
		status = model.StatusWarning
		message = "low confidence, returned as draft"
	}
	o.emit(ctx, stage, status, source, message, map[string]any{
		"tier":             string(tier),
		"confidence":       result.Confidence,
		"classifier":       result.Classifier,
		"fallback_enabled": o.fallbackEnabled(),
	})

	return &Outcome{
		Extraction: o.toExtraction(result, tier, source),
		Text:       result.Text,
		Tier:       tier,
		Confidence: result.Confidence,
		Draft:      draft,
	}, nil
}

func (o *Orchestrator) fallbackEnabled() bool {
	return o.cfg.FallbackEnabled && o.fallback != nil
}

// terminalError classifies the primary failure for the caller: an
// unreachable service suggests retrying as text, a rejected recognition
// suggests a better photo.
func (o *Orchestrator) terminalError(primaryErr error) error {
	if errors.Is(primaryErr, common.ErrUnreachable) {
		return common.NewUserError("Сервис распознавания временно недоступен. Попробуйте отправить текстовое сообщение вместо фото.", primaryErr)
	}
	return common.NewUserError("Не удалось распознать чек. Попробуйте отправить более чёткое фото.", primaryErr)
}

func (o *Orchestrator) toExtraction(result *Result, tier Tier, source model.Source) model.Extraction {
	fields := result.Fields

	rawText := fields.rawText()
	if rawText == "" {
		rawText = result.Text
	}

	var datetime any
	if fields.Datetime != "" {
		datetime = fields.Datetime
	}

	return model.Extraction{
		DateTime:        datetime,
		TransactionType: fields.TransactionType,
		Amount:          fields.Amount,
		IsIncome:        fields.IsIncome,
		Currency:        fields.Currency,
		CardLast4:       fields.cardLast4(),
		Operator:        fields.Operator,
		Balance:         fields.Balance,
		RawText:         rawText,
		Source:          source,
		Metadata: map[string]any{
			"parser":         "ocr",
			"tier":           string(tier),
			"ocr_confidence": result.Confidence,
			"classifier":     result.Classifier,
		},
	}
}

func (o *Orchestrator) emit(ctx context.Context, stage model.Stage, status model.EventStatus, source model.Source, message string, payload map[string]any) {
	if o.trail == nil {
		return
	}
	o.trail.Emit(ctx, &model.StageEvent{
		Stage:   stage,
		Status:  status,
		Source:  source,
		Message: message,
		Payload: payload,
	})
}
