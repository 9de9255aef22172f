package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/ocr"
)

// Status is the dispatcher's verdict for one input.
type Status string

// Dispatch statuses. Draft results carry records that need manual
// confirmation and must not be persisted directly.
const (
	StatusSuccess Status = "success"
	StatusDraft   Status = "draft"
)

// Input is one ingestion request: either text or an encoded image.
type Input struct {
	Metadata    map[string]any
	Text        string
	ImageBase64 string
	MimeType    string
	TraceID     string
	AddedVia    string
	Source      model.Source
}

// Output is the dispatcher's answer: fully normalized records plus, for
// image input, recognition details.
type Output struct {
	Tier       string
	Records    []*model.Record
	Status     Status
	Confidence float64
}

// fastPathExtractor is the zero-cost template tier.
type fastPathExtractor interface {
	Extract(text string, source model.Source) []model.Extraction
}

// TextStrategy is the language-model tier for text input.
type TextStrategy interface {
	ExtractText(ctx context.Context, text string, source model.Source) (model.Extraction, error)
}

// ImageStrategy is the OCR orchestrator for image input.
type ImageStrategy interface {
	ProcessImage(ctx context.Context, imageBase64, mimeType string, source model.Source) (*ocr.Outcome, error)
}

// auditSink receives stage events. The audit trail satisfies it.
type auditSink interface {
	Emit(ctx context.Context, event *model.StageEvent)
}

// Dispatcher routes input across the extraction strategies. Fast-path
// results are authoritative: when the fast path matches, the language model
// is never consulted for that input. Every transition is reported to the
// audit trail: received on entry, normalized per produced record,
// failed_parse when no strategy could extract, failed_validation when an
// extraction could not be normalized.
type Dispatcher struct {
	fastPath   fastPathExtractor
	textModel  TextStrategy
	images     ImageStrategy
	normalizer *Normalizer
	trail      auditSink
	logger     *slog.Logger
}

// NewDispatcher wires the strategies. images may be nil when no OCR service
// is configured; image input then fails with a configuration error. trail
// may be nil in which case no events are emitted.
func NewDispatcher(fastPath fastPathExtractor, textModel TextStrategy, images ImageStrategy, normalizer *Normalizer, trail auditSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		fastPath:   fastPath,
		textModel:  textModel,
		images:     images,
		normalizer: normalizer,
		trail:      trail,
		logger:     logger,
	}
}

func (d *Dispatcher) emit(ctx context.Context, event *model.StageEvent) {
	if d.trail != nil {
		d.trail.Emit(ctx, event)
	}
}

// Extract runs the appropriate strategy chain for the input and normalizes
// every resulting operation.
func (d *Dispatcher) Extract(ctx context.Context, in Input) (*Output, error) {
	if in.ImageBase64 != "" {
		return d.extractImage(ctx, in)
	}
	return d.extractText(ctx, in)
}

func (d *Dispatcher) extractText(ctx context.Context, in Input) (*Output, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, common.ErrNoInput
	}

	d.emit(ctx, &model.StageEvent{
		Stage:   model.StageReceived,
		Status:  model.StatusInfo,
		Source:  in.Source,
		Message: "text input received",
		Payload: map[string]any{"trace_id": in.TraceID, "added_via": in.AddedVia},
	})

	if operations := d.fastPath.Extract(in.Text, in.Source); len(operations) > 0 {
		d.logger.Debug("fast path matched", "operations", len(operations))
		records, err := d.normalizeAll(ctx, in, in.Source, operations)
		if err != nil {
			return nil, err
		}
		return &Output{Records: records, Status: StatusSuccess, Tier: "fastpath"}, nil
	}

	if d.textModel == nil {
		return nil, fmt.Errorf("%w: no language model configured", common.ErrMissingConfig)
	}

	extraction, err := d.textModel.ExtractText(ctx, in.Text, in.Source)
	if err != nil {
		d.emit(ctx, &model.StageEvent{
			Stage:   model.StageFailedParse,
			Status:  model.StatusError,
			Source:  in.Source,
			Message: "language model extraction failed",
			Payload: map[string]any{"error": err.Error(), "tier": "llm"},
		})
		return nil, err
	}

	records, err := d.normalizeAll(ctx, in, in.Source, []model.Extraction{extraction})
	if err != nil {
		return nil, err
	}
	return &Output{Records: records, Status: StatusSuccess, Tier: "llm"}, nil
}

// normalizeAll runs every extracted operation through the shared normalizer,
// reporting each outcome to the trail.
func (d *Dispatcher) normalizeAll(ctx context.Context, in Input, source model.Source, operations []model.Extraction) ([]*model.Record, error) {
	opts := d.options(in)
	opts.Source = source

	records := make([]*model.Record, 0, len(operations))
	for _, op := range operations {
		rec, err := d.normalizer.Normalize(ctx, op, opts)
		if err != nil {
			d.emit(ctx, &model.StageEvent{
				Stage:   model.StageFailedValidation,
				Status:  model.StatusError,
				Source:  source,
				Message: "extracted operation failed normalization",
				Payload: map[string]any{"error": err.Error()},
			})
			return nil, err
		}
		d.emit(ctx, &model.StageEvent{
			RecordID: rec.ID,
			Stage:    model.StageNormalized,
			Status:   model.StatusOK,
			Source:   source,
			Message:  "operation normalized",
		})
		records = append(records, rec)
	}
	return records, nil
}

func (d *Dispatcher) extractImage(ctx context.Context, in Input) (*Output, error) {
	if d.images == nil {
		return nil, fmt.Errorf("%w: no ocr service configured", common.ErrMissingConfig)
	}

	source := in.Source
	if source == "" {
		source = model.SourcePhoto
	}

	d.emit(ctx, &model.StageEvent{
		Stage:   model.StageReceived,
		Status:  model.StatusInfo,
		Source:  source,
		Message: "image input received",
		Payload: map[string]any{"trace_id": in.TraceID, "added_via": in.AddedVia},
	})

	// Recognition failures are audited by the orchestrator itself, per tier.
	outcome, err := d.images.ProcessImage(ctx, in.ImageBase64, in.MimeType, source)
	if err != nil {
		return nil, err
	}

	records, err := d.normalizeAll(ctx, in, source, []model.Extraction{outcome.Extraction})
	if err != nil {
		return nil, err
	}

	status := StatusSuccess
	if outcome.Draft {
		status = StatusDraft
	}
	return &Output{
		Records:    records,
		Status:     status,
		Tier:       string(outcome.Tier),
		Confidence: outcome.Confidence,
	}, nil
}

func (d *Dispatcher) options(in Input) Options {
	return Options{
		TraceID:  in.TraceID,
		AddedVia: in.AddedVia,
		Source:   in.Source,
		Metadata: in.Metadata,
	}
}
