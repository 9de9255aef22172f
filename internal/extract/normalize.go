package extract

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/worq1337/parcer-sub000/internal/fingerprint"
	"github.com/worq1337/parcer-sub000/internal/model"
	"github.com/worq1337/parcer-sub000/internal/timeparse"
)

// OperatorResolver looks up free-text operator names in the directory.
type OperatorResolver interface {
	Resolve(ctx context.Context, text string) (*model.Operator, error)
}

// Options carries caller-supplied context for normalization.
type Options struct {
	Metadata map[string]any
	TraceID  string
	AddedVia string
	Source   model.Source
}

// Normalizer is the shared post-processing step applied to every strategy's
// output before dedup and persistence.
type Normalizer struct {
	resolver OperatorResolver
	logger   *slog.Logger
}

// NewNormalizer creates the shared normalizer.
func NewNormalizer(resolver OperatorResolver, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{resolver: resolver, logger: logger}
}

// Normalize turns a raw extraction into a record ready for dedup and insert.
// Amount sign comes from the income flag when the strategy or type table
// provides one, otherwise from the extracted amount's own sign.
func (n *Normalizer) Normalize(ctx context.Context, ex model.Extraction, opts Options) (*model.Record, error) {
	parts := timeparse.Resolve(ex.DateTime)

	label, typeIncome := MapTransactionType(ex.TransactionType)
	income := ex.IsIncome
	if income == nil {
		income = typeIncome
	}

	magnitude := math.Abs(ex.Amount)
	amount := magnitude
	switch {
	case income != nil && !*income:
		amount = -magnitude
	case income == nil && ex.Amount < 0:
		amount = -magnitude
	}

	card := fingerprint.NormalizeCard(ex.CardLast4)
	if card == "" {
		card = strings.TrimSpace(ex.CardLast4)
	}

	operatorName := strings.TrimSpace(ex.Operator)
	var app string
	isP2P := strings.Contains(strings.ToUpper(operatorName), "P2P")
	if n.resolver != nil && operatorName != "" {
		directoryEntry, err := n.resolver.Resolve(ctx, operatorName)
		switch {
		case err != nil:
			// The directory is a separate collaborator; an outage must not
			// block ingestion. The record keeps the raw operator name.
			n.logger.Warn("operator directory lookup failed",
				"operator", operatorName,
				"error", err)
		case directoryEntry != nil:
			app = directoryEntry.AppName
			isP2P = directoryEntry.IsP2P
		}
	}
	if ex.IsP2P != nil {
		isP2P = *ex.IsP2P
	}

	source := ex.Source
	if opts.Source != "" {
		source = opts.Source
	}
	addedVia := ex.AddedVia
	if opts.AddedVia != "" {
		addedVia = opts.AddedVia
	}
	if addedVia == "" {
		addedVia = "bot"
	}

	metadata := mergeMetadata(ex.Metadata, opts.Metadata)
	if opts.TraceID != "" {
		metadata["trace_id"] = opts.TraceID
	}

	return &model.Record{
		ID:          uuid.NewString(),
		DateTime:    parts.Time,
		Weekday:     parts.Weekday,
		DateDisplay: parts.DateDisplay,
		TimeDisplay: parts.TimeDisplay,
		Operator:    operatorName,
		App:         app,
		Amount:      amount,
		Balance:     ex.Balance,
		CardLast4:   card,
		IsP2P:       isP2P,
		Type:        label,
		Currency:    defaultCurrency(ex.Currency),
		Source:      source,
		RawText:     ex.RawText,
		Metadata:    metadata,
		AddedVia:    addedVia,
	}, nil
}

// mergeMetadata overlays caller metadata on extractor metadata. The result
// is always a fresh map.
func mergeMetadata(extracted, supplied map[string]any) map[string]any {
	merged := make(map[string]any, len(extracted)+len(supplied)+1)
	for k, v := range extracted {
		merged[k] = v
	}
	for k, v := range supplied {
		merged[k] = v
	}
	return merged
}

func defaultCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "UZS"
	}
	return currency
}
