// Package fastpath recognizes rigid bank notification templates with plain
// pattern matching, so well-formed SMS traffic never pays for a model call.
package fastpath

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/worq1337/parcer-sub000/internal/model"
)

const uzumAppName = "Uzum Bank"

// Transaction type labels produced by the fast path. The same labels are
// what the post-processing normalizer maps model output onto.
const (
	TypePayment = "Оплата"
	TypeTopUp   = "Пополнение"
)

var (
	otpPrefixRe = regexp.MustCompile(`(?i)^<#>\s*Uzum\s*bank\s+Podtverdite`)
	debitRe     = regexp.MustCompile(`(?i)Spisanie,\s*karta\s*\*{0,4}(\d{4})\s*:\s*([\d.,]+)\s*UZS,\s*(.+?)\.\s*Dostupno:\s*([\d.,]+)\s*UZS`)
	creditRe    = regexp.MustCompile(`(?i)Popolnenie\s+ot\s+(.+?)\s+na\s*([\d.,]+)\s*UZS.*karta\s*\*{0,4}(\d{4}).*Dostupno:\s*([\d.,]+)\s*UZS`)
	p2pRe       = regexp.MustCompile(`(?i)\bto\s+(HUMO|UZCARD|VISAUZUM)\b`)
)

// Extractor matches known SMS templates line by line. It is stateless and
// makes no external calls.
type Extractor struct {
	now func() time.Time
}

// NewExtractor creates a fast-path extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract scans the text line by line and returns one extraction per matched
// transaction. A multi-line message yields multiple extractions. An empty
// slice means the fast path does not recognize the input.
func (e *Extractor) Extract(text string, source model.Source) []model.Extraction {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if source == "" {
		source = model.SourceSMS
	}

	var operations []model.Extraction
	for index, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || otpPrefixRe.MatchString(line) {
			continue
		}

		if op, ok := e.matchDebit(line, index, source); ok {
			operations = append(operations, op)
			continue
		}
		if op, ok := e.matchCredit(line, index, source); ok {
			operations = append(operations, op)
		}
	}
	return operations
}

func (e *Extractor) matchDebit(line string, index int, source model.Source) (model.Extraction, bool) {
	m := debitRe.FindStringSubmatch(line)
	if m == nil {
		return model.Extraction{}, false
	}

	amount, ok := parseMoney(m[2])
	if !ok {
		// Malformed amounts are skipped, never defaulted to zero.
		return model.Extraction{}, false
	}

	op := e.baseExtraction(line, index, source, "debit")
	op.TransactionType = TypePayment
	op.Amount = amount
	op.CardLast4 = m[1]
	op.Operator = fallbackName(sanitizeOperator(m[3]))
	if balance, ok := parseMoney(m[4]); ok {
		op.Balance = &balance
	}
	return op, true
}

func (e *Extractor) matchCredit(line string, index int, source model.Source) (model.Extraction, bool) {
	m := creditRe.FindStringSubmatch(line)
	if m == nil {
		return model.Extraction{}, false
	}

	amount, ok := parseMoney(m[2])
	if !ok {
		return model.Extraction{}, false
	}

	op := e.baseExtraction(line, index, source, "credit")
	op.TransactionType = TypeTopUp
	op.Amount = amount
	op.Operator = fallbackName(sanitizeOperator(m[1]))
	op.CardLast4 = m[3]
	if balance, ok := parseMoney(m[4]); ok {
		op.Balance = &balance
	}
	return op, true
}

func (e *Extractor) baseExtraction(line string, index int, source model.Source, direction string) model.Extraction {
	income := direction == "credit"
	isP2P := p2pRe.MatchString(line)
	return model.Extraction{
		DateTime: e.now(),
		IsIncome: &income,
		IsP2P:    &isP2P,
		Currency: "UZS",
		RawText:  line,
		Source:   source,
		AddedVia: "bot",
		Metadata: map[string]any{
			"parser":    "uzumbank_sms",
			"direction": direction,
			"index":     index,
		},
	}
}

// parseMoney accepts "50000.00", "1 234,56" and similar renderings.
func parseMoney(raw string) (float64, bool) {
	normalized := strings.ReplaceAll(raw, " ", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	if strings.Count(normalized, ".") > 1 {
		return 0, false
	}
	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func sanitizeOperator(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	cleaned = strings.TrimRight(cleaned, ".,")
	return strings.TrimSpace(cleaned)
}

func fallbackName(name string) string {
	if name == "" {
		return uzumAppName
	}
	return name
}
