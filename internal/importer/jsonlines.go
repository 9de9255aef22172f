package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// JSONLinesParser reads exported records, one JSON object per line. Blank
// lines and #-comments are skipped.
type JSONLinesParser struct{}

// NewJSONLinesParser creates a JSON-lines parser.
func NewJSONLinesParser() *JSONLinesParser {
	return &JSONLinesParser{}
}

type jsonLine struct {
	IsIncome        *bool    `json:"isIncome"`
	Balance         *float64 `json:"balance"`
	Datetime        string   `json:"datetime"`
	TransactionType string   `json:"transactionType"`
	Currency        string   `json:"currency"`
	CardLast4       string   `json:"cardLast4"`
	Operator        string   `json:"operator"`
	RawText         string   `json:"rawText"`
	Source          string   `json:"source"`
	Amount          float64  `json:"amount"`
}

// Parse converts every line into an extraction. A malformed line fails the
// whole file: silent partial imports hide data loss.
func (p *JSONLinesParser) Parse(reader io.Reader) ([]model.Extraction, error) {
	var extractions []model.Extraction

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parsed jsonLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNo, err)
		}
		if parsed.Amount == 0 && parsed.TransactionType == "" {
			return nil, fmt.Errorf("line %d: no transaction fields", lineNo)
		}

		var datetime any
		if parsed.Datetime != "" {
			datetime = parsed.Datetime
		}

		extractions = append(extractions, model.Extraction{
			DateTime:        datetime,
			TransactionType: parsed.TransactionType,
			Amount:          parsed.Amount,
			IsIncome:        parsed.IsIncome,
			Currency:        parsed.Currency,
			CardLast4:       parsed.CardLast4,
			Operator:        parsed.Operator,
			Balance:         parsed.Balance,
			RawText:         parsed.RawText,
			Source:          model.NormalizeSource(parsed.Source),
			AddedVia:        "import",
			Metadata: map[string]any{
				"importer": "jsonl",
				"line":     lineNo,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	return extractions, nil
}
