// Package model defines the core domain entities of the ingestion pipeline.
package model

import (
	"strings"
	"time"
)

// Source identifies the channel a record arrived from.
type Source string

// Known ingestion channels.
const (
	SourceTelegram Source = "telegram"
	SourceSMS      Source = "sms"
	SourceManual   Source = "manual"
	SourcePhoto    Source = "photo"
)

// NormalizeSource maps free-form channel hints to a known Source.
// Unknown values fall back to manual.
func NormalizeSource(raw string) Source {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "telegram", "tg", "telegram_bot", "chat":
		return SourceTelegram
	case "sms", "text", "smstext":
		return SourceSMS
	case "photo", "image", "ocr", "scan":
		return SourcePhoto
	default:
		return SourceManual
	}
}

// Record is a normalized, persisted transaction built from one piece of
// evidence (SMS, chat message, manual entry, or receipt photo).
type Record struct {
	DateTime    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]any
	Balance     *float64
	ID          string
	Weekday     string
	DateDisplay string
	TimeDisplay string
	Operator    string
	App         string
	CardLast4   string
	Type        string
	Currency    string
	RawText     string
	Fingerprint string
	DuplicateOf string
	Source      Source
	AddedVia    string
	Amount      float64
	IsP2P       bool
	IsDuplicate bool
}

// Debit reports whether the record represents an outflow.
func (r *Record) Debit() bool {
	return r.Amount < 0
}
