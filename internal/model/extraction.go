package model

// Extraction is the raw output of a single extraction strategy before
// post-processing. Amount carries the magnitude as extracted; sign is
// resolved later from IsIncome (or from the amount's own sign when the
// strategy could not tell).
type Extraction struct {
	// DateTime accepts whatever the strategy produced: an ISO string, an
	// epoch number, a time.Time, or nil for "now".
	DateTime any

	IsIncome *bool
	Balance  *float64
	// IsP2P is set when the strategy classified the transfer itself;
	// nil defers classification to the operator directory.
	IsP2P *bool

	TransactionType string
	Currency        string
	CardLast4       string
	Operator        string
	RawText         string
	AddedVia        string
	Source          Source

	Metadata map[string]any

	Amount float64
}
