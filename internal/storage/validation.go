// Package storage provides the data persistence layer for the ingestion pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/worq1337/parcer-sub000/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidEvent  = errors.New("invalid stage event")
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRecord(rec *model.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRecord)
	}
	if rec.DateTime.IsZero() {
		return fmt.Errorf("%w: missing datetime", ErrInvalidRecord)
	}
	if math.IsNaN(rec.Amount) || math.IsInf(rec.Amount, 0) {
		return fmt.Errorf("%w: amount is not finite", ErrInvalidRecord)
	}
	if rec.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrInvalidRecord)
	}
	return nil
}

func validateStageEvent(event *model.StageEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.Stage == "" {
		return fmt.Errorf("%w: missing stage", ErrInvalidEvent)
	}
	if event.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidEvent)
	}
	return nil
}
