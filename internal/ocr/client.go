// Package ocr turns receipt images into extractions, using a dedicated OCR
// microservice first and a vision-capable language model as fallback.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worq1337/parcer-sub000/internal/common"
)

// Result is the outcome of one recognition tier before normalization.
type Result struct {
	Fields     fieldPayload
	Text       string
	Classifier string
	Confidence float64
}

// fieldPayload is the structured field set every tier returns. Snake-case
// aliases appear in primary-service replies.
type fieldPayload struct {
	IsIncome        *bool    `json:"isIncome"`
	Balance         *float64 `json:"balance"`
	Datetime        string   `json:"datetime"`
	TransactionType string   `json:"transactionType"`
	Currency        string   `json:"currency"`
	CardLast4       string   `json:"cardLast4"`
	CardLast4Alt    string   `json:"card_last4"`
	Operator        string   `json:"operator"`
	RawText         string   `json:"rawText"`
	RawTextAlt      string   `json:"raw_text"`
	Amount          float64  `json:"amount"`
}

func (p fieldPayload) cardLast4() string {
	if p.CardLast4 != "" {
		return p.CardLast4
	}
	return p.CardLast4Alt
}

func (p fieldPayload) rawText() string {
	if p.RawText != "" {
		return p.RawText
	}
	return p.RawTextAlt
}

// Client calls the primary OCR microservice.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a primary OCR client. The timeout bounds the whole
// request including image upload and recognition.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: ocr.url is required", common.ErrMissingConfig)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type processRequest struct {
	Image      string `json:"image"`
	Preprocess bool   `json:"preprocess"`
}

type processResponse struct {
	Error     string `json:"error"`
	Status    string `json:"status"`
	OCRResult struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"ocr_result"`
	ParsedData struct {
		Data       fieldPayload `json:"data"`
		Classifier string       `json:"classifier"`
		Confidence float64      `json:"confidence"`
	} `json:"parsed_data"`
	Success bool `json:"success"`
}

// Process submits a base64-encoded image. A refused recognition (the service
// answered but could not read the receipt) returns ErrMalformedResponse;
// transport and server failures return ErrUnreachable so the orchestrator
// can suggest retrying as text.
func (c *Client) Process(ctx context.Context, imageBase64 string) (*Result, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return nil, common.ErrNoInput
	}

	body, err := json.Marshal(processRequest{Image: imageBase64, Preprocess: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr/process", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: ocr service returned status %d", common.ErrUnreachable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ocr service returned status %d: %s", common.ErrMalformedResponse, resp.StatusCode, string(data))
	}

	var parsed processResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedResponse, err)
	}

	if !parsed.Success {
		reason := parsed.Error
		if reason == "" {
			reason = "receipt not recognized"
		}
		return nil, fmt.Errorf("%w: %s", common.ErrMalformedResponse, reason)
	}

	confidence := parsed.ParsedData.Confidence
	if confidence == 0 {
		confidence = parsed.OCRResult.Confidence
	}

	return &Result{
		Text:       parsed.OCRResult.Text,
		Confidence: confidence,
		Classifier: parsed.ParsedData.Classifier,
		Fields:     parsed.ParsedData.Data,
	}, nil
}
