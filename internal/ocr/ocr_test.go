package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worq1337/parcer-sub000/internal/common"
	"github.com/worq1337/parcer-sub000/internal/llm"
	"github.com/worq1337/parcer-sub000/internal/model"
)

const testImage = "aGVsbG8="

func newTestOCRClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)
	return client
}

func primaryBody(confidence float64) string {
	return fmt.Sprintf(`{
		"success": true,
		"ocr_result": {"text": "Оплата 50000 UZS Makro", "confidence": %f},
		"parsed_data": {
			"classifier": "ReceiptV2",
			"confidence": %f,
			"data": {
				"datetime": "2025-04-06 10:30:00",
				"transactionType": "Оплата",
				"amount": 50000,
				"isIncome": false,
				"currency": "UZS",
				"card_last4": "1234",
				"operator": "Makro"
			}
		}
	}`, confidence, confidence)
}

func TestClientProcessSuccess(t *testing.T) {
	var gotPath string
	client := newTestOCRClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, primaryBody(92))
	})

	result, err := client.Process(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, "/ocr/process", gotPath)
	assert.Equal(t, 92.0, result.Confidence)
	assert.Equal(t, "ReceiptV2", result.Classifier)
	assert.Equal(t, "1234", result.Fields.cardLast4())
	assert.Equal(t, 50000.0, result.Fields.Amount)
}

func TestClientProcessEmptyImage(t *testing.T) {
	client := newTestOCRClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Process(context.Background(), "  ")
	assert.ErrorIs(t, err, common.ErrNoInput)
}

func TestClientProcessRecognitionRejected(t *testing.T) {
	client := newTestOCRClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error": "blurry image"}`)
	})

	_, err := client.Process(context.Background(), testImage)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "blurry image")
}

func TestClientProcessServerErrorIsUnreachable(t *testing.T) {
	client := newTestOCRClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Process(context.Background(), testImage)
	assert.ErrorIs(t, err, common.ErrUnreachable)
}

func TestClientProcessConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)
	server.Close()

	_, err = client.Process(context.Background(), testImage)
	assert.ErrorIs(t, err, common.ErrUnreachable)
}

// stubPrimary lets tests script the microservice tier.
type stubPrimary struct {
	result *Result
	err    error
	calls  int
}

func (s *stubPrimary) Process(context.Context, string) (*Result, error) {
	s.calls++
	return s.result, s.err
}

// stubFallback scripts the vision tier.
type stubFallback struct {
	result *Result
	err    error
	calls  int
}

func (s *stubFallback) Recognize(context.Context, string, string) (*Result, error) {
	s.calls++
	return s.result, s.err
}

// recordingSink captures emitted stage events.
type recordingSink struct {
	events []*model.StageEvent
}

func (r *recordingSink) Emit(_ context.Context, event *model.StageEvent) {
	r.events = append(r.events, event)
}

func goodResult(confidence float64) *Result {
	return &Result{
		Text:       "Оплата 50000 UZS Makro",
		Confidence: confidence,
		Classifier: "ReceiptV2",
		Fields: fieldPayload{
			Datetime:        "2025-04-06 10:30:00",
			TransactionType: "Оплата",
			Amount:          50000,
			CardLast4:       "1234",
			Operator:        "Makro",
			Currency:        "UZS",
		},
	}
}

func TestOrchestratorPrimarySuccess(t *testing.T) {
	sink := &recordingSink{}
	fallback := &stubFallback{}
	o := NewOrchestrator(&stubPrimary{result: goodResult(90)}, fallback, sink, Config{FallbackEnabled: true}, nil)

	outcome, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
	require.NoError(t, err)

	assert.Equal(t, TierPrimary, outcome.Tier)
	assert.False(t, outcome.Draft)
	assert.Equal(t, 90.0, outcome.Confidence)
	assert.Equal(t, "Makro", outcome.Extraction.Operator)
	assert.Equal(t, "ocr", outcome.Extraction.Metadata["parser"])
	assert.Equal(t, 0, fallback.calls)

	require.Len(t, sink.events, 1)
	assert.Equal(t, model.StageOCRProcessed, sink.events[0].Stage)
	assert.Equal(t, model.StatusOK, sink.events[0].Status)
	assert.Equal(t, "primary", sink.events[0].Payload["tier"])
}

func TestOrchestratorLowConfidenceDraft(t *testing.T) {
	sink := &recordingSink{}
	o := NewOrchestrator(&stubPrimary{result: goodResult(40)}, nil, sink, Config{}, nil)

	outcome, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
	require.NoError(t, err)

	assert.True(t, outcome.Draft)
	require.Len(t, sink.events, 1)
	assert.Equal(t, model.StatusWarning, sink.events[0].Status)
}

func TestOrchestratorFallbackOnPrimaryFailure(t *testing.T) {
	sink := &recordingSink{}
	primary := &stubPrimary{err: fmt.Errorf("%w: connection refused", common.ErrUnreachable)}
	fallback := &stubFallback{result: func() *Result {
		r := goodResult(85)
		r.Classifier = "GPTVisionFallback"
		return r
	}()}

	o := NewOrchestrator(primary, fallback, sink, Config{FallbackEnabled: true}, nil)

	outcome, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
	require.NoError(t, err)

	assert.Equal(t, TierVisionFallback, outcome.Tier)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "vision_fallback", outcome.Extraction.Metadata["tier"])

	require.Len(t, sink.events, 2)
	assert.Equal(t, model.StageOCRServiceError, sink.events[0].Stage)
	assert.Equal(t, true, sink.events[0].Payload["fallback_enabled"])
	assert.Equal(t, model.StageOCRFallback, sink.events[1].Stage)
}

func TestOrchestratorFallbackDisabled(t *testing.T) {
	sink := &recordingSink{}
	primary := &stubPrimary{err: fmt.Errorf("%w: connection refused", common.ErrUnreachable)}
	fallback := &stubFallback{result: goodResult(85)}

	o := NewOrchestrator(primary, fallback, sink, Config{FallbackEnabled: false}, nil)

	_, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
	require.Error(t, err)
	assert.Equal(t, 0, fallback.calls)
	assert.ErrorIs(t, err, common.ErrUnreachable)
	assert.Contains(t, common.UserMessage(err), "текстовое сообщение")

	require.Len(t, sink.events, 1)
	assert.Equal(t, false, sink.events[0].Payload["fallback_enabled"])
}

func TestOrchestratorBothTiersFail(t *testing.T) {
	t.Run("unavailable suggests text", func(t *testing.T) {
		sink := &recordingSink{}
		primary := &stubPrimary{err: fmt.Errorf("%w: timeout", common.ErrUnreachable)}
		fallback := &stubFallback{err: errors.New("vision broke")}
		o := NewOrchestrator(primary, fallback, sink, Config{FallbackEnabled: true}, nil)

		_, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrUnreachable)
		assert.Contains(t, common.UserMessage(err), "текстовое сообщение")
		require.Len(t, sink.events, 2)
	})

	t.Run("rejected suggests better photo", func(t *testing.T) {
		sink := &recordingSink{}
		primary := &stubPrimary{err: fmt.Errorf("%w: blurry", common.ErrMalformedResponse)}
		fallback := &stubFallback{err: errors.New("vision broke")}
		o := NewOrchestrator(primary, fallback, sink, Config{FallbackEnabled: true}, nil)

		_, err := o.ProcessImage(context.Background(), testImage, "image/png", model.SourcePhoto)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMalformedResponse)
		assert.Contains(t, common.UserMessage(err), "фото")
	})
}

// stubCompleter scripts the vision model for VisionStrategy tests.
type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) CompleteVision(context.Context, []llm.Message) (string, error) {
	return s.content, s.err
}

func TestVisionStrategyRecognize(t *testing.T) {
	v := NewVisionStrategy(&stubCompleter{content: "```json\n" + `{
		"text": "Оплата 50000 UZS",
		"confidence": 88,
		"fields": {
			"transactionType": "Оплата",
			"amount": 50000,
			"cardLast4": "1234",
			"operator": "Makro"
		}
	}` + "\n```"})

	result, err := v.Recognize(context.Background(), testImage, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, 88.0, result.Confidence)
	assert.Equal(t, "GPTVisionFallback", result.Classifier)
	assert.Equal(t, "1234", result.Fields.cardLast4())
}

func TestVisionStrategyMissingFields(t *testing.T) {
	v := NewVisionStrategy(&stubCompleter{content: `{"text": "something", "confidence": 90}`})

	_, err := v.Recognize(context.Background(), testImage, "image/png")
	assert.ErrorIs(t, err, common.ErrSchemaViolation)
}

func TestVisionStrategyConfidenceClamped(t *testing.T) {
	v := NewVisionStrategy(&stubCompleter{content: `{"text": "x", "confidence": 250, "fields": {"amount": 1}}`})

	result, err := v.Recognize(context.Background(), testImage, "image/png")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Confidence)
}
