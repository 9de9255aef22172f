package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worq1337/parcer-sub000/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: server.URL,
	}, nil)
	require.NoError(t, err)
	return client, server
}

func completionBody(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestCompleteSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, completionBody(`{"amount": 100}`))
	})

	content, err := client.Complete(context.Background(), []Message{
		TextMessage("user", "parse this"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 100}`, content)
	assert.Equal(t, "Bearer test-key", gotAuth)

	// First attempt always requests the structured output mode.
	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestCompleteNegotiatesResponseFormat(t *testing.T) {
	var requests []map[string]any

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)

		if _, constrained := body["response_format"]; constrained {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Invalid parameter: 'response_format' of type 'json_object' is not supported with this model."}}`)
			return
		}
		fmt.Fprint(w, completionBody(`{"amount": 5}`))
	})

	content, err := client.Complete(context.Background(), []Message{
		TextMessage("user", "parse this"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"amount": 5}`, content)

	require.Len(t, requests, 2)
	_, first := requests[0]["response_format"]
	_, second := requests[1]["response_format"]
	assert.True(t, first)
	assert.False(t, second)
}

func TestCompleteNegotiationHappensOnce(t *testing.T) {
	var count int

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"response_format is not supported"}}`)
	})

	_, err := client.Complete(context.Background(), []Message{
		TextMessage("user", "parse this"),
	})
	require.Error(t, err)
	assert.Equal(t, 2, count)

	// The second failure is a plain 400, which must not be retried.
	var retryable *common.RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.False(t, retryable.Retryable)
}

func TestCompleteRateLimitWithHeader(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached"}}`)
	})

	_, err := client.Complete(context.Background(), []Message{TextMessage("user", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimit)

	var rateErr *common.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 12*time.Second, rateErr.RetryAfter)
}

func TestCompleteRateLimitHintFromMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached for gpt-4o-mini. Please try again in 7.5s."}}`)
	})

	_, err := client.Complete(context.Background(), []Message{TextMessage("user", "x")})
	var rateErr *common.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 7500*time.Millisecond, rateErr.RetryAfter)
}

func TestCompleteServerErrorIsUnreachable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream broke"}}`)
	})

	_, err := client.Complete(context.Background(), []Message{TextMessage("user", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnreachable)
	assert.True(t, common.IsRetryable(err))
}

func TestCompleteConnectionRefusedIsUnreachable(t *testing.T) {
	client, server := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := client.Complete(context.Background(), []Message{TextMessage("user", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnreachable)
}

func TestCompleteEmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.Complete(context.Background(), []Message{TextMessage("user", "x")})
	assert.ErrorIs(t, err, common.ErrEmptyResponse)
}

func TestRetryAfterHint(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, retryAfterHint(headers, ""))

	assert.Equal(t, 20*time.Second, retryAfterHint(http.Header{}, "Please try again in 20s."))
	assert.Equal(t, time.Second, retryAfterHint(http.Header{}, "try again in 0.2s"))
	assert.Equal(t, time.Duration(0), retryAfterHint(http.Header{}, "no hint here"))
}

func TestVisionMessageShape(t *testing.T) {
	msg := VisionMessage("read this receipt", "data:image/png;base64,AAAA")
	assert.Equal(t, "user", msg.Role)

	parts, ok := msg.Content.([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0]["type"])
	assert.Equal(t, "image_url", parts[1]["type"])
}

func TestClassifyAPIErrorRateLimitByMessage(t *testing.T) {
	err := classifyAPIError(http.StatusBadRequest, http.Header{}, "You hit the rate limit")
	assert.ErrorIs(t, err, common.ErrRateLimit)
}
