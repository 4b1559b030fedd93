package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
		wantID     string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"id": "cmpl-123",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"is_scam\":true}"}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5}
			}`,
			wantID: "cmpl-123",
		},
		{
			name:       "rate_limit",
			status:     http.StatusTooManyRequests,
			body:       `{"error": "rate limit exceeded"}`,
			wantErr:    "unexpected status 429",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "bad_request",
			status:     http.StatusBadRequest,
			body:       `{"error": "bad"}`,
			wantErr:    "unexpected status 400",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body)) //nolint:errcheck
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL))
			resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
				Messages: []Message{{Role: "user", Content: "hi"}},
			})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				if tt.wantStatus != 0 {
					var se *StatusError
					require.True(t, errors.As(err, &se))
					assert.Equal(t, tt.wantStatus, se.StatusCode)
					assert.Equal(t, tt.wantStatus >= 429, se.Temporary())
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, resp.ID)
		})
	}
}

func TestComplete(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got) //nolint:errcheck
		w.Write([]byte(`{"id":"c","choices":[{"index":0,"message":{"role":"assistant","content":"answer"}}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithModel("sonar-pro"), WithHTTPClient(srv.Client()))
	out, err := c.Complete(context.Background(), "sys", "user text")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)

	assert.Equal(t, "sonar-pro", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user text", got.Messages[1].Content)
	require.NotNil(t, got.Temperature)
	assert.Zero(t, *got.Temperature)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"c","choices":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
