package ensemble

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskcheck/pkg/anthropic"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		scam    bool
		conf    float64
		reasons int
		wantErr bool
	}{
		{name: "plain", raw: `{"is_scam":true,"confidence":0.82,"reasons":["fake giveaway"]}`, scam: true, conf: 0.82, reasons: 1},
		{name: "fenced", raw: "Here you go:\n```json\n{\"is_scam\": false, \"confidence\": 0.3}\n```", conf: 0.3},
		{name: "clamped", raw: `{"is_scam":true,"confidence":1.7}`, scam: true, conf: 1},
		{name: "missing_fields", raw: `{"reasons":[]}`, wantErr: true},
		{name: "no_json", raw: "I cannot help with that.", wantErr: true},
		{name: "broken", raw: `{"is_scam": tru}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scam, v.IsScam)
			assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
			assert.Len(t, v.Reasons, tt.reasons)
		})
	}
}

func TestLLMModel_Assess(t *testing.T) {
	m := NewLLMModel("perplexity", func(_ context.Context, system, user string) (string, error) {
		assert.Contains(t, system, "JSON")
		assert.Equal(t, "check this", user)
		return `{"is_scam":true,"confidence":0.7}`, nil
	})

	v, err := m.Assess(context.Background(), "check this")
	require.NoError(t, err)
	assert.Equal(t, "perplexity", v.Model)
	assert.True(t, v.IsScam)

	failing := NewLLMModel("openai", func(context.Context, string, string) (string, error) {
		return "", errors.New("boom")
	})
	_, err = failing.Assess(context.Background(), "x")
	require.Error(t, err)

	garbled := NewLLMModel("openai", func(context.Context, string, string) (string, error) {
		return "nope", nil
	})
	_, err = garbled.Assess(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

// MockAnthropic implements anthropic.Client for testing.
type MockAnthropic struct {
	mock.Mock
}

func (m *MockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestAnthropicComplete(t *testing.T) {
	mc := &MockAnthropic{}
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.System == "sys" && len(r.Messages) == 1 && r.Messages[0].Content == "msg"
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "out"}},
	}, nil)

	out, err := AnthropicComplete(mc)(context.Background(), "sys", "msg")
	require.NoError(t, err)
	assert.Equal(t, "out", out)
	mc.AssertExpectations(t)
}
