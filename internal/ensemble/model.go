package ensemble

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/model"
	"github.com/sells-group/riskcheck/pkg/anthropic"
)

// Model is one AI classifier in the ensemble.
type Model interface {
	Name() string
	Assess(ctx context.Context, content string) (model.ModelVerdict, error)
}

// CompleteFunc sends a system prompt and user text to an LLM and returns
// its raw reply.
type CompleteFunc func(ctx context.Context, system, user string) (string, error)

const systemPrompt = `You are a fraud analyst for a crypto community safety service.
Classify whether the submitted material is a scam (impersonation, fake giveaway,
pump-and-dump, phishing, investment fraud). Reply with a single JSON object and
nothing else:
{"is_scam": true|false, "confidence": 0.0-1.0, "reasons": ["short reason", ...]}`

// LLMModel is a Model backed by a chat completion.
type LLMModel struct {
	name     string
	complete CompleteFunc
}

// NewLLMModel creates a Model named name that classifies through complete.
func NewLLMModel(name string, complete CompleteFunc) *LLMModel {
	return &LLMModel{name: name, complete: complete}
}

func (m *LLMModel) Name() string { return m.name }

func (m *LLMModel) Assess(ctx context.Context, content string) (model.ModelVerdict, error) {
	start := time.Now()
	raw, err := m.complete(ctx, systemPrompt, content)
	if err != nil {
		return model.ModelVerdict{}, err
	}
	v, err := ParseVerdict(raw)
	if err != nil {
		return model.ModelVerdict{}, eris.Wrapf(err, "ensemble: %s", m.name)
	}
	v.Model = m.name
	v.Latency = time.Since(start)
	return v, nil
}

type verdictJSON struct {
	IsScam     *bool    `json:"is_scam"`
	Confidence *float64 `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// ParseVerdict extracts the verdict object from an LLM reply. Replies often
// wrap the JSON in prose or code fences, so the outermost braces are used.
func ParseVerdict(raw string) (model.ModelVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return model.ModelVerdict{}, eris.New("no JSON object in reply")
	}

	var vj verdictJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &vj); err != nil {
		return model.ModelVerdict{}, eris.Wrap(err, "parse verdict")
	}
	if vj.IsScam == nil || vj.Confidence == nil {
		return model.ModelVerdict{}, eris.New("verdict missing is_scam or confidence")
	}

	conf := *vj.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return model.ModelVerdict{IsScam: *vj.IsScam, Confidence: conf, Reasons: vj.Reasons}, nil
}

// AnthropicComplete adapts an Anthropic client to CompleteFunc.
func AnthropicComplete(c anthropic.Client) CompleteFunc {
	return func(ctx context.Context, system, user string) (string, error) {
		temp := 0.0
		resp, err := c.CreateMessage(ctx, anthropic.MessageRequest{
			System:      system,
			Messages:    []anthropic.Message{{Role: "user", Content: user}},
			Temperature: &temp,
		})
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
}
