package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskcheck/internal/ensemble"
	"github.com/sells-group/riskcheck/internal/heuristic"
	"github.com/sells-group/riskcheck/internal/model"
)

const languagePrompt = `You detect manipulation tactics in messages from crypto communities:
urgency, guaranteed returns, secrecy, payment or deposit requests, fake giveaways,
credential phishing, pump signals, authority impersonation.
Reply with one JSON object only:
{"score": 0-100, "confidence": 0.0-1.0, "tactics": ["name", ...], "summary": "one sentence"}`

// LanguageSource classifies manipulation tactics with an LLM.
type LanguageSource struct {
	complete ensemble.CompleteFunc
}

// NewLanguage creates the language source over an LLM completion.
func NewLanguage(complete ensemble.CompleteFunc) *LanguageSource {
	return &LanguageSource{complete: complete}
}

func (s *LanguageSource) Name() string { return NameLanguage }

type languageReply struct {
	Score      *int     `json:"score"`
	Confidence *float64 `json:"confidence"`
	Tactics    []string `json:"tactics"`
	Summary    string   `json:"summary"`
}

func (s *LanguageSource) Lookup(ctx context.Context, req model.AnalysisRequest) (model.AnalyzerResult, error) {
	raw, err := s.complete(ctx, languagePrompt, req.Subject())
	if err != nil {
		return model.AnalyzerResult{}, eris.Wrap(err, "language: classify")
	}

	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return model.AnalyzerResult{}, eris.New("language: no JSON object in reply")
	}
	var reply languageReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return model.AnalyzerResult{}, eris.Wrap(err, "language: parse reply")
	}
	if reply.Score == nil || reply.Confidence == nil {
		return model.AnalyzerResult{}, eris.New("language: reply missing score or confidence")
	}

	res := model.AnalyzerResult{
		Score:      *reply.Score,
		Confidence: *reply.Confidence,
		Flagged:    model.BoolPtr(*reply.Score >= 60),
	}
	if reply.Summary != "" {
		res.Findings = append(res.Findings, reply.Summary)
	}
	for _, t := range reply.Tactics {
		res.AddTags(normalizeTag(t))
	}
	return res, nil
}

// Fallback runs the keyword scanner over the content.
func (s *LanguageSource) Fallback(req model.AnalysisRequest) model.AnalyzerResult {
	sig := heuristic.ScanContent(req.Subject())
	res := model.AnalyzerResult{
		Score:      max(sig.Score, 10),
		Confidence: 0.3,
		Flagged:    model.BoolPtr(sig.Score >= 60),
	}
	for _, t := range sig.Tactics {
		res.Findings = append(res.Findings, fmt.Sprintf("keyword match: %s", strings.ReplaceAll(t, "_", " ")))
	}
	res.AddTags(sig.Tactics...)
	return res
}

func normalizeTag(t string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "_")
}
