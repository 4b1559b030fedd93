package model

import (
	"encoding/json"
	"sort"
	"time"
)

// RiskLevel is the coarse verdict shown to users.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// Band is the ensemble's consensus band.
type Band string

const (
	BandSafe       Band = "safe"
	BandSuspicious Band = "suspicious"
	BandLikely     Band = "likely"
	BandConfirmed  Band = "confirmed"
)

// ModelVerdict is a single AI model's answer inside an ensemble run.
type ModelVerdict struct {
	Model      string        `json:"model"`
	IsScam     bool          `json:"is_scam"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons,omitempty"`
	Latency    time.Duration `json:"-"`
	Error      string        `json:"error,omitempty"`
}

// Consensus is the ensemble combiner's folded view over its model verdicts.
type Consensus struct {
	IsScam     bool           `json:"is_scam"`
	Confidence float64        `json:"confidence"`
	Band       Band           `json:"band"`
	Responded  int            `json:"responded"`
	Requested  int            `json:"requested"`
	Verdicts   []ModelVerdict `json:"verdicts"`
	Note       string         `json:"note,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// AnalyzerResult is one signal source's view of a request. A non-empty Error
// means a degraded (stale or fallback) result was produced.
type AnalyzerResult struct {
	Source     string        `json:"source"`
	Score      int           `json:"score"`
	Confidence float64       `json:"confidence"`
	Flagged    *bool         `json:"flagged,omitempty"`
	Findings   []string      `json:"findings"`
	Tags       []string      `json:"tags"`
	Latency    time.Duration `json:"-"`
	Error      string        `json:"error,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Stale      bool          `json:"stale,omitempty"`
	Consensus  *Consensus    `json:"consensus,omitempty"`
}

type analyzerResultJSON AnalyzerResult

// MarshalJSON renders Latency as whole milliseconds.
func (r AnalyzerResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		analyzerResultJSON
		LatencyMS int64 `json:"latency_ms"`
	}{analyzerResultJSON(r), r.Latency.Milliseconds()})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *AnalyzerResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		analyzerResultJSON
		LatencyMS int64 `json:"latency_ms"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = AnalyzerResult(aux.analyzerResultJSON)
	r.Latency = time.Duration(aux.LatencyMS) * time.Millisecond
	return nil
}

// AddTags merges tags into the result's tag set, keeping it sorted.
func (r *AnalyzerResult) AddTags(tags ...string) {
	seen := make(map[string]bool, len(r.Tags)+len(tags))
	merged := make([]string, 0, len(r.Tags)+len(tags))
	for _, t := range append(append([]string{}, r.Tags...), tags...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
	}
	sort.Strings(merged)
	r.Tags = merged
}

// Normalize clamps score and confidence and guarantees non-nil slices so
// that serialized results are stable.
func (r *AnalyzerResult) Normalize() {
	r.Score = ClampScore(r.Score)
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if r.Findings == nil {
		r.Findings = []string{}
	}
	r.AddTags()
}

// SourceFailure records an analyzer that produced no vector.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// AggregateResult is the merged verdict for one request.
type AggregateResult struct {
	AnalysisID string           `json:"analysis_id"`
	RequestID  string           `json:"request_id"`
	Score      int              `json:"score"`
	Level      RiskLevel        `json:"level"`
	Confidence float64          `json:"confidence"`
	Vectors    []AnalyzerResult `json:"vectors"`
	Sources    []string         `json:"sources"`
	Failures   []SourceFailure  `json:"failures,omitempty"`
	Caveats    []string         `json:"caveats,omitempty"`
	Degraded   bool             `json:"degraded,omitempty"`
	Override   string           `json:"override,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ClampScore bounds a score to [0, 100].
func ClampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
