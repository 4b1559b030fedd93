package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// Tier is a user's subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Urgency is the caller's requested turnaround.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

const (
	// MaxIdentifiers bounds the subject list of a single request.
	MaxIdentifiers = 50
	// MaxContentBytes bounds the free-text content blob.
	MaxContentBytes = 32 * 1024
)

// AnalysisRequest is one user-submitted subject to assess. Treat it as a
// value: nothing downstream mutates it.
type AnalysisRequest struct {
	SubjectIdentifiers []string `json:"subject_identifiers" validate:"required_without_all=Content AssetSymbol,max=50,dive,required,max=256"`
	Content            string   `json:"content,omitempty" validate:"max=32768"`
	AssetSymbol        string   `json:"asset_symbol,omitempty" validate:"omitempty,max=32,alphanum"`
	Urgency            Urgency  `json:"urgency,omitempty" validate:"omitempty,oneof=low normal high"`
	Tier               Tier     `json:"tier" validate:"required,oneof=free pro enterprise"`
	RequestID          string   `json:"request_id" validate:"required,max=128"`
}

var requestValidate = validator.New()

// Validate rejects requests missing required fields. The returned error
// wraps ErrInvalidRequest.
func (r AnalysisRequest) Validate() error {
	if err := requestValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return eris.Wrapf(ErrInvalidRequest, "field %s failed %q", fe.Field(), fe.Tag())
		}
		return eris.Wrap(ErrInvalidRequest, err.Error())
	}
	return nil
}

// Symbol returns the normalized asset symbol, or "" when none was given.
func (r AnalysisRequest) Symbol() string {
	return strings.ToUpper(strings.TrimSpace(r.AssetSymbol))
}

// Identifiers returns the subject identifiers lowercased, trimmed, sorted and
// de-duplicated.
func (r AnalysisRequest) Identifiers() []string {
	seen := make(map[string]bool, len(r.SubjectIdentifiers))
	out := make([]string, 0, len(r.SubjectIdentifiers))
	for _, id := range r.SubjectIdentifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Fingerprint is a stable key for the normalized subject: identifiers,
// symbol and content. Two requests that differ only in request id, tier or
// identifier order share a fingerprint.
func (r AnalysisRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strings.Join(r.Identifiers(), "\x1f")))
	h.Write([]byte{0x1e})
	h.Write([]byte(r.Symbol()))
	h.Write([]byte{0x1e})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(r.Content))))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Subject renders the request as plain text for classifiers that read
// prose: identifiers, symbol and content on labeled lines.
func (r AnalysisRequest) Subject() string {
	var b strings.Builder
	if ids := r.Identifiers(); len(ids) > 0 {
		b.WriteString("Identifiers: ")
		b.WriteString(strings.Join(ids, ", "))
		b.WriteString("\n")
	}
	if s := r.Symbol(); s != "" {
		b.WriteString("Asset symbol: ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if c := strings.TrimSpace(r.Content); c != "" {
		b.WriteString("Content:\n")
		b.WriteString(c)
	}
	return strings.TrimSpace(b.String())
}
