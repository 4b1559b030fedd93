package model

import "time"

// ScamReport is one entry in the scammer-report directory.
type ScamReport struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// QuotaWindow is one fixed-window counter row.
type QuotaWindow struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	Count       int       `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
