// Package audit records the outcome of every gated fleet operation.
//
// The sink contract is fire-and-forget: Append must not block, and callers
// discard its error so a broken audit trail never masks or blocks the
// primary operation.
package audit

import (
	"log/slog"
	"time"
)

// Entry is one audited operation outcome.
type Entry struct {
	Action      string    `json:"action"`
	SubjectID   string    `json:"subject_id,omitempty"`
	SubjectName string    `json:"subject_name,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink appends audit entries.
type Sink interface {
	Append(e Entry) error
}

// NopSink discards every entry.
type NopSink struct{}

// Append implements Sink.
func (NopSink) Append(Entry) error { return nil }

// SlogSink writes entries to a structured logger instead of durable
// storage. Useful for development setups without a data dir.
type SlogSink struct {
	Logger *slog.Logger
}

// Append implements Sink.
func (s SlogSink) Append(e Entry) error {
	s.Logger.Info("audit",
		slog.String("action", e.Action),
		slog.String("subject", e.SubjectID),
		slog.String("detail", e.Detail),
		slog.Bool("success", e.Success),
		slog.String("error", e.Error),
	)
	return nil
}
