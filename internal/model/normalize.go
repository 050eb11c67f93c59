package model

import (
	"time"

	"github.com/google/uuid"
)

// Normalize turns the payload into a Log with a fresh id and now (in UTC) as its date.
// ClientID and ReceivedFrom are left for the caller, which knows the transport origin.
func (b *LogBody) Normalize(now time.Time) *Log {
	layers := make([]Layer, len(b.Backtrace))
	copy(layers, b.Backtrace)

	warnings := make([]string, len(b.Warnings))
	copy(warnings, b.Warnings)

	return &Log{
		ID:          uuid.New(),
		Message:     b.Message,
		MessageType: b.MessageType,
		Language:    b.Language,
		Snippet:     b.Snippet,
		LineNumber:  b.LineNumber,
		FileName:    b.FileName,
		Backtrace:   Trace{Layers: layers},
		Warnings:    warnings,
		Date:        now.UTC(),
	}
}
