package model

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Snippet is the source excerpt at the fault site.
type Snippet struct {
	Line int32   `json:"line" validate:"gte=1"`
	Code string  `json:"code"`
	File *string `json:"file,omitempty"`
}

// Layer is one stack frame of a Trace.
type Layer struct {
	LineNumber   int32   `json:"line_number" validate:"gte=0"`
	ColumnNumber int32   `json:"column_number" validate:"gte=0"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	FilePath     *string `json:"file_path,omitempty"`
}

// Trace is a backtrace. Layers keep the order in which they were received.
type Trace struct {
	Layers []Layer `json:"layers"`
}

// Log is an accepted report. Date and ReceivedFrom are always set by the server.
type Log struct {
	ID           uuid.UUID   `json:"id"`
	Message      string      `json:"message"`
	MessageType  string      `json:"message_type"`
	Language     string      `json:"language"`
	Snippet      Snippet     `json:"snippet"`
	LineNumber   int32       `json:"line_number"`
	FileName     string      `json:"file_name"`
	Backtrace    Trace       `json:"backtrace"`
	Warnings     []string    `json:"warnings"`
	Date         time.Time   `json:"date"`
	ReceivedFrom *netip.Addr `json:"received_from"`
	ClientID     int32       `json:"-"`
}

// LogBody is the inbound payload of POST /log.
type LogBody struct {
	Message     string   `json:"message" validate:"required"`
	MessageType string   `json:"message_type"`
	Language    string   `json:"language" validate:"required"`
	Snippet     Snippet  `json:"snippet"`
	Backtrace   []Layer  `json:"backtrace" validate:"dive"`
	LineNumber  int32    `json:"line_number" validate:"gte=0"`
	FileName    string   `json:"file_name"`
	Warnings    []string `json:"warnings"`
}

// Receipt acknowledges a stored log.
type Receipt struct {
	ID         uuid.UUID
	AcceptedAt time.Time
}
