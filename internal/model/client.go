package model

import "time"

// Client is a registered reporting program. IDs are issued by the store and never reused.
type Client struct {
	ID            int32     `json:"id" db:"id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	LastConnected time.Time `json:"last_connected" db:"last_connected"`
	ReportsSent   int64     `json:"reports_sent" db:"reports_sent"`
}

// RegisterResponse is returned by POST /register and POST /register/:id.
type RegisterResponse struct {
	ClientID int32 `json:"client_id"`
}
