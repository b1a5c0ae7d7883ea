package model

import "time"

// TicketLine is one resource set and the scopes requested on it.
type TicketLine struct {
	ResourceSetID string   `json:"resource_id"`
	Scopes        []string `json:"scopes"`
}

// Ticket is a UMA permission ticket awaiting an authorization decision.
type Ticket struct {
	ID               string       `json:"id"`
	ClientID         string       `json:"client_id,omitempty"`
	Lines            []TicketLine `json:"lines"`
	IsAuthorizedByRO bool         `json:"is_authorized_by_ro"`
	CreateDateTime   time.Time    `json:"create_date_time"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

func (t *Ticket) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
