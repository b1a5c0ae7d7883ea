package model

import "time"

type DeviceAuthorizationStatus string

const (
	DeviceAuthorizationPending  DeviceAuthorizationStatus = "pending"
	DeviceAuthorizationApproved DeviceAuthorizationStatus = "approved"
	DeviceAuthorizationDenied   DeviceAuthorizationStatus = "denied"
)

// DeviceAuthorization tracks a device flow from initiation to token issuance.
type DeviceAuthorization struct {
	DeviceCode          string                    `json:"device_code"`
	UserCode            string                    `json:"user_code"`
	ClientID            string                    `json:"client_id"`
	Scopes              []string                  `json:"scopes"`
	Status              DeviceAuthorizationStatus `json:"status"`
	Subject             string                    `json:"subject,omitempty"`
	ResourceOwnerClaims map[string]any            `json:"resource_owner_claims,omitempty"`
	CreateDateTime      time.Time                 `json:"create_date_time"`
	ExpiresAt           time.Time                 `json:"expires_at"`
	Interval            time.Duration             `json:"interval"`
	LastPollAt          time.Time                 `json:"last_poll_at,omitempty"`
}

func (d *DeviceAuthorization) IsExpired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// PolledTooSoon reports whether the device ignored the advertised polling interval.
func (d *DeviceAuthorization) PolledTooSoon(now time.Time) bool {
	if d.LastPollAt.IsZero() || d.Interval <= 0 {
		return false
	}
	return now.Sub(d.LastPollAt) < d.Interval
}
