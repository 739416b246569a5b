package domain

import "time"

// EntitlementState is the usage and subscription record of one identity.
type EntitlementState struct {
	EntryCount    int       `json:"entry_count"`
	Premium       bool      `json:"premium"`
	PremiumExpiry time.Time `json:"premium_expiry"`
}

// PremiumAt reports whether premium is active at the given instant.
func (s EntitlementState) PremiumAt(now time.Time) bool {
	return s.Premium && now.Before(s.PremiumExpiry)
}

// Remaining is the number of entries an identity may still create.
type Remaining struct {
	Count     int  `json:"count"`
	Unbounded bool `json:"unbounded"`
}
