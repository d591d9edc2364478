package domain

import "time"

// Quota is the remaining request budget reported by the platform API.
type Quota struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}
