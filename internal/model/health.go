package model

import (
	"time"
)

// HealthState is a store's coarse availability.
type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"
)

func (s HealthState) rank() int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the worse of two states. Unknown states count as unhealthy.
func Worse(a, b HealthState) HealthState {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// HealthStatus is one health-check snapshot.
type HealthStatus struct {
	Store        string        `json:"store"`
	Status       HealthState   `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
	Detail       string        `json:"detail,omitempty"`
}
