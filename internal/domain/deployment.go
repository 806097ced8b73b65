package domain

import (
	"time"
)

// Status is the pipeline position of a deployment.
type Status string

// Deployment statuses.
const (
	StatusPending   Status = "pending"
	StatusChecked   Status = "checked"
	StatusDeploying Status = "deploying"
	StatusDeployed  Status = "deployed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusChecked, StatusDeploying, StatusDeployed, StatusExpired, StatusFailed:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusChecked},
	StatusChecked:   {StatusDeploying},
	StatusDeploying: {StatusDeployed, StatusFailed},
	StatusDeployed:  {StatusDeploying, StatusExpired},
}

// CanTransition reports whether from -> to is an edge of the pipeline.
// Deletion is not a transition and is allowed from every status.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Mode selects the hosting lifetime of a deployment.
type Mode string

// Deployment modes.
const (
	ModeDemo Mode = "demo"
	ModeProd Mode = "prod"
)

// ParseMode validates a user supplied mode.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeDemo:
		return ModeDemo, true
	case ModeProd:
		return ModeProd, true
	}
	return "", false
}

// Deployment is the persisted pipeline record for one uploaded site.
type Deployment struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Mode       Mode       `json:"mode,omitempty"`
	FileCount  int        `json:"file_count"`
	TotalSize  int64      `json:"total_size"`
	Checks     CheckSet   `json:"checks"`
	URL        string     `json:"url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Expired reports whether a demo deployment is past its expiry.
func (d Deployment) Expired(now time.Time) bool {
	if d.Status != StatusDeployed || d.Mode != ModeDemo || d.ExpiresAt == nil {
		return false
	}
	return d.ExpiresAt.Before(now)
}

// SecurityBlocked reports whether the security outcome forbids provisioning.
func (d Deployment) SecurityBlocked() bool {
	result, ok := d.Checks[CheckSecurity]
	return ok && result.Status == CheckFail
}
