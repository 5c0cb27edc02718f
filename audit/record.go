package audit

import "time"

// Action is the kind of privileged action an audit record describes.
type Action string

const (
	ActionBan     Action = "ban"
	ActionTimeout Action = "timeout"
	ActionUnban   Action = "unban"
)

// Record is one entry from the external audit feed. Target is empty when the
// action had no target user. ExpiresAt is zero for actions without an expiry.
type Record struct {
	Action     Action    `json:"action"`
	Actor      string    `json:"actor"`
	ActorName  string    `json:"actor_name"`
	Target     string    `json:"target,omitempty"`
	TargetName string    `json:"target_name,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// Duration returns how long a timeout lasts, or zero for permanent actions.
func (r *Record) Duration() time.Duration {
	if r == nil || r.ExpiresAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(r.CreatedAt)
}
