package model

// Role is an agent's permission level. Agents are provisioned by the external
// identity system; the inbox only references them.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSupport Role = "support"
	// RoleMarketing is read-only.
	RoleMarketing Role = "marketing"
)

// CanWrite reports whether the role may mutate conversations and send
// messages.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleSupport
}

// Agent identifies a human operator of the inbox.
type Agent struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}
