package domain

// --- Identifier types ---

// ConnectionID is the opaque identifier assigned to a transport session at
// accept time. All components outside the gateway refer to connections by
// this ID only, never by the underlying socket.
type ConnectionID string

// Identity names an authenticated principal. A single identity may be bound
// to several concurrent connections.
type Identity string

// Role classifies what an identity is allowed to reach.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Privileged reports whether the role may access role-scoped channels.
func (r Role) Privileged() bool {
	return r == RoleAdmin
}
