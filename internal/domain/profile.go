package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role controls access to gated mutations
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role is one the system knows.
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleAdmin
}

// DefaultDisplayName is assigned to freshly provisioned profiles until the
// user picks a name.
const DefaultDisplayName = "Jugador"

// Profile represents a pool participant. IDs come from the external identity
// provider, which issues UUIDs.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
