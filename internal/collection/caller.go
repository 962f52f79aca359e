package collection

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/roach88/strata/internal/query"
)

// Caller identifies who issues a request. It is passed to every verb and
// never stored.
type Caller struct {
	ID              int               `json:"id"`
	Email           string            `json:"email"`
	FirstName       string            `json:"firstName"`
	LastName        string            `json:"lastName"`
	Team            string            `json:"team"`
	Role            string            `json:"role"`
	PermissionLevel string            `json:"permissionLevel"`
	Timezone        string            `json:"timezone"`
	Tags            map[string]string `json:"tags"`
	RequestID       string            `json:"requestId"`
}

// NewCaller creates a caller with a fresh request id.
func NewCaller(id int, email, timezone string) *Caller {
	return &Caller{
		ID:        id,
		Email:     email,
		Timezone:  timezone,
		Tags:      map[string]string{},
		RequestID: uuid.Must(uuid.NewV7()).String(),
	}
}

// Env returns the date context for this caller's timezone.
func (c *Caller) Env(clock clockwork.Clock) (query.Env, error) {
	tz := ""
	if c != nil {
		tz = c.Timezone
	}
	return query.NewEnv(clock, tz)
}
