package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultAgencyCode is the CGAC code of the seeded system agency.
const DefaultAgencyCode = "SYS"

// Agency owns submissions and API keys. Every request is scoped to one.
type Agency struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CGACCode  string    `db:"cgac_code"  json:"cgac_code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
