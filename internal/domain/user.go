package domain

import (
	"github.com/google/uuid"
)

// User is an authenticated person, created from the identity provider's
// token claims on first sign-in
type User struct {
	ID      uuid.UUID `json:"id"`
	Auth0ID string    `json:"auth0Id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
}

// UserFromRow converts a stored users row
func UserFromRow(r Row) *User {
	return &User{
		ID:      r.ID(),
		Auth0ID: r.String("auth0_id"),
		Email:   r.String("email"),
		Name:    r.String("name"),
	}
}
