// Package domain holds the user entity and its input types.
package domain

import "time"

// User is the domain entity handled by the service and repository
// layers.
type User struct {
	ID           uint      `json:"id" msgpack:"id"`
	Username     string    `json:"username" msgpack:"username"`
	Email        string    `json:"email" msgpack:"email"`
	PasswordHash string    `json:"-" msgpack:"password_hash"`
	FullName     string    `json:"full_name,omitempty" msgpack:"full_name"`
	IsActive     bool      `json:"is_active" msgpack:"is_active"`
	IsSuperuser  bool      `json:"is_superuser" msgpack:"is_superuser"`
	CreatedAt    time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" msgpack:"updated_at"`
}

// CreateUser carries the fields for a new user.
type CreateUser struct {
	Username     string
	Email        string
	PasswordHash string
	FullName     string
	IsActive     bool
	IsSuperuser  bool
}

// UpdateUser carries a partial update; nil fields are left untouched.
type UpdateUser struct {
	Username     *string
	Email        *string
	PasswordHash *string
	FullName     *string
	IsActive     *bool
	IsSuperuser  *bool
}

// ListFilter narrows user listings.
type ListFilter struct {
	Skip        int
	Limit       int
	IsActive    *bool
	IsSuperuser *bool
}
