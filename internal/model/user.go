// Package model defines the data structures shared by the repositories,
// services and handlers.
package model

import "time"

// Role separates the two kinds of account. Vendors own stores and may not
// shop; customers shop and review.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
)

// User is a registered account.
//
// PasswordHash is the bcrypt output and never leaves the server: the json:"-"
// tag keeps it out of every API response. Email may be empty; checkout and
// password reset both refuse to proceed without one.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsVendor reports whether the account sells rather than shops.
func (u *User) IsVendor() bool {
	return u != nil && u.Role == RoleVendor
}
