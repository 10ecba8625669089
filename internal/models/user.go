package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is a DAC user (researcher, committee member, data owner or admin).
type User struct {
	ID              int64     `json:"dacUserId"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	AdditionalEmail string    `json:"additionalEmail,omitempty"`
	EmailPreference bool      `json:"emailPreference"`
	Roles           RoleSet   `json:"roles"`
	CreateDate      time.Time `json:"createDate"`
}

// Emails returns the primary and additional address, skipping blanks.
func (u *User) Emails() []string {
	out := make([]string, 0, 2)
	if u.Email != "" {
		out = append(out, u.Email)
	}
	if u.AdditionalEmail != "" && u.AdditionalEmail != u.Email {
		out = append(out, u.AdditionalEmail)
	}
	return out
}
