// Package schema defines the data structures shared by the gateway, its stores and the client SDK.
package schema

import "time"

// User is a device owner. Users are provisioned outside the gateway; the
// gateway only resolves them by ID or by their opaque auth token.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AuthToken string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRecord is the persisted form of a User, token included.
// It is what the embedded store writes to disk and what migrations copy.
type UserRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AuthToken string    `json:"auth_token"`
	CreatedAt time.Time `json:"created_at"`
}

// Record converts u to its persisted form.
func (u User) Record() UserRecord {
	return UserRecord{ID: u.ID, Username: u.Username, AuthToken: u.AuthToken, CreatedAt: u.CreatedAt}
}

// User converts r back to a User.
func (r UserRecord) User() User {
	return User{ID: r.ID, Username: r.Username, AuthToken: r.AuthToken, CreatedAt: r.CreatedAt}
}
