// Package store defines the telemetry storage contract and its embedded and Postgres implementations.
package store

import (
	"context"
	"errors"

	"github.com/udit1567/Home.auto/pkg/schema"
)

var (
	// ErrUserNotFound is returned when no user matches an ID or token.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound is returned when no reading matches a query.
	ErrNotFound = errors.New("no matching reading")
	// ErrDuplicateToken is returned when a user is created with a token that is already taken.
	ErrDuplicateToken = errors.New("auth token already in use")
)

// --- Functional Interfaces ---

// UserReader resolves users.
type UserReader interface {
	UserByID(ctx context.Context, id int64) (*schema.User, error)
	// UserByToken resolves a user by exact token match.
	UserByToken(ctx context.Context, token string) (*schema.User, error)
	ListUsers(ctx context.Context) ([]schema.User, error)
}

// UserWriter provisions users. The gateway itself never calls it; seeding and
// migrations do.
type UserWriter interface {
	// CreateUser assigns u.ID and u.CreatedAt when they are zero.
	CreateUser(ctx context.Context, u *schema.User) error
}

// ReadingWriter appends telemetry rows.
type ReadingWriter interface {
	// AppendReading stamps a new row with the current time and stores it.
	AppendReading(ctx context.Context, userID int64, channels schema.Channels) (*schema.Reading, error)
	// ImportReading stores a row keeping its timestamp. Used by Migrate.
	ImportReading(ctx context.Context, r schema.Reading) error
}

// ReadingReader queries telemetry rows.
type ReadingReader interface {
	ListReadings(ctx context.Context, userID int64) ([]schema.Reading, error)
	// LatestNonNull returns the value of ch from the newest row of userID in
	// which ch is non-null, or ErrNotFound. When several rows share the newest
	// timestamp, which of them is returned is unspecified.
	LatestNonNull(ctx context.Context, userID int64, ch schema.Channel) (*schema.ChannelValue, error)
}

// --- Composite Interface ---

// Store is the full persistence contract used by the gateway.
type Store interface {
	UserReader
	UserWriter
	ReadingWriter
	ReadingReader
}
