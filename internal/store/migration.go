package store

import (
	"context"
	"errors"
	"fmt"
)

// Migrate copies every user and reading from src into dst.
// This works for:
// - Embedded -> Postgres (moving a device install onto a real database)
// - Postgres -> Embedded (an offline backup)
//
// Users are matched by token: a user whose token already exists in dst is
// reused, otherwise it is created with a dst-assigned ID. Readings keep their
// original timestamps. Migrate is not idempotent for readings.
func Migrate(ctx context.Context, src, dst Store) (users, readings int, err error) {
	srcUsers, err := src.ListUsers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list users: %w", err)
	}

	for _, u := range srcUsers {
		srcID := u.ID
		target := u
		target.ID = 0
		target.CreatedAt = u.CreatedAt

		switch err := dst.CreateUser(ctx, &target); {
		case errors.Is(err, ErrDuplicateToken):
			existing, lookupErr := dst.UserByToken(ctx, u.AuthToken)
			if lookupErr != nil {
				return users, readings, fmt.Errorf("failed to resolve existing user %d: %w", srcID, lookupErr)
			}
			target = *existing
		case err != nil:
			return users, readings, fmt.Errorf("failed to create user %d: %w", srcID, err)
		default:
			users++
		}

		rows, err := src.ListReadings(ctx, srcID)
		if err != nil {
			return users, readings, fmt.Errorf("failed to list readings for user %d: %w", srcID, err)
		}
		for _, r := range rows {
			r.UserID = target.ID
			if err := dst.ImportReading(ctx, r); err != nil {
				return users, readings, fmt.Errorf("failed to import reading %d: %w", r.ID, err)
			}
			readings++
		}
	}

	return users, readings, nil
}
