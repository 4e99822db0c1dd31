package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udit1567/Home.auto/pkg/schema"
)

// channelColumns maps a channel to its column. Only these fixed names are
// ever interpolated into SQL.
var channelColumns = [schema.NumChannels]string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}

const readingColumns = "id, user_id, recorded_at, d1, d2, d3, d4, d5, d6, d7, d8"

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresStore implements Store on the users and readings tables created by
// the migrations in internal/db/migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store that uses the given pool for persistence.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UserByID(ctx context.Context, id int64) (*schema.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, auth_token, created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) UserByToken(ctx context.Context, token string) (*schema.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, auth_token, created_at FROM users WHERE auth_token = $1`, token)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]schema.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username, auth_token, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.User
	for rows.Next() {
		var u schema.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AuthToken, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *schema.User) error {
	var err error
	if u.CreatedAt.IsZero() {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO users (username, auth_token) VALUES ($1, $2) RETURNING id, created_at`,
			u.Username, u.AuthToken).Scan(&u.ID, &u.CreatedAt)
	} else {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO users (username, auth_token, created_at) VALUES ($1, $2, $3) RETURNING id`,
			u.Username, u.AuthToken, u.CreatedAt).Scan(&u.ID)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateToken
	}
	return err
}

// AppendReading lets the database stamp the row with clock_timestamp().
func (s *PostgresStore) AppendReading(ctx context.Context, userID int64, channels schema.Channels) (*schema.Reading, error) {
	r := schema.Reading{UserID: userID, Channels: channels.Clone()}
	args := append([]any{userID}, channelArgs(r.Channels)...)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO readings (user_id, d1, d2, d3, d4, d5, d6, d7, d8)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, recorded_at`, args...).Scan(&r.ID, &r.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ImportReading(ctx context.Context, r schema.Reading) error {
	args := append([]any{r.UserID, r.Timestamp}, channelArgs(r.Channels)...)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO readings (user_id, recorded_at, d1, d2, d3, d4, d5, d6, d7, d8)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrUserNotFound
	}
	return err
}

func (s *PostgresStore) ListReadings(ctx context.Context, userID int64) ([]schema.Reading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE user_id = $1 ORDER BY recorded_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.Reading
	for rows.Next() {
		var r schema.Reading
		dest := []any{&r.ID, &r.UserID, &r.Timestamp}
		for i := range r.Channels {
			dest = append(dest, &r.Channels[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestNonNull orders only by recorded_at, so rows sharing the newest
// timestamp come back in whatever order the planner picks.
func (s *PostgresStore) LatestNonNull(ctx context.Context, userID int64, ch schema.Channel) (*schema.ChannelValue, error) {
	if !ch.Valid() {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(
		`SELECT %[1]s, recorded_at FROM readings
		 WHERE user_id = $1 AND %[1]s IS NOT NULL
		 ORDER BY recorded_at DESC LIMIT 1`, channelColumns[ch])

	v := schema.ChannelValue{Channel: ch}
	err := s.pool.QueryRow(ctx, query, userID).Scan(&v.Value, &v.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanUser(row pgx.Row) (*schema.User, error) {
	var u schema.User
	err := row.Scan(&u.ID, &u.Username, &u.AuthToken, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func channelArgs(cs schema.Channels) []any {
	args := make([]any, schema.NumChannels)
	for i, v := range cs {
		args[i] = v
	}
	return args
}
