// Package telemetry implements the sensor reading write and query paths.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/udit1567/Home.auto/internal/store"
	"github.com/udit1567/Home.auto/internal/telemetry/publish"
	"github.com/udit1567/Home.auto/pkg/schema"
)

var (
	// ErrMissingInput is returned when the auth token is absent.
	ErrMissingInput = errors.New("missing required parameters")
	// ErrValidation is returned for malformed readings.
	ErrValidation = errors.New("invalid reading")
	// ErrUnauthorized is returned when the token matches no user.
	ErrUnauthorized = errors.New("invalid or missing API token")
	// ErrNotFound is returned when a query matches nothing.
	ErrNotFound = store.ErrNotFound
)

// Service resolves tokens and delegates reads and writes to the store.
type Service struct {
	store       store.Store
	publisher   publish.Publisher
	rejectEmpty bool
	tracer      trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher fans every appended reading out to p.
func WithPublisher(p publish.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithRejectEmpty makes Append refuse readings with no channel values.
func WithRejectEmpty(reject bool) Option {
	return func(s *Service) { s.rejectEmpty = reject }
}

// NewService returns a Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, tracer: otel.Tracer("github.com/udit1567/Home.auto/internal/telemetry")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TokenFromHeader accepts "Bearer <token>" or a bare token.
func TokenFromHeader(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		h = strings.TrimSpace(h[7:])
	}
	return h
}

// Append stores a reading for the user owning token.
func (s *Service) Append(ctx context.Context, token string, channels schema.Channels) (*schema.Reading, error) {
	ctx, span := s.tracer.Start(ctx, "telemetry.Append")
	defer span.End()

	if token == "" {
		return nil, ErrMissingInput
	}
	if s.rejectEmpty && channels.Populated() == 0 {
		return nil, fmt.Errorf("%w: at least one of D1..D8 is required", ErrValidation)
	}

	user, err := s.store.UserByToken(ctx, token)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID), attribute.Int("reading.channels", channels.Populated()))

	r, err := s.store.AppendReading(ctx, user.ID, channels)
	if err != nil {
		return nil, err
	}
	publish.Async(s.publisher, *r)
	return r, nil
}

// Latest returns the newest non-null value of ch for userID.
func (s *Service) Latest(ctx context.Context, userID int64, ch schema.Channel) (*schema.ChannelValue, error) {
	ctx, span := s.tracer.Start(ctx, "telemetry.Latest",
		trace.WithAttributes(attribute.Int64("user.id", userID), attribute.String("channel", ch.String())))
	defer span.End()
	return s.store.LatestNonNull(ctx, userID, ch)
}

// Readings lists all rows of userID, or ErrNotFound when there are none.
func (s *Service) Readings(ctx context.Context, userID int64) ([]schema.Reading, error) {
	rows, err := s.store.ListReadings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// User returns the user with id, or ErrNotFound.
func (s *Service) User(ctx context.Context, id int64) (*schema.User, error) {
	u, err := s.store.UserByID(ctx, id)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}
