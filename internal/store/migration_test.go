package store

import (
	"context"
	"testing"

	"github.com/udit1567/Home.auto/pkg/schema"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	src := NewMemStore(nil, nil)
	dst := NewMemStore(nil, nil)

	a := newUser(t, src, "alice", "tok-a")
	b := newUser(t, src, "bob", "tok-b")
	src.AppendReading(ctx, a.ID, channels(map[schema.Channel]float64{schema.D1: 1}))
	src.AppendReading(ctx, a.ID, channels(map[schema.Channel]float64{schema.D2: 2}))
	src.AppendReading(ctx, b.ID, channels(map[schema.Channel]float64{schema.D3: 3}))

	// bob already exists in dst under another ID.
	newUser(t, dst, "placeholder", "tok-x")
	existing := newUser(t, dst, "bob", "tok-b")

	users, readings, err := Migrate(ctx, src, dst)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if users != 1 || readings != 3 {
		t.Errorf("Expected 1 new user and 3 readings, got %d and %d", users, readings)
	}

	movedA, err := dst.UserByToken(ctx, "tok-a")
	if err != nil {
		t.Fatalf("alice missing in dst: %v", err)
	}
	rows, _ := dst.ListReadings(ctx, movedA.ID)
	if len(rows) != 2 {
		t.Errorf("Expected 2 readings for alice, got %d", len(rows))
	}

	srcRows, _ := src.ListReadings(ctx, a.ID)
	if !rows[0].Timestamp.Equal(srcRows[0].Timestamp) {
		t.Errorf("Timestamps not preserved: %v vs %v", rows[0].Timestamp, srcRows[0].Timestamp)
	}

	v, err := dst.LatestNonNull(ctx, existing.ID, schema.D3)
	if err != nil || v.Value != 3 {
		t.Errorf("Expected bob's D3 under existing ID, got %v, %v", v, err)
	}
}

func TestMigrate_Empty(t *testing.T) {
	users, readings, err := Migrate(context.Background(), NewMemStore(nil, nil), NewMemStore(nil, nil))
	if err != nil || users != 0 || readings != 0 {
		t.Errorf("Expected no-op, got %d %d %v", users, readings, err)
	}
}
