package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/udit1567/Home.auto/pkg/schema"
)

func channels(kv map[schema.Channel]float64) schema.Channels {
	var cs schema.Channels
	for c, v := range kv {
		cs.Set(c, v)
	}
	return cs
}

func newUser(t *testing.T, s Store, name, token string) *schema.User {
	t.Helper()
	u := &schema.User{Username: name, AuthToken: token}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func TestMemStore_Users(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)

	u := newUser(t, ms, "alice", "tok-a")
	if u.ID == 0 || u.CreatedAt.IsZero() {
		t.Fatalf("Expected ID and CreatedAt to be assigned, got %+v", u)
	}

	got, err := ms.UserByToken(ctx, "tok-a")
	if err != nil {
		t.Fatalf("UserByToken failed: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Expected user %d, got %d", u.ID, got.ID)
	}

	if _, err := ms.UserByToken(ctx, "nope"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	if _, err := ms.UserByToken(ctx, ""); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound for empty token, got %v", err)
	}
	if _, err := ms.UserByID(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	dup := &schema.User{Username: "mallory", AuthToken: "tok-a"}
	if err := ms.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicateToken) {
		t.Errorf("Expected ErrDuplicateToken, got %v", err)
	}

	newUser(t, ms, "bob", "tok-b")
	list, _ := ms.ListUsers(ctx)
	if len(list) != 2 || list[0].Username != "alice" || list[1].Username != "bob" {
		t.Errorf("Unexpected user list: %+v", list)
	}
}

func TestMemStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)
	u := newUser(t, ms, "alice", "tok-a")

	if _, err := ms.AppendReading(ctx, 42, schema.Channels{}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound for unknown user, got %v", err)
	}

	r1, err := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: 10}))
	if err != nil {
		t.Fatalf("AppendReading failed: %v", err)
	}
	r2, _ := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D2: 5}))

	if !r2.Timestamp.After(r1.Timestamp) {
		t.Errorf("Timestamps must increase: %v then %v", r1.Timestamp, r2.Timestamp)
	}
	if r1.ID == r2.ID {
		t.Error("Reading IDs must be unique")
	}

	rows, err := ms.ListReadings(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	// Returned rows are copies.
	*rows[0].Channels[schema.D1] = -1
	again, _ := ms.ListReadings(ctx, u.ID)
	if *again[0].Channels[schema.D1] != 10 {
		t.Error("ListReadings leaked internal state")
	}

	empty, _ := ms.ListReadings(ctx, 999)
	if len(empty) != 0 {
		t.Errorf("Expected no rows for unknown user, got %d", len(empty))
	}
}

func TestMemStore_LatestNonNull(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)
	u := newUser(t, ms, "alice", "tok-a")

	if _, err := ms.LatestNonNull(ctx, u.ID, schema.D1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound with no rows, got %v", err)
	}

	ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: 10}))
	ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D2: 5}))

	// D1 is null in the newest row, so the older value is returned.
	v, err := ms.LatestNonNull(ctx, u.ID, schema.D1)
	if err != nil {
		t.Fatalf("LatestNonNull failed: %v", err)
	}
	if v.Value != 10 || v.Channel != schema.D1 {
		t.Errorf("Expected D1=10, got %+v", v)
	}

	ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: 11}))
	v, _ = ms.LatestNonNull(ctx, u.ID, schema.D1)
	if v.Value != 11 {
		t.Errorf("Expected D1=11, got %v", v.Value)
	}

	if _, err := ms.LatestNonNull(ctx, u.ID, schema.D8); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for never-reported channel, got %v", err)
	}
	if _, err := ms.LatestNonNull(ctx, u.ID, schema.Channel(12)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for invalid channel, got %v", err)
	}
}

func TestMemStore_FrozenClock(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ms.now = func() time.Time { return fixed }
	u := newUser(t, ms, "alice", "tok-a")

	a, _ := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: 1}))
	b, _ := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: 2}))
	if !b.Timestamp.After(a.Timestamp) {
		t.Fatalf("Expected strictly increasing stamps under a frozen clock")
	}
	v, _ := ms.LatestNonNull(ctx, u.ID, schema.D1)
	if v.Value != 2 {
		t.Errorf("Expected the second write to win, got %v", v.Value)
	}
}

func TestMemStore_ImportKeepsTimestamp(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)
	u := newUser(t, ms, "alice", "tok-a")

	old := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	err := ms.ImportReading(ctx, schema.Reading{UserID: u.ID, Timestamp: old, Channels: channels(map[schema.Channel]float64{schema.D4: 7})})
	if err != nil {
		t.Fatalf("ImportReading failed: %v", err)
	}
	v, _ := ms.LatestNonNull(ctx, u.ID, schema.D4)
	if !v.Timestamp.Equal(old) {
		t.Errorf("Expected imported timestamp %v, got %v", old, v.Timestamp)
	}

	// A fresh append after an import is still newer.
	r, _ := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D4: 8}))
	if !r.Timestamp.After(old) {
		t.Errorf("Append should be newer than imported rows")
	}
}

func TestMemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	p, err := NewPersistence(tmpDir)
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}
	ms := NewMemStore(nil, p)
	u := newUser(t, ms, "alice", "tok-a")
	ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D3: 42.5}))
	ms.Wait() // Wait for background persistence

	if _, err := os.Stat(filepath.Join(tmpDir, "user-1.json")); err != nil {
		t.Fatalf("User file was not created: %v", err)
	}

	allData, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	ms2 := NewMemStore(allData, p)

	got, err := ms2.UserByToken(ctx, "tok-a")
	if err != nil {
		t.Fatalf("Token lost across reload: %v", err)
	}
	v, err := ms2.LatestNonNull(ctx, got.ID, schema.D3)
	if err != nil || v.Value != 42.5 {
		t.Fatalf("Expected D3=42.5 after reload, got %v, %v", v, err)
	}

	// IDs continue after the loaded ones.
	u2 := newUser(t, ms2, "bob", "tok-b")
	if u2.ID <= got.ID {
		t.Errorf("Expected new ID above %d, got %d", got.ID, u2.ID)
	}
	ms2.Wait()
}

func TestPersistence_SkipsCorruptFiles(t *testing.T) {
	tmpDir := t.TempDir()
	p, _ := NewPersistence(tmpDir)

	os.WriteFile(filepath.Join(tmpDir, "user-9.json"), []byte("{not json"), 0600)
	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("hello"), 0600)
	if err := p.SaveUser(UserData{User: schema.UserRecord{ID: 1, Username: "alice", AuthToken: "t"}}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	all, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 1 || all[0].User.AuthToken != "t" {
		t.Errorf("Expected only the valid user, got %+v", all)
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	ms := NewMemStore(nil, nil)
	const (
		numGoroutines = 10
		numOps        = 100
	)
	users := make([]*schema.User, numGoroutines)
	for i := range users {
		users[i] = newUser(t, ms, "u", string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(u *schema.User) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				if _, err := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: float64(j)})); err != nil {
					t.Errorf("AppendReading failed: %v", err)
					return
				}
				ms.LatestNonNull(ctx, u.ID, schema.D1)
			}
		}(users[i])
	}
	wg.Wait()

	for _, u := range users {
		rows, _ := ms.ListReadings(ctx, u.ID)
		if len(rows) != numOps {
			t.Errorf("user %d: expected %d rows, got %d", u.ID, numOps, len(rows))
		}
		v, _ := ms.LatestNonNull(ctx, u.ID, schema.D1)
		if v == nil || v.Value != numOps-1 {
			t.Errorf("user %d: expected last value %d, got %+v", u.ID, numOps-1, v)
		}
	}
}

func TestMemStore_ConcurrentAppendsPersistAll(t *testing.T) {
	ctx := context.Background()
	p, err := NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}
	ms := NewMemStore(nil, p)
	u := newUser(t, ms, "alice", "tok-a")

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			if _, err := ms.AppendReading(ctx, u.ID, channels(map[schema.Channel]float64{schema.D1: v})); err != nil {
				t.Errorf("AppendReading failed: %v", err)
			}
		}(float64(i))
	}
	wg.Wait()
	ms.Wait()

	all, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 user file, got %d", len(all))
	}
	if got := len(all[0].Readings); got != n {
		t.Errorf("Expected %d readings on disk, got %d", n, got)
	}
}

func TestPersistence_DropsStaleSnapshots(t *testing.T) {
	p, _ := NewPersistence(t.TempDir())
	user := schema.UserRecord{ID: 1, Username: "alice", AuthToken: "t"}

	newer := UserData{User: user, Readings: make([]schema.Reading, 2), Version: 2}
	older := UserData{User: user, Readings: make([]schema.Reading, 1), Version: 1}
	if err := p.SaveUser(newer); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	if err := p.SaveUser(older); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	all, _ := p.LoadAll()
	if len(all) != 1 || all[0].Version != 2 || len(all[0].Readings) != 2 {
		t.Errorf("Stale snapshot overwrote the newer one: %+v", all)
	}
}
