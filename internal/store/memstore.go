package store

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/pkg/schema"
)

// MemStore is the embedded, thread-safe telemetry store. It is used when no
// database is configured and in tests.
type MemStore struct {
	mu sync.RWMutex
	// users and readings are keyed by user ID.
	users         map[int64]schema.UserRecord
	tokens        map[string]int64
	readings      map[int64][]schema.Reading
	versions      map[int64]uint64
	nextUserID    int64
	nextReadingID int64
	lastStamp     time.Time

	persister *Persistence
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and an optional persister.
func NewMemStore(initialData []UserData, p *Persistence) *MemStore {
	m := &MemStore{
		users:     make(map[int64]schema.UserRecord),
		tokens:    make(map[string]int64),
		readings:  make(map[int64][]schema.Reading),
		versions:  make(map[int64]uint64),
		persister: p,
		now:       time.Now,
	}
	for _, d := range initialData {
		m.users[d.User.ID] = d.User
		if d.User.AuthToken != "" {
			m.tokens[d.User.AuthToken] = d.User.ID
		}
		m.readings[d.User.ID] = append([]schema.Reading(nil), d.Readings...)
		m.versions[d.User.ID] = d.Version
		if d.User.ID > m.nextUserID {
			m.nextUserID = d.User.ID
		}
		for _, r := range d.Readings {
			if r.ID > m.nextReadingID {
				m.nextReadingID = r.ID
			}
			if r.Timestamp.After(m.lastStamp) {
				m.lastStamp = r.Timestamp
			}
		}
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// --- Interface Implementation ---

func (m *MemStore) UserByID(_ context.Context, id int64) (*schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := rec.User()
	return &u, nil
}

func (m *MemStore) UserByToken(_ context.Context, token string) (*schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.tokens[token]
	if !ok || token == "" {
		return nil, ErrUserNotFound
	}
	u := m.users[id].User()
	return &u, nil
}

func (m *MemStore) ListUsers(_ context.Context) ([]schema.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]schema.User, 0, len(m.users))
	for _, rec := range m.users {
		list = append(list, rec.User())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *MemStore) CreateUser(_ context.Context, u *schema.User) error {
	m.mu.Lock()
	if _, taken := m.tokens[u.AuthToken]; taken {
		m.mu.Unlock()
		return ErrDuplicateToken
	}
	if u.ID == 0 {
		m.nextUserID++
		u.ID = m.nextUserID
	} else if u.ID > m.nextUserID {
		m.nextUserID = u.ID
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	m.users[u.ID] = u.Record()
	m.tokens[u.AuthToken] = u.ID
	snapshot := m.copyUserData(u.ID)
	m.mu.Unlock()

	m.persist(snapshot)
	return nil
}

func (m *MemStore) AppendReading(_ context.Context, userID int64, channels schema.Channels) (*schema.Reading, error) {
	m.mu.Lock()
	if _, ok := m.users[userID]; !ok {
		m.mu.Unlock()
		return nil, ErrUserNotFound
	}

	// Timestamps are kept at microsecond precision, like Postgres, and
	// strictly increasing per insert.
	ts := m.now().UTC().Truncate(time.Microsecond)
	if !ts.After(m.lastStamp) {
		ts = m.lastStamp.Add(time.Microsecond)
	}
	m.lastStamp = ts
	m.nextReadingID++

	r := schema.Reading{
		ID:        m.nextReadingID,
		UserID:    userID,
		Timestamp: ts,
		Channels:  channels.Clone(),
	}
	m.readings[userID] = append(m.readings[userID], r)
	snapshot := m.copyUserData(userID)
	m.mu.Unlock()

	m.persist(snapshot)
	out := r
	out.Channels = r.Channels.Clone()
	return &out, nil
}

func (m *MemStore) ImportReading(_ context.Context, r schema.Reading) error {
	m.mu.Lock()
	if _, ok := m.users[r.UserID]; !ok {
		m.mu.Unlock()
		return ErrUserNotFound
	}
	m.nextReadingID++
	r.ID = m.nextReadingID
	r.Channels = r.Channels.Clone()
	if r.Timestamp.After(m.lastStamp) {
		m.lastStamp = r.Timestamp
	}
	m.readings[r.UserID] = append(m.readings[r.UserID], r)
	snapshot := m.copyUserData(r.UserID)
	m.mu.Unlock()

	m.persist(snapshot)
	return nil
}

func (m *MemStore) ListReadings(_ context.Context, userID int64) ([]schema.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.readings[userID]
	out := make([]schema.Reading, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].Channels = r.Channels.Clone()
	}
	return out, nil
}

// LatestNonNull scans the user's rows once. On equal timestamps the first
// row seen wins, which callers must not rely on.
func (m *MemStore) LatestNonNull(_ context.Context, userID int64, ch schema.Channel) (*schema.ChannelValue, error) {
	if !ch.Valid() {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *schema.Reading
	rows := m.readings[userID]
	for i := range rows {
		if rows[i].Channels[ch] == nil {
			continue
		}
		if best == nil || rows[i].Timestamp.After(best.Timestamp) {
			best = &rows[i]
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return &schema.ChannelValue{
		Channel:   ch,
		Value:     *best.Channels[ch],
		Timestamp: best.Timestamp,
	}, nil
}

// persist saves a snapshot in the background.
func (m *MemStore) persist(data *UserData) {
	if m.persister == nil || data == nil {
		return
	}
	m.wg.Add(1)
	go func(d UserData) {
		defer m.wg.Done()
		if err := m.persister.SaveUser(d); err != nil {
			log.WithError(err).WithField("user_id", d.User.ID).Error("store: persist failed")
		}
	}(*data)
}

// copyUserData bumps the user's version and returns a deep copy of its data.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) copyUserData(userID int64) *UserData {
	rec, ok := m.users[userID]
	if !ok {
		return nil
	}
	m.versions[userID]++
	rows := m.readings[userID]
	readings := make([]schema.Reading, len(rows))
	for i, r := range rows {
		readings[i] = r
		readings[i].Channels = r.Channels.Clone()
	}
	return &UserData{User: rec, Readings: readings, Version: m.versions[userID]}
}
