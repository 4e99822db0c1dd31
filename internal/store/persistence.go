package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/udit1567/Home.auto/pkg/schema"
)

// UserData is everything the embedded store keeps for one user.
type UserData struct {
	User     schema.UserRecord `json:"user"`
	Readings []schema.Reading  `json:"readings"`
	// Version increases with every change to the user. Older snapshots never
	// overwrite newer ones on disk.
	Version uint64 `json:"version"`
}

// Persistence handles the disk I/O for the MemStore: one JSON file per user.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	written map[int64]uint64
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir, written: make(map[int64]uint64)}, nil
}

func (p *Persistence) userFile(id int64) string {
	return filepath.Join(p.DataDir, fmt.Sprintf("user-%d.json", id))
}

// SaveUser writes a single user's data to a JSON file atomically. A snapshot
// whose version is not newer than the last one written is dropped.
func (p *Persistence) SaveUser(data UserData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.written[data.User.ID]; ok && data.Version <= last {
		return nil
	}

	filePath := p.userFile(data.User.ID)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, bytes, 0600); err != nil {
		return err
	}

	// Rename is atomic on the same filesystem: readers see the old file or the new one.
	if err := os.Rename(tempPath, filePath); err != nil {
		return err
	}
	p.written[data.User.ID] = data.Version
	return nil
}

// LoadAll returns all user data found in the data directory.
func (p *Persistence) LoadAll() ([]UserData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	var all []UserData
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "user-") || filepath.Ext(name) != ".json" {
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			log.WithError(err).WithField("file", name).Warn("store: could not read user file")
			continue
		}

		var data UserData
		if err := json.Unmarshal(content, &data); err != nil {
			log.WithError(err).WithField("file", name).Warn("store: could not unmarshal user file")
			continue
		}
		if data.Version > p.written[data.User.ID] {
			p.written[data.User.ID] = data.Version
		}
		all = append(all, data)
	}
	return all, nil
}
