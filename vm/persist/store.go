package persist

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/vavoomc/vm"
	_ "modernc.org/sqlite"
)

// ErrSlotNotFound indicates the requested save slot doesn't exist.
var ErrSlotNotFound = errors.New("save slot not found")

// SlotInfo describes a stored snapshot.
type SlotInfo struct {
	Slot    string
	Objects int
	SavedAt time.Time
	Size    int
}

// Store keeps snapshots in named save slots in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenStore opens (creating if needed) the save database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS saves (
		slot TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		objects INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores an encoded snapshot under slot, replacing any previous one.
func (s *Store) Put(slot string, snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO saves (slot, data, objects, saved_at) VALUES (?, ?, ?, ?)",
		slot, data, len(snap.Objects), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving slot %q: %w", slot, err)
	}
	return nil
}

// Get loads and decodes the snapshot in slot.
func (s *Store) Get(slot string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM saves WHERE slot = ?", slot).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%q: %w", slot, ErrSlotNotFound)
		}
		return nil, fmt.Errorf("querying slot %q: %w", slot, err)
	}
	return Decode(data)
}

// Save captures rt and stores it under slot.
func (s *Store) Save(rt *vm.Runtime, slot string) (*Snapshot, error) {
	snap, err := Capture(rt)
	if err != nil {
		return nil, err
	}
	if err := s.Put(slot, snap); err != nil {
		return nil, err
	}
	log.Infof("saved %d objects to slot %q", len(snap.Objects), slot)
	return snap, nil
}

// Load restores the snapshot in slot into rt.
func (s *Store) Load(rt *vm.Runtime, slot string) (map[uint64]*vm.Object, error) {
	snap, err := s.Get(slot)
	if err != nil {
		return nil, err
	}
	return Restore(rt, snap)
}

// Slots lists the stored save slots, most recent first.
func (s *Store) Slots() ([]SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT slot, objects, saved_at, length(data) FROM saves ORDER BY saved_at DESC, slot")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	var out []SlotInfo
	for rows.Next() {
		var info SlotInfo
		var savedAt int64
		if err := rows.Scan(&info.Slot, &info.Objects, &savedAt, &info.Size); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a save slot.
func (s *Store) Delete(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM saves WHERE slot = ?", slot)
	if err != nil {
		return fmt.Errorf("deleting slot %q: %w", slot, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%q: %w", slot, ErrSlotNotFound)
	}
	return nil
}
