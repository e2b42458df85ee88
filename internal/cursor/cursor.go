// Package cursor persists the resumable sync checkpoint between runs.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CurrentVersion is written on every save.
const CurrentVersion = 2

// ErrCorrupt is returned when the state file exists but cannot be decoded.
var ErrCorrupt = errors.New("cursor: corrupt state file")

// Cursor is the checkpoint of the last successfully processed position.
type Cursor struct {
	// LastProcessedTimestamp is nil before the first successful run.
	LastProcessedTimestamp *int64
	// IDsAtLastProcessedTimestamp holds the ids already processed at exactly
	// LastProcessedTimestamp.
	IDsAtLastProcessedTimestamp map[string]struct{}
	RunCount                    int

	// Legacy is set when the cursor was loaded from a pre-versioned file
	// that carried no id set.
	Legacy bool
}

// IsBootstrap reports whether no run has ever advanced the cursor.
func (c Cursor) IsBootstrap() bool {
	return c.LastProcessedTimestamp == nil
}

// Seen reports whether (ts, id) is at or behind the cursor.
func (c Cursor) Seen(ts int64, id string) bool {
	if c.LastProcessedTimestamp == nil {
		return false
	}
	last := *c.LastProcessedTimestamp
	if ts < last {
		return true
	}
	if ts == last {
		_, ok := c.IDsAtLastProcessedTimestamp[id]
		return ok
	}
	return false
}

// Advance replaces the position with ts and ids. The id set is never merged
// with the previous one.
func (c *Cursor) Advance(ts int64, ids []string) {
	c.LastProcessedTimestamp = &ts
	c.IDsAtLastProcessedTimestamp = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.IDsAtLastProcessedTimestamp[id] = struct{}{}
	}
	c.Legacy = false
}

// IDs returns the id set sorted.
func (c Cursor) IDs() []string {
	out := make([]string, 0, len(c.IDsAtLastProcessedTimestamp))
	for id := range c.IDsAtLastProcessedTimestamp {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fileV2 struct {
	Version                     int      `json:"version"`
	LastProcessedTimestamp      *int64   `json:"last_processed_timestamp"`
	IDsAtLastProcessedTimestamp []string `json:"ids_at_last_processed_timestamp"`
	RunCount                    int      `json:"run_count"`
}

// fileAny covers every shape ever written to disk.
type fileAny struct {
	Version                     *int     `json:"version"`
	LastProcessedTimestamp      *int64   `json:"last_processed_timestamp"`
	IDsAtLastProcessedTimestamp []string `json:"ids_at_last_processed_timestamp"`
	RunCount                    int      `json:"run_count"`

	LastInternalDateMS       *int64   `json:"last_internal_date_ms"`
	LastMessageIDsAtLatestTS []string `json:"last_message_ids_at_latest_ts"`
	Runs                     int      `json:"runs"`
	LastHistoryTime          *string  `json:"last_history_TIME"`
}

// Store reads and writes the cursor file at Path.
type Store struct {
	Path string
}

// NewStore returns a store for the given file path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the cursor. A missing file yields a fresh bootstrap cursor.
func (s *Store) Load() (Cursor, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Cursor{IDsAtLastProcessedTimestamp: map[string]struct{}{}}, nil
		}
		return Cursor{}, fmt.Errorf("read cursor: %w", err)
	}
	return Decode(data)
}

// Decode parses any known cursor file shape.
func Decode(data []byte) (Cursor, error) {
	var raw fileAny
	if err := json.Unmarshal(data, &raw); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	c := Cursor{IDsAtLastProcessedTimestamp: map[string]struct{}{}}

	if raw.Version != nil {
		if *raw.Version > CurrentVersion {
			return Cursor{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, *raw.Version)
		}
		c.LastProcessedTimestamp = raw.LastProcessedTimestamp
		c.RunCount = raw.RunCount
		for _, id := range raw.IDsAtLastProcessedTimestamp {
			c.IDsAtLastProcessedTimestamp[id] = struct{}{}
		}
		return c, nil
	}

	// Unversioned files: the current keys without a version, or the older
	// last_internal_date_ms layout.
	if raw.LastProcessedTimestamp != nil || raw.IDsAtLastProcessedTimestamp != nil || raw.RunCount != 0 {
		c.LastProcessedTimestamp = raw.LastProcessedTimestamp
		c.RunCount = raw.RunCount
		for _, id := range raw.IDsAtLastProcessedTimestamp {
			c.IDsAtLastProcessedTimestamp[id] = struct{}{}
		}
		return c, nil
	}

	c.LastProcessedTimestamp = raw.LastInternalDateMS
	c.RunCount = raw.Runs
	for _, id := range raw.LastMessageIDsAtLatestTS {
		c.IDsAtLastProcessedTimestamp[id] = struct{}{}
	}
	c.Legacy = raw.LastMessageIDsAtLatestTS == nil && raw.LastInternalDateMS != nil
	return c, nil
}

// Encode renders the current file shape.
func Encode(c Cursor) ([]byte, error) {
	return json.MarshalIndent(fileV2{
		Version:                     CurrentVersion,
		LastProcessedTimestamp:      c.LastProcessedTimestamp,
		IDsAtLastProcessedTimestamp: c.IDs(),
		RunCount:                    c.RunCount,
	}, "", "  ")
}

// Save writes the cursor atomically: a temp file in the same directory is
// renamed over the target.
func (s *Store) Save(c Cursor) error {
	data, err := Encode(c)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cursor: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cursor: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
