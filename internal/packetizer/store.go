package packetizer

import (
	"errors"
	"fmt"
	"sync"

	"cmafpack/internal/media"
)

// SegmentRecord is one finalized segment as handed to the store.
type SegmentRecord struct {
	Sequence       uint32
	Name           string
	StartTimestamp int64
	DurationTicks  int64
	Payload        []byte
}

// SegmentStore persists finalized segments, subject to a retention window.
// Add may reject a record, in which case the assembler reports the finalize
// as failed and moves on.
type SegmentStore interface {
	Add(kind media.TrackKind, rec SegmentRecord) error
	Lookup(name string) (SegmentRecord, bool)
}

// ErrStoreClosed is returned by Add after the store has been closed.
var ErrStoreClosed = errors.New("segment store is closed")

// MemoryStore keeps per-track segment histories in memory, evicting the
// oldest record once the retention window is exceeded.
type MemoryStore struct {
	mu     sync.Mutex
	retain int
	closed bool
	tracks map[media.TrackKind][]SegmentRecord
}

// NewMemoryStore creates a store retaining up to retain segments per track.
func NewMemoryStore(retain int) *MemoryStore {
	if retain < 1 {
		retain = 1
	}
	return &MemoryStore{
		retain: retain,
		tracks: make(map[media.TrackKind][]SegmentRecord),
	}
}

func (m *MemoryStore) Add(kind media.TrackKind, rec SegmentRecord) error {
	if rec.Name == "" || len(rec.Payload) == 0 {
		return fmt.Errorf("rejecting empty segment record %q", rec.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	history := m.tracks[kind]
	if n := len(history); n > 0 && rec.Sequence <= history[n-1].Sequence {
		return fmt.Errorf("segment %q: sequence %d not after %d", rec.Name, rec.Sequence, history[n-1].Sequence)
	}
	history = append(history, rec)
	if len(history) > m.retain {
		history = history[len(history)-m.retain:]
	}
	m.tracks[kind] = history
	return nil
}

func (m *MemoryStore) Lookup(name string) (SegmentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, history := range m.tracks {
		for i := range history {
			if history[i].Name == name {
				return history[i], true
			}
		}
	}
	return SegmentRecord{}, false
}

// Count returns how many segments are currently retained for a track.
func (m *MemoryStore) Count(kind media.TrackKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks[kind])
}

// Close makes all subsequent Add calls fail. Existing records remain
// readable.
func (m *MemoryStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
