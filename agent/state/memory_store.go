package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	payload   []byte
	version   int
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps JSON-encoded snapshots in process. Callers never share
// pointers with the store.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, ErrInvalidSession
	}
	entry, ok := s.entries.Load(conversationID)
	if !ok {
		return nil, ErrStateNotFound
	}
	if entry.expired(s.now()) {
		s.entries.Delete(conversationID)
		return nil, ErrStateNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(entry.payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	snap.ensureContext()
	return &snap, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepareForSave(snap); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	now := s.now()
	entry := memoryEntry{payload: payload, version: snap.Version}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}

	conflict := false
	s.entries.Compute(snap.ConversationID, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && !old.expired(now) && old.version >= entry.version {
			conflict = true
			return old, false
		}
		return entry, false
	})
	if conflict {
		return fmt.Errorf("%w: conversation=%s version=%d", ErrVersionConflict, snap.ConversationID, snap.Version)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conversationID == "" {
		return ErrInvalidSession
	}
	s.entries.Delete(conversationID)
	return nil
}

func (s *MemoryStore) Len() int {
	return s.entries.Size()
}
