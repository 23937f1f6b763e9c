package metadata

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"lukechampine.com/blake3"
)

// MemoryStore is a content-addressed in-process store. Identifiers are the
// blake3 digest of the stored bytes, so identical uploads share one entry.
type MemoryStore struct {
	mu      sync.RWMutex
	content map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	cid := "b3" + hex.EncodeToString(sum[:])
	s.mu.Lock()
	s.content[cid] = append([]byte(nil), data...)
	s.mu.Unlock()
	return cid, nil
}

func (s *MemoryStore) UploadMetadata(ctx context.Context, record Record) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("metadata: encode record: %w", err)
	}
	return s.Upload(ctx, data)
}

func (s *MemoryStore) Fetch(ctx context.Context, cid string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	data, ok := s.content[NormalizeCID(cid)]
	s.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("metadata: decode %s: %w", cid, err)
	}
	return record, nil
}
