package rules

import (
	"context"
	"sync"

	"github.com/matthewbaird/payoutrules/internal/types"
)

// MemoryStore implements Store in process memory. Each owner's state is an
// immutable Snapshot replaced wholesale on commit, so readers never lock.
type MemoryStore struct {
	writeMu   sync.Mutex
	snapshots sync.Map // owner ID → *Snapshot
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Snapshot(_ context.Context, ownerID string) (*Snapshot, error) {
	if v, ok := s.snapshots.Load(ownerID); ok {
		return v.(*Snapshot), nil
	}
	return EmptySnapshot(ownerID), nil
}

func (s *MemoryStore) Update(ctx context.Context, ownerID string, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, _ := s.Snapshot(ctx, ownerID)
	tx := &memoryTx{workingSet: newWorkingSet(current)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.snapshots.Store(ownerID, tx.snapshot())
	return nil
}

type memoryTx struct {
	*workingSet
}

func (tx *memoryTx) PutTemplate(t types.Template) error {
	tx.putTemplate(t)
	return nil
}

func (tx *memoryTx) DeleteTemplate(id string) ([]string, error) {
	removed, ok := tx.deleteTemplate(id)
	if !ok {
		return nil, notFound("template", id)
	}
	return removed, nil
}

func (tx *memoryTx) PutRule(r types.Rule) error {
	tx.putRule(r)
	return nil
}

func (tx *memoryTx) DeleteRule(id string) error {
	if !tx.deleteRule(id) {
		return notFound("rule", id)
	}
	return nil
}
