package engine

import (
	"sync"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/plan"
)

// RowSource supplies the rows a scan node yields. storage.RowStore and
// MemSource both implement it.
type RowSource interface {
	Scan(entity dynfilter.TypeID) ([]plan.Row, error)
}

// MemSource is an in-memory row source for tests and small demos.
type MemSource struct {
	mu   sync.RWMutex
	rows map[dynfilter.TypeID][]plan.Row
}

func NewMemSource() *MemSource {
	return &MemSource{rows: make(map[dynfilter.TypeID][]plan.Row)}
}

// Add appends rows for entity.
func (m *MemSource) Add(entity dynfilter.TypeID, rows ...plan.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[entity] = append(m.rows[entity], rows...)
}

// Scan implements RowSource.
func (m *MemSource) Scan(entity dynfilter.TypeID) ([]plan.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]plan.Row(nil), m.rows[entity]...), nil
}
