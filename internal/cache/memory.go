package cache

import (
	"context"
	"sync"
)

// Memory is a bounded in-process DeliveryLog.
type Memory struct {
	mu    sync.Mutex
	max   int
	items []Delivery // oldest first
}

func NewMemory(max int) *Memory {
	if max <= 0 {
		max = defaultMaxEntries
	}
	return &Memory{max: max}
}

func (m *Memory) Record(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.items = append(m.items, d)
	if len(m.items) > m.max {
		m.items = append([]Delivery(nil), m.items[len(m.items)-m.max:]...)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Recent(ctx context.Context, page, pageSize int) ([]Delivery, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.items)
	start, stop, ok := pageBounds(page, pageSize)
	if !ok || start >= total {
		return []Delivery{}, int64(total), nil
	}
	out := make([]Delivery, 0, min(stop-start+1, total-start))
	for i := start; i <= stop && i < total; i++ {
		out = append(out, m.items[total-1-i])
	}
	return out, int64(total), nil
}

func (m *Memory) Close() error { return nil }
