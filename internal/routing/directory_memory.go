package routing

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and local development.
type MemoryDirectory struct {
	mu        sync.Mutex
	numbers   map[string]NumberEntry
	customers map[string]string // key: workspace_id|phone
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{numbers: map[string]NumberEntry{}, customers: map[string]string{}}
}

func (m *MemoryDirectory) PutNumber(n NumberEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.Number = NormalizePhone(n.Number)
	m.numbers[n.Number] = n
}

func (m *MemoryDirectory) PutCustomer(workspaceID, phone, customerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[workspaceID+"|"+NormalizePhone(phone)] = customerID
}

func (m *MemoryDirectory) LookupNumber(ctx context.Context, number string) (NumberEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.numbers[number]
	if !ok {
		return NumberEntry{}, ErrUnknownNumber
	}
	return n, nil
}

func (m *MemoryDirectory) LookupCustomer(ctx context.Context, workspaceID, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.customers[workspaceID+"|"+phone]
	if !ok {
		return "", ErrNoCustomer
	}
	return id, nil
}
