// Package orderlog persists the audit trail of order activity. Every
// placement, rejection and cancel appends a record keyed by the order's
// idempotency key.
package orderlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bulltrade/gateway/internal/domain"
)

// Memory is the in-process order log used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	records []domain.OrderRecord
}

// NewMemory creates an empty in-process log.
func NewMemory() *Memory { return &Memory{} }

// Append implements domain.OrderLog.
func (m *Memory) Append(_ context.Context, idempotencyKey, status, orderID, resultJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, domain.OrderRecord{
		IdempotencyKey: idempotencyKey,
		Status:         status,
		OrderID:        orderID,
		ResultJSON:     resultJSON,
		LoggedAt:       time.Now(),
	})
	return nil
}

// QueryLatestPerOrder implements domain.OrderLog. Time bounds are RFC3339;
// empty strings mean unbounded.
func (m *Memory) QueryLatestPerOrder(_ context.Context, fromTime, toTime string, limit int) ([]domain.OrderRecord, error) {
	var from, to time.Time
	var err error
	if fromTime != "" {
		if from, err = time.Parse(time.RFC3339, fromTime); err != nil {
			return nil, fmt.Errorf("orderlog: bad fromTime: %w", err)
		}
	}
	if toTime != "" {
		if to, err = time.Parse(time.RFC3339, toTime); err != nil {
			return nil, fmt.Errorf("orderlog: bad toTime: %w", err)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]domain.OrderRecord)
	for _, rec := range m.records {
		if !from.IsZero() && rec.LoggedAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.LoggedAt.After(to) {
			continue
		}
		if prev, ok := latest[rec.OrderID]; !ok || rec.LoggedAt.After(prev.LoggedAt) {
			latest[rec.OrderID] = rec
		}
	}

	out := make([]domain.OrderRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetByOrderID implements domain.OrderLog, returning the newest record for
// the order or nil when unknown.
func (m *Memory) GetByOrderID(_ context.Context, orderID string) (*domain.OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].OrderID == orderID {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}
