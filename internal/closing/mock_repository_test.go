package closing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ============================================================================
// IN-MEMORY CLOSING STORE
// ============================================================================

type memState struct {
	headers  map[int64]Header
	items    map[int64]Item
	nextHead int64
	nextItem int64
}

func (s memState) clone() memState {
	c := memState{
		headers:  make(map[int64]Header, len(s.headers)),
		items:    make(map[int64]Item, len(s.items)),
		nextHead: s.nextHead,
		nextItem: s.nextItem,
	}
	for k, v := range s.headers {
		c.headers[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

type memStore struct {
	mu    sync.Mutex
	state memState
	// entries stands in for ledger_entries; tests mutate it between closings.
	entries  map[int64]ledger.Entry
	failures map[string]error
}

type mockRepository struct {
	store *memStore
	inTx  bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{store: &memStore{
		state:    memState{headers: map[int64]Header{}, items: map[int64]Item{}},
		entries:  map[int64]ledger.Entry{},
		failures: map[string]error{},
	}}
}

func (m *mockRepository) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.store.mu.Lock()
	return m.store.mu.Unlock
}

func (m *mockRepository) putEntry(e ledger.Entry) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.entries[e.ID] = e
}

func (m *mockRepository) headerCount() int {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return len(m.store.state.headers)
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	snapshot := m.store.state.clone()
	if err := fn(ctx, &mockRepository{store: m.store, inTx: true}); err != nil {
		m.store.state = snapshot
		return err
	}
	return nil
}

func (m *mockRepository) LockDate(context.Context, time.Time) error {
	return m.store.failures["LockDate"]
}

// ============================================================================
// HEADERS
// ============================================================================

func (m *mockRepository) findHeader(date time.Time) (Header, error) {
	for _, h := range m.store.state.headers {
		if h.ReferenceDate.Equal(date) {
			return h, nil
		}
	}
	return Header{}, ErrNotFound
}

func (m *mockRepository) GetHeader(_ context.Context, date time.Time) (Header, error) {
	defer m.lock()()
	return m.findHeader(date)
}

func (m *mockRepository) GetHeaderForUpdate(ctx context.Context, date time.Time) (Header, error) {
	return m.GetHeader(ctx, date)
}

func (m *mockRepository) InsertHeader(_ context.Context, h Header) (Header, error) {
	defer m.lock()()
	if _, err := m.findHeader(h.ReferenceDate); err == nil {
		return Header{}, shared.Conflictf("closing for %s already exists", h.ReferenceDate.Format(shared.DateLayout))
	}
	m.store.state.nextHead++
	h.ID = m.store.state.nextHead
	h.CreatedAt = time.Now()
	m.store.state.headers[h.ID] = h
	return h, nil
}

func (m *mockRepository) MarkReprocessed(_ context.Context, id int64, at time.Time) error {
	defer m.lock()()
	h, ok := m.store.state.headers[id]
	if !ok {
		return ErrNotFound
	}
	h.ReprocessedAt = &at
	m.store.state.headers[id] = h
	return nil
}

func (m *mockRepository) ListHeaders(_ context.Context, from, to *time.Time) ([]Header, error) {
	defer m.lock()()
	var out []Header
	for _, h := range m.store.state.headers {
		if from != nil && h.ReferenceDate.Before(*from) {
			continue
		}
		if to != nil && h.ReferenceDate.After(*to) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceDate.After(out[j].ReferenceDate) })
	return out, nil
}

// ============================================================================
// ITEMS
// ============================================================================

func (m *mockRepository) DeleteItems(_ context.Context, closingID int64) (int64, error) {
	defer m.lock()()
	var n int64
	for id, it := range m.store.state.items {
		if it.ClosingID == closingID {
			delete(m.store.state.items, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) SnapshotItems(_ context.Context, closingID int64, date time.Time) (int64, error) {
	defer m.lock()()
	if err := m.store.failures["SnapshotItems"]; err != nil {
		return 0, err
	}
	var n int64
	for _, e := range m.store.entries {
		if !ledger.DateOnly(e.EntryDate).Equal(date) {
			continue
		}
		m.store.state.nextItem++
		m.store.state.items[m.store.state.nextItem] = Item{
			ID:            m.store.state.nextItem,
			ClosingID:     closingID,
			ReferenceDate: date,
			EntryID:       e.ID,
			BlockID:       e.BlockID,
			Kind:          e.Kind,
			Direction:     e.Direction,
			Amount:        e.Amount,
			Status:        e.Status,
		}
		n++
	}
	return n, nil
}

func (m *mockRepository) ListItems(_ context.Context, closingID int64) ([]Item, error) {
	defer m.lock()()
	var out []Item
	for _, it := range m.store.state.items {
		if it.ClosingID == closingID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

// ============================================================================
// COLLABORATORS
// ============================================================================

type mockAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *mockAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *mockAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type mockMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *mockMetrics) ObserveClosing(operation, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[operation+"/"+result]++
}

func (m *mockMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func entry(id, blockID int64, kind ledger.EntryKind, dir ledger.Direction, amount string, status ledger.EntryStatus, date time.Time) ledger.Entry {
	return ledger.Entry{
		ID:        id,
		BlockID:   blockID,
		Kind:      kind,
		Direction: dir,
		Amount:    decimal.RequireFromString(amount),
		EntryDate: date,
		Status:    status,
	}
}
