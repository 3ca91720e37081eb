package finance

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
// IN-MEMORY FINANCE STORE
// ============================================================================

type memEntry struct {
	LinkedEntry
	Status    ledger.EntryStatus
	CreatedAt time.Time
}

type memState struct {
	titles      map[int64]Title
	settlements map[int64]Settlement
	blocks      map[int64]int64
	entries     map[int64]memEntry
	nextTitle   int64
	nextSettle  int64
}

func (s memState) clone() memState {
	c := memState{
		titles:      make(map[int64]Title, len(s.titles)),
		settlements: make(map[int64]Settlement, len(s.settlements)),
		blocks:      make(map[int64]int64, len(s.blocks)),
		entries:     make(map[int64]memEntry, len(s.entries)),
		nextTitle:   s.nextTitle,
		nextSettle:  s.nextSettle,
	}
	for k, v := range s.titles {
		c.titles[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

type memStore struct {
	mu       sync.Mutex
	state    memState
	failures map[string]error
}

type mockRepository struct {
	store *memStore
	inTx  bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{store: &memStore{
		state: memState{
			titles:      map[int64]Title{},
			settlements: map[int64]Settlement{},
			blocks:      map[int64]int64{},
			entries:     map[int64]memEntry{},
		},
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

func (m *mockRepository) fail(method string) error {
	return m.store.failures[method]
}

func (m *mockRepository) addEntry(e memEntry) {
	m.store.state.entries[e.EntryID] = e
}

func (m *mockRepository) entryStatus(id int64) ledger.EntryStatus {
	return m.store.state.entries[id].Status
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

// ============================================================================
// TITLES
// ============================================================================

func (m *mockRepository) InsertTitle(_ context.Context, t Title) (Title, error) {
	defer m.lock()()
	if err := m.fail("InsertTitle"); err != nil {
		return Title{}, err
	}
	m.store.state.nextTitle++
	t.ID = m.store.state.nextTitle
	t.AmountSettled = decimal.Zero
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.store.state.titles[t.ID] = t
	return t, nil
}

func (m *mockRepository) GetTitle(_ context.Context, id int64) (Title, error) {
	defer m.lock()()
	t, ok := m.store.state.titles[id]
	if !ok {
		return Title{}, ErrNotFound
	}
	return t, nil
}

func (m *mockRepository) GetTitleForUpdate(ctx context.Context, id int64) (Title, error) {
	return m.GetTitle(ctx, id)
}

func (m *mockRepository) ListTitles(_ context.Context, filter TitleFilter) ([]Title, error) {
	defer m.lock()()
	var out []Title
	for _, t := range m.store.state.titles {
		if filter.CustomerID != nil && t.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (m *mockRepository) UpdateTitleSettlement(_ context.Context, id int64, settled decimal.Decimal, status TitleStatus) error {
	defer m.lock()()
	t, ok := m.store.state.titles[id]
	if !ok {
		return ErrNotFound
	}
	t.AmountSettled = settled
	t.Status = status
	m.store.state.titles[id] = t
	return nil
}

func (m *mockRepository) UpdateTitleStatus(_ context.Context, id int64, status TitleStatus) error {
	defer m.lock()()
	t, ok := m.store.state.titles[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	m.store.state.titles[id] = t
	return nil
}

// ============================================================================
// SETTLEMENTS
// ============================================================================

func (m *mockRepository) InsertSettlement(_ context.Context, s Settlement) (Settlement, error) {
	defer m.lock()()
	if err := m.fail("InsertSettlement"); err != nil {
		return Settlement{}, err
	}
	m.store.state.nextSettle++
	s.ID = m.store.state.nextSettle
	s.CreatedAt = time.Now()
	m.store.state.settlements[s.ID] = s
	return s, nil
}

func (m *mockRepository) ListSettlements(_ context.Context, titleID int64) ([]Settlement, error) {
	defer m.lock()()
	var out []Settlement
	for _, s := range m.store.state.settlements {
		if s.TitleID == titleID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) CountSettlements(ctx context.Context, titleID int64) (int, error) {
	out, err := m.ListSettlements(ctx, titleID)
	return len(out), err
}

// ============================================================================
// LEDGER LINKS
// ============================================================================

func (m *mockRepository) BlockCustomer(_ context.Context, blockID int64) (int64, error) {
	defer m.lock()()
	customerID, ok := m.store.state.blocks[blockID]
	if !ok {
		return 0, ErrNotFound
	}
	return customerID, nil
}

func (m *mockRepository) LinkedEntry(_ context.Context, entryID int64) (LinkedEntry, error) {
	defer m.lock()()
	e, ok := m.store.state.entries[entryID]
	if !ok {
		return LinkedEntry{}, ErrNotFound
	}
	return e.LinkedEntry, nil
}

func (m *mockRepository) MatchCandidates(_ context.Context, t Title) ([]MatchCandidate, error) {
	defer m.lock()()
	if t.BlockID == nil {
		return nil, nil
	}
	var out []MatchCandidate
	for _, e := range m.store.state.entries {
		if e.BlockID != *t.BlockID || e.Direction != t.Direction || e.Kind != t.Kind {
			continue
		}
		if e.Status != ledger.EntryStatusPending && e.Status != ledger.EntryStatusSettled {
			continue
		}
		out = append(out, MatchCandidate{EntryID: e.EntryID, Amount: e.Amount, MaturityDate: e.MaturityDate, CreatedAt: e.CreatedAt})
	}
	return out, nil
}

func (m *mockRepository) MarkEntrySettledInFinance(_ context.Context, entryID int64) (bool, error) {
	defer m.lock()()
	e, ok := m.store.state.entries[entryID]
	if !ok || (e.Status != ledger.EntryStatusPending && e.Status != ledger.EntryStatusSettled) {
		return false, nil
	}
	e.Status = ledger.EntryStatusSettledInFinance
	m.store.state.entries[entryID] = e
	return true, nil
}

// ============================================================================
// RECEIVABLES
// ============================================================================

func (m *mockRepository) Receivable(_ context.Context, customerID int64) (decimal.Decimal, error) {
	defer m.lock()()
	total := decimal.Zero
	for _, t := range m.store.state.titles {
		if t.CustomerID == customerID && t.Status.Outstanding() {
			total = total.Add(t.Outstanding())
		}
	}
	return total, nil
}

// ============================================================================
// AUDIT
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
