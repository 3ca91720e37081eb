package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/refdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ============================================================================
// IN-MEMORY LEDGER STORE
// ============================================================================

type memState struct {
	blocks      map[int64]Block
	entries     map[int64]Entry
	orders      map[int64]bool
	blockOrders map[int64]int64
	inClosing   map[int64]bool
	idemKeys    map[string]bool
	nextBlock   int64
	nextEntry   int64
}

func (s memState) clone() memState {
	c := memState{
		blocks:      make(map[int64]Block, len(s.blocks)),
		entries:     make(map[int64]Entry, len(s.entries)),
		orders:      make(map[int64]bool, len(s.orders)),
		blockOrders: make(map[int64]int64, len(s.blockOrders)),
		inClosing:   make(map[int64]bool, len(s.inClosing)),
		idemKeys:    make(map[string]bool, len(s.idemKeys)),
		nextBlock:   s.nextBlock,
		nextEntry:   s.nextEntry,
	}
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.blockOrders {
		c.blockOrders[k] = v
	}
	for k, v := range s.inClosing {
		c.inClosing[k] = v
	}
	for k, v := range s.idemKeys {
		c.idemKeys[k] = v
	}
	return c
}

type memStore struct {
	mu    sync.Mutex
	state memState
	// failures injects an error for the named repository method.
	failures map[string]error
	txCount  int
}

type mockRepository struct {
	store *memStore
	inTx  bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{store: &memStore{
		state: memState{
			blocks:      map[int64]Block{},
			entries:     map[int64]Entry{},
			orders:      map[int64]bool{},
			blockOrders: map[int64]int64{},
			inClosing:   map[int64]bool{},
			idemKeys:    map[string]bool{},
		},
		failures: map[string]error{},
	}}
}

// lock serializes calls made outside WithTx; inside a transaction the store
// mutex is already held.
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

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.txCount++
	snapshot := m.store.state.clone()
	if err := fn(ctx, &mockRepository{store: m.store, inTx: true}); err != nil {
		m.store.state = snapshot
		return err
	}
	return nil
}

func (m *mockRepository) LockCustomerBlocks(ctx context.Context, customerID int64) error {
	return m.fail("LockCustomerBlocks")
}

func (m *mockRepository) LockOrder(ctx context.Context, orderID int64) error {
	return m.fail("LockOrder")
}

func (m *mockRepository) ClaimIdempotencyKey(ctx context.Context, key string) error {
	defer m.lock()()
	if m.store.state.idemKeys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.store.state.idemKeys[key] = true
	return nil
}

func (m *mockRepository) InsertBlock(ctx context.Context, block Block) (Block, error) {
	defer m.lock()()
	if err := m.fail("InsertBlock"); err != nil {
		return Block{}, err
	}
	for _, b := range m.store.state.blocks {
		if b.CustomerID == block.CustomerID && b.Code == block.Code && b.Status == BlockStatusOpen {
			return Block{}, shared.Conflictf("open block %s already exists for customer %d", block.Code, block.CustomerID)
		}
	}
	m.store.state.nextBlock++
	block.ID = m.store.state.nextBlock
	m.store.state.blocks[block.ID] = block
	return block, nil
}

func (m *mockRepository) getBlock(id int64) (Block, error) {
	defer m.lock()()
	if err := m.fail("GetBlock"); err != nil {
		return Block{}, err
	}
	b, ok := m.store.state.blocks[id]
	if !ok {
		return Block{}, ErrNotFound
	}
	return b, nil
}

func (m *mockRepository) GetBlock(ctx context.Context, id int64) (Block, error) {
	return m.getBlock(id)
}

func (m *mockRepository) GetBlockForUpdate(ctx context.Context, id int64) (Block, error) {
	return m.getBlock(id)
}

func (m *mockRepository) GetBlockForShare(ctx context.Context, id int64) (Block, error) {
	return m.getBlock(id)
}

func (m *mockRepository) FindOpenBlockByCode(ctx context.Context, customerID int64, code string) (Block, error) {
	defer m.lock()()
	for _, b := range m.store.state.blocks {
		if b.CustomerID == customerID && b.Code == code && b.Status == BlockStatusOpen {
			return b, nil
		}
	}
	return Block{}, ErrNotFound
}

func (m *mockRepository) LatestOpenBlock(ctx context.Context, customerID int64) (Block, error) {
	defer m.lock()()
	var latest *Block
	for _, b := range m.store.state.blocks {
		b := b
		if b.CustomerID != customerID || b.Status != BlockStatusOpen {
			continue
		}
		if latest == nil || b.OpenedAt.After(latest.OpenedAt) || (b.OpenedAt.Equal(latest.OpenedAt) && b.ID > latest.ID) {
			latest = &b
		}
	}
	if latest == nil {
		return Block{}, ErrNotFound
	}
	return *latest, nil
}

func (m *mockRepository) ListBlocks(ctx context.Context, filter BlockFilter) ([]Block, error) {
	defer m.lock()()
	var out []Block
	for _, b := range m.store.state.blocks {
		if filter.CustomerID != nil && b.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockRepository) MarkBlockClosed(ctx context.Context, id int64, closedAt time.Time) error {
	defer m.lock()()
	b, ok := m.store.state.blocks[id]
	if !ok || b.Status != BlockStatusOpen {
		return ErrNotFound
	}
	b.Status = BlockStatusClosed
	b.ClosedAt = &closedAt
	m.store.state.blocks[id] = b
	return nil
}

func (m *mockRepository) OrderExists(ctx context.Context, orderID int64) (bool, error) {
	defer m.lock()()
	return m.store.state.orders[orderID], nil
}

func (m *mockRepository) OrderBlock(ctx context.Context, orderID int64) (int64, error) {
	defer m.lock()()
	blockID, ok := m.store.state.blockOrders[orderID]
	if !ok {
		return 0, ErrNotFound
	}
	return blockID, nil
}

func (m *mockRepository) AttachOrder(ctx context.Context, blockID, orderID, actorID int64) error {
	defer m.lock()()
	if _, ok := m.store.state.blockOrders[orderID]; ok {
		return shared.Conflictf("order %d already attached", orderID)
	}
	m.store.state.blockOrders[orderID] = blockID
	return nil
}

func (m *mockRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	defer m.lock()()
	if err := m.fail("InsertEntry"); err != nil {
		return Entry{}, err
	}
	m.store.state.nextEntry++
	entry.ID = m.store.state.nextEntry
	entry.CreatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry.UpdatedAt = entry.CreatedAt
	m.store.state.entries[entry.ID] = entry
	return entry, nil
}

func (m *mockRepository) getEntry(id int64) (Entry, error) {
	defer m.lock()()
	e, ok := m.store.state.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *mockRepository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return m.getEntry(id)
}

func (m *mockRepository) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return m.getEntry(id)
}

func (m *mockRepository) ListEntries(ctx context.Context, blockID int64, filter EntryFilter) ([]Entry, error) {
	defer m.lock()()
	var out []Entry
	for _, e := range m.store.state.entries {
		if e.BlockID != blockID {
			continue
		}
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) UpdateEntryStatus(ctx context.Context, id int64, status EntryStatus) error {
	defer m.lock()()
	if err := m.fail("UpdateEntryStatus"); err != nil {
		return err
	}
	e, ok := m.store.state.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	m.store.state.entries[id] = e
	return nil
}

func (m *mockRepository) DeleteEntry(ctx context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.store.state.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.store.state.entries, id)
	return nil
}

func (m *mockRepository) EntryInClosing(ctx context.Context, id int64) (bool, error) {
	defer m.lock()()
	return m.store.state.inClosing[id], nil
}

func (m *mockRepository) BlockBalance(ctx context.Context, blockID int64) (decimal.Decimal, error) {
	defer m.lock()()
	if err := m.fail("BlockBalance"); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range m.store.state.entries {
		if e.BlockID == blockID {
			total = total.Add(e.SignedAmount())
		}
	}
	return total, nil
}

// ============================================================================
// COLLABORATORS
// ============================================================================

type mockCustomers map[int64]bool

func (m mockCustomers) Exists(ctx context.Context, id int64) (bool, error) {
	return m[id], nil
}

type mockKinds map[string]refdata.KindRule

func (m mockKinds) Rule(ctx context.Context, label string) (refdata.KindRule, error) {
	code := refdata.NormalizeCode(label)
	if rule, ok := m[code]; ok {
		return rule, nil
	}
	return refdata.KindRule{Code: code, Label: label}, nil
}

type mockReceivables struct {
	totals map[int64]decimal.Decimal
	err    error
}

func (m mockReceivables) AccountsReceivable(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	if v, ok := m.totals[customerID]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

type mockAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (m *mockAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}
