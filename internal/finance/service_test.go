package finance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	dueDate  = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc   *Service
	repo  *mockRepository
	audit *mockAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepository()
	repo.store.state.blocks[1] = 10
	repo.store.state.blocks[2] = 11
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.WithNow(func() time.Time { return fixedNow })
	audit := &mockAudit{}
	svc.SetAuditRecorder(audit)
	return &fixture{svc: svc, repo: repo, audit: audit}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func checkEntry(id, blockID int64, amount string, created time.Time) memEntry {
	due := dueDate
	return memEntry{
		LinkedEntry: LinkedEntry{
			EntryID:      id,
			BlockID:      blockID,
			CustomerID:   10,
			Kind:         ledger.KindCheck,
			Direction:    ledger.DirectionInflow,
			Amount:       dec(amount),
			MaturityDate: &due,
		},
		Status:    ledger.EntryStatusPending,
		CreatedAt: created,
	}
}

func (f *fixture) openTitle(t *testing.T, in OpenTitleInput) Title {
	t.Helper()
	title, err := f.svc.OpenTitle(context.Background(), in)
	require.NoError(t, err)
	return title
}

func (f *fixture) settle(t *testing.T, titleID int64, amount string) SettleResult {
	t.Helper()
	res, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: titleID, Amount: dec(amount), ActorID: 3})
	require.NoError(t, err)
	return res
}

// ============================================================================
// OPEN
// ============================================================================

func TestService_OpenTitle(t *testing.T) {
	t.Run("defaults come from the tied entry", func(t *testing.T) {
		f := newFixture(t)
		f.repo.addEntry(checkEntry(500, 1, "300.00", fixedNow))

		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, EntryID: ptr(int64(500)), ActorID: 3})

		require.NotNil(t, title.BlockID)
		assert.Equal(t, int64(1), *title.BlockID)
		assert.Equal(t, ledger.KindCheck, title.Kind)
		assert.Equal(t, ledger.DirectionInflow, title.Direction)
		assert.True(t, dec("300").Equal(title.AmountGross))
		assert.True(t, dueDate.Equal(title.DueDate))
		assert.Equal(t, TitleStatusOpen, title.Status)
	})

	t.Run("entry of another customer is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.repo.addEntry(checkEntry(500, 1, "300.00", fixedNow))

		_, err := f.svc.OpenTitle(context.Background(), OpenTitleInput{CustomerID: 11, EntryID: ptr(int64(500))})
		var verr *shared.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldEntry, verr.Field)
	})

	t.Run("block of another customer is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.OpenTitle(context.Background(), OpenTitleInput{
			CustomerID: 10, BlockID: ptr(int64(2)), Kind: ledger.KindBoleto, AmountGross: dec("10"), DueDate: dueDate,
		})
		var verr *shared.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldBlock, verr.Field)
	})

	t.Run("missing entry is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.OpenTitle(context.Background(), OpenTitleInput{CustomerID: 10, EntryID: ptr(int64(42))})
		assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
	})

	t.Run("free title needs amount and due date", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.OpenTitle(context.Background(), OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, DueDate: dueDate})
		var verr *shared.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldAmount, verr.Field)

		_, err = f.svc.OpenTitle(context.Background(), OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("5")})
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldDueDate, verr.Field)
	})

	t.Run("direction follows the kind", func(t *testing.T) {
		f := newFixture(t)
		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindDiscount, AmountGross: dec("5"), DueDate: dueDate})
		assert.Equal(t, ledger.DirectionFor(ledger.KindDiscount), title.Direction)
	})
}

// ============================================================================
// SETTLE
// ============================================================================

func TestService_SettleTitle(t *testing.T) {
	t.Run("partial then total payment", func(t *testing.T) {
		f := newFixture(t)
		f.repo.addEntry(checkEntry(500, 1, "300.00", fixedNow))
		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, EntryID: ptr(int64(500))})

		res := f.settle(t, title.ID, "100.00")
		assert.Equal(t, TitleStatusPartial, res.Title.Status)
		assert.Nil(t, res.SettledEntryID)
		assert.Equal(t, ledger.EntryStatusPending, f.repo.entryStatus(500))
		assert.True(t, fixedNow.Equal(res.Settlement.PaidAt))

		res = f.settle(t, title.ID, "200.00")
		assert.Equal(t, TitleStatusPaid, res.Title.Status)
		require.NotNil(t, res.SettledEntryID)
		assert.Equal(t, int64(500), *res.SettledEntryID)
		assert.Equal(t, ledger.EntryStatusSettledInFinance, f.repo.entryStatus(500))

		settlements, err := f.svc.ListSettlements(context.Background(), title.ID)
		require.NoError(t, err)
		assert.Len(t, settlements, 2)
		assert.Equal(t, []string{"finance.title.settle", "finance.title.settle"}, f.audit.actions())
	})

	t.Run("overpayment is rejected", func(t *testing.T) {
		f := newFixture(t)
		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("50"), DueDate: dueDate})
		f.settle(t, title.ID, "30")

		_, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: title.ID, Amount: dec("20.01")})
		var verr *shared.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, FieldAmount, verr.Field)
		assert.Contains(t, verr.Message, "20.00")
	})

	t.Run("paid and cancelled titles conflict", func(t *testing.T) {
		f := newFixture(t)
		paid := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("50"), DueDate: dueDate})
		f.settle(t, paid.ID, "50")
		_, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: paid.ID, Amount: dec("1")})
		assert.Equal(t, shared.KindConflict, shared.KindOf(err))

		cancelled := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("50"), DueDate: dueDate})
		_, err = f.svc.CancelTitle(context.Background(), cancelled.ID, 3)
		require.NoError(t, err)
		_, err = f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: cancelled.ID, Amount: dec("1")})
		assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	})

	t.Run("unknown title", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: 77, Amount: dec("1")})
		assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: 1, Amount: dec("0")})
		assert.Equal(t, shared.KindValidation, shared.KindOf(err))
	})

	t.Run("failed settlement leaves the title untouched", func(t *testing.T) {
		f := newFixture(t)
		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("50"), DueDate: dueDate})
		f.repo.store.failures["InsertSettlement"] = errors.New("boom")

		_, err := f.svc.SettleTitle(context.Background(), SettleTitleInput{TitleID: title.ID, Amount: dec("50")})
		require.Error(t, err)
		got, err := f.svc.GetTitle(context.Background(), title.ID)
		require.NoError(t, err)
		assert.Equal(t, TitleStatusOpen, got.Status)
		assert.True(t, got.AmountSettled.IsZero())
	})
}

func TestService_SettleTitleMatchesEntry(t *testing.T) {
	t.Run("most recent plausible entry wins", func(t *testing.T) {
		f := newFixture(t)
		f.repo.addEntry(checkEntry(501, 1, "120.00", fixedNow.Add(-2*time.Hour)))
		f.repo.addEntry(checkEntry(502, 1, "120.01", fixedNow.Add(-time.Hour)))
		f.repo.addEntry(checkEntry(503, 1, "125.00", fixedNow))
		title := f.openTitle(t, OpenTitleInput{
			CustomerID: 10, BlockID: ptr(int64(1)), Kind: ledger.KindCheck, AmountGross: dec("120"), DueDate: dueDate,
		})

		res := f.settle(t, title.ID, "120")
		require.NotNil(t, res.SettledEntryID)
		assert.Equal(t, int64(502), *res.SettledEntryID)
		assert.Equal(t, ledger.EntryStatusPending, f.repo.entryStatus(501))
		assert.Equal(t, ledger.EntryStatusPending, f.repo.entryStatus(503))
	})

	t.Run("no plausible entry still settles the title", func(t *testing.T) {
		f := newFixture(t)
		other := checkEntry(504, 1, "80.00", fixedNow)
		other.Status = ledger.EntryStatusBounced
		f.repo.addEntry(other)
		title := f.openTitle(t, OpenTitleInput{
			CustomerID: 10, BlockID: ptr(int64(1)), Kind: ledger.KindCheck, AmountGross: dec("80"), DueDate: dueDate,
		})

		res := f.settle(t, title.ID, "80")
		assert.Equal(t, TitleStatusPaid, res.Title.Status)
		assert.Nil(t, res.SettledEntryID)
		assert.Equal(t, ledger.EntryStatusBounced, f.repo.entryStatus(504))
	})

	t.Run("tied entry already moved is left alone", func(t *testing.T) {
		f := newFixture(t)
		e := checkEntry(505, 1, "60.00", fixedNow)
		f.repo.addEntry(e)
		title := f.openTitle(t, OpenTitleInput{CustomerID: 10, EntryID: ptr(int64(505))})
		cancelled := f.repo.store.state.entries[505]
		cancelled.Status = ledger.EntryStatusCancelled
		f.repo.addEntry(cancelled)

		res := f.settle(t, title.ID, "60")
		assert.Equal(t, TitleStatusPaid, res.Title.Status)
		assert.Nil(t, res.SettledEntryID)
		assert.Equal(t, ledger.EntryStatusCancelled, f.repo.entryStatus(505))
	})
}

func TestBestMatch(t *testing.T) {
	due := dueDate
	other := dueDate.AddDate(0, 0, 1)
	title := Title{AmountGross: dec("100"), DueDate: dueDate}

	tests := []struct {
		name       string
		candidates []MatchCandidate
		want       int64
		found      bool
	}{
		{name: "empty"},
		{
			name:       "within tolerance",
			candidates: []MatchCandidate{{EntryID: 1, Amount: dec("99.99"), MaturityDate: &due}},
			want:       1, found: true,
		},
		{
			name:       "outside tolerance",
			candidates: []MatchCandidate{{EntryID: 1, Amount: dec("99.98"), MaturityDate: &due}},
		},
		{
			name: "different due date or none",
			candidates: []MatchCandidate{
				{EntryID: 1, Amount: dec("100"), MaturityDate: &other},
				{EntryID: 2, Amount: dec("100")},
			},
		},
		{
			name: "ties broken by id",
			candidates: []MatchCandidate{
				{EntryID: 3, Amount: dec("100"), MaturityDate: &due, CreatedAt: fixedNow},
				{EntryID: 4, Amount: dec("100"), MaturityDate: &due, CreatedAt: fixedNow},
			},
			want: 4, found: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bestMatch(title, tt.candidates)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// ============================================================================
// CANCEL & RECEIVABLE
// ============================================================================

func TestService_CancelTitle(t *testing.T) {
	f := newFixture(t)
	partial := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("50"), DueDate: dueDate})
	f.settle(t, partial.ID, "10")

	_, err := f.svc.CancelTitle(context.Background(), partial.ID, 3)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	open := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("20"), DueDate: dueDate})
	cancelled, err := f.svc.CancelTitle(context.Background(), open.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, TitleStatusCancelled, cancelled.Status)
	assert.Contains(t, f.audit.actions(), "finance.title.cancel")

	_, err = f.svc.CancelTitle(context.Background(), 999, 3)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestService_AccountsReceivable(t *testing.T) {
	f := newFixture(t)
	a := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("100"), DueDate: dueDate})
	f.settle(t, a.ID, "40")
	b := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("30"), DueDate: dueDate})
	c := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("25"), DueDate: dueDate})
	f.settle(t, c.ID, "25")
	d := f.openTitle(t, OpenTitleInput{CustomerID: 10, Kind: ledger.KindBoleto, AmountGross: dec("70"), DueDate: dueDate})
	_, err := f.svc.CancelTitle(context.Background(), d.ID, 3)
	require.NoError(t, err)
	f.openTitle(t, OpenTitleInput{CustomerID: 11, Kind: ledger.KindBoleto, AmountGross: dec("999"), DueDate: dueDate})

	total, err := f.svc.AccountsReceivable(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "90.00", total.StringFixed(2))

	status := TitleStatusOpen
	titles, err := f.svc.ListTitles(context.Background(), TitleFilter{CustomerID: ptr(int64(10)), Status: &status})
	require.NoError(t, err)
	require.Len(t, titles, 1)
	assert.Equal(t, b.ID, titles[0].ID)
}

func TestTitleStatus_UnmarshalText(t *testing.T) {
	var s TitleStatus
	require.NoError(t, s.UnmarshalText([]byte("pago")))
	assert.Equal(t, TitleStatusPaid, s)
	assert.Error(t, s.UnmarshalText([]byte("limbo")))
}
