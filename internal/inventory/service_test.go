package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokoarang/storefront/internal/platform/httpx"
	"github.com/tokoarang/storefront/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	rows         map[string]Transaction
	summary      *Summary
	insertErr    error
	recomputeErr error
	recomputes   int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: make(map[string]Transaction)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	r.recomputes++
	err := r.recomputeErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) InsertTransaction(ctx context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.rows[t.ID] = t
	return nil
}

func (r *memoryRepo) UpdateTransaction(ctx context.Context, t Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[t.ID]; !ok {
		return ErrTransactionNotFound
	}
	r.rows[t.ID] = t
	return nil
}

func (r *memoryRepo) DeleteTransaction(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrTransactionNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memoryRepo) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (r *memoryRepo) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	out := []Transaction{}
	for _, t := range r.sorted() {
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TransactionDate.After(out[j].TransactionDate) })
	return out, nil
}

func (r *memoryRepo) OrderMovements(ctx context.Context, orderID string) ([]Transaction, error) {
	out := []Transaction{}
	for _, t := range r.sorted() {
		if t.DocumentReference == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetSummary(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil {
		return Summary{}, ErrSummaryNotFound
	}
	return *r.summary, nil
}

func (r *memoryRepo) sorted() []Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transaction, 0, len(r.rows))
	for _, t := range r.rows {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out
}

func (tx *memoryTx) ListAllTransactions(ctx context.Context) ([]Transaction, error) {
	return tx.repo.sorted(), nil
}

func (tx *memoryTx) GetSummaryForUpdate(ctx context.Context) (Summary, error) {
	return tx.repo.GetSummary(ctx)
}

func (tx *memoryTx) InsertSummary(ctx context.Context, s Summary) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.summary = &s
	return nil
}

func (tx *memoryTx) UpdateSummary(ctx context.Context, s Summary) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if tx.repo.summary == nil || tx.repo.summary.ID != s.ID {
		return errors.New("summary row missing")
	}
	tx.repo.summary = &s
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type countingReconciler struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReconciler) ScheduleSummaryReconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type countingLocker struct {
	acquired int
	released int
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

type ledgerFixture struct {
	svc        *Service
	repo       *memoryRepo
	idem       *memoryIdempotency
	audit      *recordingAudit
	reconciler *countingReconciler
	locker     *countingLocker
}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	f := ledgerFixture{
		repo:       newMemoryRepo(),
		idem:       &memoryIdempotency{keys: make(map[string]string)},
		audit:      &recordingAudit{},
		reconciler: &countingReconciler{},
		locker:     &countingLocker{},
	}
	f.svc = NewService(f.repo, f.audit, f.idem, ServiceConfig{
		Locker:     f.locker,
		Reconciler: f.reconciler,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:      func() time.Time { return fixedNow },
	})
	return f
}

func price(v float64) *float64 { return &v }

func day(n int) time.Time {
	return time.Date(2024, 2, n, 10, 0, 0, 0, time.UTC)
}

func incoming(date time.Time, qty float64, grade QualityGrade, pricePerKg *float64) TransactionInput {
	return TransactionInput{
		TransactionDate:   date,
		Type:              TransactionTypeIncoming,
		QuantityKg:        qty,
		SourceDestination: "Supplier Batok Jaya",
		QualityGrade:      grade,
		PricePerKg:        pricePerKg,
		CreatedBy:         "staff-1",
	}
}

func TestComputeSummaryDepletesCheapestTierFirst(t *testing.T) {
	summary := ComputeSummary([]Transaction{
		{TransactionDate: day(1), Type: TransactionTypeIncoming, QuantityKg: 100, QualityGrade: GradePremium},
		{TransactionDate: day(2), Type: TransactionTypeIncoming, QuantityKg: 50, QualityGrade: GradeStandard},
		{TransactionDate: day(3), Type: TransactionTypeIncoming, QuantityKg: 30, QualityGrade: GradeEconomy},
		{TransactionDate: day(4), Type: TransactionTypeOutgoing, QuantityKg: 60},
	})

	require.InDelta(t, 0, summary.EconomyStockKg, 0.0001)
	require.InDelta(t, 20, summary.StandardStockKg, 0.0001)
	require.InDelta(t, 100, summary.PremiumStockKg, 0.0001)
	require.InDelta(t, 120, summary.CurrentStockKg, 0.0001)
	require.Equal(t, day(4), *summary.LastTransactionDate)
}

func TestComputeSummaryOrdersByDate(t *testing.T) {
	// The outgoing row is listed first but happened after the economy stock arrived.
	summary := ComputeSummary([]Transaction{
		{TransactionDate: day(5), Type: TransactionTypeOutgoing, QuantityKg: 10},
		{TransactionDate: day(1), Type: TransactionTypeIncoming, QuantityKg: 10, QualityGrade: GradeEconomy},
		{TransactionDate: day(2), Type: TransactionTypeIncoming, QuantityKg: 10, QualityGrade: GradePremium},
	})

	require.InDelta(t, 0, summary.EconomyStockKg, 0.0001)
	require.InDelta(t, 10, summary.PremiumStockKg, 0.0001)
}

func TestComputeSummaryExcludesCancellationReturnsFromIncoming(t *testing.T) {
	summary := ComputeSummary([]Transaction{
		{TransactionDate: day(1), Type: TransactionTypeIncoming, QuantityKg: 100, QualityGrade: GradeStandard, PricePerKg: price(10000)},
		{TransactionDate: day(2), Type: TransactionTypeOutgoing, QuantityKg: 40, Reason: ReasonOrderDepletion},
		{TransactionDate: day(3), Type: TransactionTypeIncoming, QuantityKg: 40, Reason: ReasonOrderCancellationReturn, PricePerKg: price(1)},
	})

	require.InDelta(t, 100, summary.TotalIncomingKg, 0.0001)
	require.InDelta(t, 40, summary.TotalOutgoingKg, 0.0001)
	require.InDelta(t, 100, summary.CurrentStockKg, 0.0001)
	require.InDelta(t, 10000, summary.AveragePricePerKg, 0.0001)
	require.InDelta(t, 1000000, summary.StockValue, 0.01)
	require.InDelta(t, 100, summary.StandardStockKg, 0.0001)
}

func TestComputeSummaryWeightedAverageUsesPricedRowsOnly(t *testing.T) {
	summary := ComputeSummary([]Transaction{
		{TransactionDate: day(1), Type: TransactionTypeIncoming, QuantityKg: 100, PricePerKg: price(10)},
		{TransactionDate: day(2), Type: TransactionTypeIncoming, QuantityKg: 100, PricePerKg: price(20)},
		{TransactionDate: day(3), Type: TransactionTypeIncoming, QuantityKg: 50},
		{TransactionDate: day(4), Type: TransactionTypeIncoming, QuantityKg: 50, PricePerKg: price(0)},
	})

	require.InDelta(t, 300, summary.TotalIncomingKg, 0.0001)
	require.InDelta(t, 15, summary.AveragePricePerKg, 0.0001)
	require.InDelta(t, 4500, summary.StockValue, 0.0001)
}

func TestComputeSummaryClampsTiers(t *testing.T) {
	summary := ComputeSummary([]Transaction{
		{TransactionDate: day(1), Type: TransactionTypeIncoming, QuantityKg: 10, QualityGrade: GradeEconomy},
		{TransactionDate: day(2), Type: TransactionTypeOutgoing, QuantityKg: 25},
	})

	require.InDelta(t, -15, summary.CurrentStockKg, 0.0001)
	require.Zero(t, summary.EconomyStockKg)
	require.Zero(t, summary.StandardStockKg)
	require.Zero(t, summary.PremiumStockKg)
}

func TestComputeSummaryEmptyLedger(t *testing.T) {
	summary := ComputeSummary(nil)
	require.Zero(t, summary.CurrentStockKg)
	require.Zero(t, summary.AveragePricePerKg)
	require.Nil(t, summary.LastTransactionDate)
}

func TestNormaliseReasonReadsLegacyMarker(t *testing.T) {
	legacy := normaliseReason(Transaction{Type: TransactionTypeIncoming, VehicleInfo: legacyCancellationMarker, QuantityKg: 5})
	require.Equal(t, ReasonOrderCancellationReturn, legacy.Reason)
	require.Empty(t, legacy.VehicleInfo)
	require.True(t, legacy.IsCancellationReturn())

	depletion := normaliseReason(Transaction{Type: TransactionTypeOutgoing, DocumentReference: "order-1"})
	require.Equal(t, ReasonOrderDepletion, depletion.Reason)

	manual := normaliseReason(Transaction{Type: TransactionTypeIncoming, VehicleInfo: "B 1234 XY"})
	require.Equal(t, ReasonManual, manual.Reason)
}

func TestCharcoalQuantity(t *testing.T) {
	qty := CharcoalQuantity([]OrderItem{
		{ProductName: "Arang Batok 5kg", Quantity: 2},
		{ProductName: "Briket ARANG Kelapa", Quantity: 3},
		{ProductName: "Kopi Bubuk", Quantity: 5},
	})
	require.InDelta(t, 5, qty, 0.0001)
	require.Zero(t, CharcoalQuantity(nil))
}

func TestAddTransactionRecomputesSummary(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	tx, err := f.svc.AddTransaction(ctx, incoming(day(1), 200, GradePremium, price(12000)))
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)
	require.Equal(t, ReasonManual, tx.Reason)
	require.Equal(t, fixedNow, tx.CreatedAt)
	require.NotNil(t, tx.TotalAmount)
	require.InDelta(t, 2400000, *tx.TotalAmount, 0.01)

	summary, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, summary.ID)
	require.InDelta(t, 200, summary.CurrentStockKg, 0.0001)
	require.InDelta(t, 200, summary.PremiumStockKg, 0.0001)
	require.Equal(t, fixedNow, summary.UpdatedAt)

	second, err := f.svc.AddTransaction(ctx, incoming(day(2), 100, GradeEconomy, price(6000)))
	require.NoError(t, err)
	require.NotEqual(t, tx.ID, second.ID)

	updated, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, summary.ID, updated.ID)
	require.InDelta(t, 10000, updated.AveragePricePerKg, 0.0001)

	require.Len(t, f.audit.logs, 2)
	require.Equal(t, "inventory:transaction.create", f.audit.logs[0].Action)
	require.Equal(t, 2, f.locker.acquired)
	require.Equal(t, 2, f.locker.released)
}

func TestAddTransactionNamesInvalidFields(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.svc.AddTransaction(context.Background(), TransactionInput{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, httpx.ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.ElementsMatch(t, []string{"transaction_date", "transaction_type", "quantity_kg", "source_destination", "created_by"}, verr.Fields)
	require.Empty(t, f.repo.rows)
}

func TestAddTransactionRejectsNonPositiveQuantity(t *testing.T) {
	f := newLedgerFixture(t)
	input := incoming(day(1), -5, GradeStandard, nil)

	_, err := f.svc.AddTransaction(context.Background(), input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"quantity_kg"}, verr.Fields)
}

func TestAddTransactionReportsStaleSummary(t *testing.T) {
	f := newLedgerFixture(t)
	f.repo.recomputeErr = errors.New("connection reset")

	tx, err := f.svc.AddTransaction(context.Background(), incoming(day(1), 10, "", nil))
	require.ErrorIs(t, err, ErrSummaryStale)
	require.NotEmpty(t, tx.ID)
	require.Contains(t, f.repo.rows, tx.ID)
	require.Equal(t, 1, f.reconciler.calls)
}

func TestUpdateTransactionRederivesTotal(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	tx, err := f.svc.AddTransaction(ctx, incoming(day(1), 100, GradeStandard, price(5000)))
	require.NoError(t, err)

	qty := 80.0
	updated, err := f.svc.UpdateTransaction(ctx, tx.ID, TransactionPatch{QuantityKg: &qty, PricePerKg: price(6000), UpdatedBy: "staff-2"})
	require.NoError(t, err)
	require.InDelta(t, 480000, *updated.TotalAmount, 0.01)
	require.Equal(t, tx.CreatedAt, updated.CreatedAt)

	summary, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.InDelta(t, 80, summary.CurrentStockKg, 0.0001)
	require.InDelta(t, 6000, summary.AveragePricePerKg, 0.0001)
	require.Equal(t, "staff-2", f.audit.logs[len(f.audit.logs)-1].ActorID)

	zero := 0.0
	_, err = f.svc.UpdateTransaction(ctx, tx.ID, TransactionPatch{QuantityKg: &zero})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateTransaction(ctx, "missing", TransactionPatch{QuantityKg: &qty})
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestDeleteTransactionRecomputesSummary(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	first, err := f.svc.AddTransaction(ctx, incoming(day(1), 100, GradeStandard, nil))
	require.NoError(t, err)
	_, err = f.svc.AddTransaction(ctx, incoming(day(2), 50, GradeStandard, nil))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTransaction(ctx, first.ID, "staff-1"))

	summary, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.InDelta(t, 50, summary.CurrentStockKg, 0.0001)
	require.ErrorIs(t, f.svc.DeleteTransaction(ctx, first.ID, "staff-1"), ErrTransactionNotFound)
}

func TestGetSummaryBeforeFirstRecompute(t *testing.T) {
	f := newLedgerFixture(t)
	summary, err := f.svc.GetSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.CurrentStockKg)
}

func TestReduceStockFromOrder(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddTransaction(ctx, incoming(day(1), 100, GradeEconomy, price(8000)))
	require.NoError(t, err)

	items := []OrderItem{{ProductName: "Arang Kayu 10kg", Quantity: 3}, {ProductName: "Korek Api", Quantity: 1}}
	tx, err := f.svc.ReduceStockFromOrder(ctx, "ord-1234567890", items, "cust-9")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, TransactionTypeOutgoing, tx.Type)
	require.Equal(t, ReasonOrderDepletion, tx.Reason)
	require.InDelta(t, 3, tx.QuantityKg, 0.0001)
	require.Equal(t, "Order #ord-1234", tx.SourceDestination)
	require.Equal(t, "ord-1234567890", tx.DocumentReference)
	require.Equal(t, "cust-9", tx.CreatedBy)
	require.Contains(t, f.idem.keys, shared.OrderDepletionKey("ord-1234567890"))

	summary, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.InDelta(t, 97, summary.CurrentStockKg, 0.0001)
	require.InDelta(t, 97, summary.EconomyStockKg, 0.0001)
}

func TestReduceStockFromOrderWithoutCharcoal(t *testing.T) {
	f := newLedgerFixture(t)

	tx, err := f.svc.ReduceStockFromOrder(context.Background(), "ord-1", []OrderItem{{ProductName: "Kopi", Quantity: 2}}, "")
	require.NoError(t, err)
	require.Nil(t, tx)
	require.Empty(t, f.repo.rows)
	require.Empty(t, f.idem.keys)
}

func TestReduceStockFromOrderIgnoresReplay(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	items := []OrderItem{{ProductName: "arang batok", Quantity: 2}}

	first, err := f.svc.ReduceStockFromOrder(ctx, "ord-7", items, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, systemActor, first.CreatedBy)

	again, err := f.svc.ReduceStockFromOrder(ctx, "ord-7", items, "")
	require.NoError(t, err)
	require.Nil(t, again)
	require.Len(t, f.repo.rows, 1)
}

func TestReduceStockFromOrderReleasesKeyOnFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.repo.insertErr = errors.New("disk full")

	tx, err := f.svc.ReduceStockFromOrder(context.Background(), "ord-8", []OrderItem{{ProductName: "Arang", Quantity: 1}}, "u")
	require.Error(t, err)
	require.Nil(t, tx)
	require.Empty(t, f.idem.keys)
}

func TestRestoreStockFromCancelledOrder(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddTransaction(ctx, incoming(day(1), 50, GradeStandard, price(9000)))
	require.NoError(t, err)
	items := []OrderItem{{ProductName: "Arang Batok", Quantity: 4}}

	tx, err := f.svc.RestoreStockFromCancelledOrder(ctx, "ord-42", items, "admin")
	require.NoError(t, err)
	require.Nil(t, tx, "an order that never reduced stock has nothing to restore")

	_, err = f.svc.ReduceStockFromOrder(ctx, "ord-42", items, "cust")
	require.NoError(t, err)

	tx, err = f.svc.RestoreStockFromCancelledOrder(ctx, "ord-42", items, "admin")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, TransactionTypeIncoming, tx.Type)
	require.True(t, tx.IsCancellationReturn())
	require.Equal(t, "Cancelled Order #ord-42", tx.SourceDestination)

	summary, err := f.svc.GetSummary(ctx)
	require.NoError(t, err)
	require.InDelta(t, 50, summary.TotalIncomingKg, 0.0001)
	require.InDelta(t, 4, summary.TotalOutgoingKg, 0.0001)
	require.InDelta(t, 50, summary.CurrentStockKg, 0.0001)
	require.InDelta(t, 9000, summary.AveragePricePerKg, 0.0001)

	again, err := f.svc.RestoreStockFromCancelledOrder(ctx, "ord-42", items, "admin")
	require.NoError(t, err)
	require.Nil(t, again)
	require.Len(t, f.repo.rows, 3)
}

func TestRestoreHonoursLegacyReturnRows(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	f.repo.rows["dep"] = Transaction{ID: "dep", TransactionDate: day(1), Type: TransactionTypeOutgoing, Reason: ReasonOrderDepletion, QuantityKg: 2, DocumentReference: "ord-old"}
	f.repo.rows["ret"] = normaliseReason(Transaction{ID: "ret", TransactionDate: day(2), Type: TransactionTypeIncoming, QuantityKg: 2, VehicleInfo: legacyCancellationMarker, DocumentReference: "ord-old"})

	tx, err := f.svc.RestoreStockFromCancelledOrder(ctx, "ord-old", []OrderItem{{ProductName: "Arang", Quantity: 2}}, "")
	require.NoError(t, err)
	require.Nil(t, tx)
}

// rendezvousRepo holds every OrderMovements caller until all of them have read.
type rendezvousRepo struct {
	*memoryRepo
	readers sync.WaitGroup
}

func (r *rendezvousRepo) OrderMovements(ctx context.Context, orderID string) ([]Transaction, error) {
	rows, err := r.memoryRepo.OrderMovements(ctx, orderID)
	r.readers.Done()
	r.readers.Wait()
	return rows, err
}

func TestRestoreStockFromCancelledOrderConcurrently(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddTransaction(ctx, incoming(day(1), 50, GradeStandard, price(9000)))
	require.NoError(t, err)
	items := []OrderItem{{ProductName: "Arang Batok", Quantity: 4}}
	_, err = f.svc.ReduceStockFromOrder(ctx, "ord-42", items, "cust")
	require.NoError(t, err)

	const callers = 2
	repo := &rendezvousRepo{memoryRepo: f.repo}
	repo.readers.Add(callers)
	svc := NewService(repo, f.audit, f.idem, ServiceConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return fixedNow },
	})

	results := make([]*Transaction, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.RestoreStockFromCancelledOrder(ctx, "ord-42", items, "admin")
		}(i)
	}
	wg.Wait()

	posted := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i] != nil {
			posted++
		}
	}
	require.Equal(t, 1, posted)
	require.Len(t, f.repo.rows, 3)

	summary, err := svc.GetSummary(ctx)
	require.NoError(t, err)
	require.InDelta(t, 50, summary.CurrentStockKg, 0.0001)
}

func TestRestoreStockReleasesKeyOnFailure(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	items := []OrderItem{{ProductName: "Arang", Quantity: 1}}
	_, err := f.svc.ReduceStockFromOrder(ctx, "ord-9", items, "cust")
	require.NoError(t, err)

	f.repo.insertErr = errors.New("disk full")
	tx, err := f.svc.RestoreStockFromCancelledOrder(ctx, "ord-9", items, "admin")
	require.Error(t, err)
	require.Nil(t, tx)
	require.NotContains(t, f.idem.keys, shared.OrderRestoreKey("ord-9"))

	f.repo.insertErr = nil
	tx, err = f.svc.RestoreStockFromCancelledOrder(ctx, "ord-9", items, "admin")
	require.NoError(t, err)
	require.NotNil(t, tx)
}

func TestListTransactionsRejectsUnknownType(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.svc.ListTransactions(context.Background(), TransactionFilter{Type: "sideways"})
	require.ErrorIs(t, err, ErrValidation)
}

type recomputeRecorder struct {
	stock    []float64
	failures int
}

func (r *recomputeRecorder) ObserveSummaryRecompute(currentStockKg float64, err error) {
	if err != nil {
		r.failures++
		return
	}
	r.stock = append(r.stock, currentStockKg)
}

func TestRecomputeSummaryNotifiesObserver(t *testing.T) {
	repo := newMemoryRepo()
	recorder := &recomputeRecorder{}
	svc := NewService(repo, nil, nil, ServiceConfig{Observer: recorder, Clock: func() time.Time { return fixedNow }})
	ctx := context.Background()

	_, err := svc.AddTransaction(ctx, incoming(day(1), 30, GradeStandard, nil))
	require.NoError(t, err)
	repo.recomputeErr = errors.New("timeout")
	_, err = svc.RecomputeSummary(ctx)
	require.Error(t, err)

	require.Equal(t, []float64{30}, recorder.stock)
	require.Equal(t, 1, recorder.failures)
}
