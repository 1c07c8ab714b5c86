package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tokoarang/storefront/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	OrderMovements(ctx context.Context, orderID string) ([]Transaction, error)
	GetSummary(ctx context.Context) (Summary, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort records processed order events.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Locker serialises summary recomputation across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// ReconcileScheduler queues a background summary rebuild.
type ReconcileScheduler interface {
	ScheduleSummaryReconcile(ctx context.Context) error
}

// SummaryObserver is told the outcome of every summary recompute.
type SummaryObserver interface {
	ObserveSummaryRecompute(currentStockKg float64, err error)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Locker     Locker
	Reconciler ReconcileScheduler
	Observer   SummaryObserver
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service maintains the coal stock ledger and its summary.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	locker      Locker
	reconciler  ReconcileScheduler
	observer    SummaryObserver
	logger      *slog.Logger
	clock       func() time.Time
	validate    *validator.Validate
	// recompute serialises summary rebuilds within this process.
	recompute sync.Mutex
}

const (
	auditEntity     = "coal_transaction"
	systemActor     = "system"
	idempotencyName = "inventory"
)

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		locker:      cfg.Locker,
		reconciler:  cfg.Reconciler,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		validate:    newValidator(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AddTransaction validates and stores a ledger row, then recomputes the
// summary. When only the recompute fails the stored row is returned together
// with an error wrapping ErrSummaryStale.
func (s *Service) AddTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	tx, err := s.buildTransaction(input)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.repo.InsertTransaction(ctx, tx); err != nil {
		s.logger.Error("insert coal transaction", slog.String("id", tx.ID), slog.Any("error", err))
		return Transaction{}, fmt.Errorf("inventory: insert transaction: %w", err)
	}
	s.record(ctx, tx.CreatedBy, "inventory:transaction.create", tx)
	return tx, s.afterMutation(ctx)
}

// UpdateTransaction applies patch to an existing row and recomputes the summary.
func (s *Service) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (Transaction, error) {
	existing, err := s.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	merged := patch.apply(existing)
	tx, err := s.buildTransaction(merged)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
		s.logger.Error("update coal transaction", slog.String("id", id), slog.Any("error", err))
		return Transaction{}, fmt.Errorf("inventory: update transaction: %w", err)
	}
	s.record(ctx, patch.UpdatedBy, "inventory:transaction.update", tx)
	return tx, s.afterMutation(ctx)
}

// DeleteTransaction removes a row and recomputes the summary.
func (s *Service) DeleteTransaction(ctx context.Context, id, actor string) error {
	existing, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return err
		}
		s.logger.Error("delete coal transaction", slog.String("id", id), slog.Any("error", err))
		return fmt.Errorf("inventory: delete transaction: %w", err)
	}
	s.record(ctx, actor, "inventory:transaction.delete", existing)
	return s.afterMutation(ctx)
}

// GetTransaction loads a single row.
func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return Transaction{}, &ValidationError{Fields: []string{"id"}}
	}
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("inventory: get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions lists ledger rows, newest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Type != "" && filter.Type != TransactionTypeIncoming && filter.Type != TransactionTypeOutgoing {
		return nil, &ValidationError{Fields: []string{"transaction_type"}}
	}
	rows, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("inventory: list transactions: %w", err)
	}
	return rows, nil
}

// GetSummary returns the stored summary; an empty ledger yields zero values.
func (s *Service) GetSummary(ctx context.Context) (Summary, error) {
	summary, err := s.repo.GetSummary(ctx)
	if errors.Is(err, ErrSummaryNotFound) {
		return ComputeSummary(nil), nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("inventory: get summary: %w", err)
	}
	return summary, nil
}

// ReduceStockFromOrder posts one outgoing row for the charcoal items of a
// placed order. Orders without charcoal and replayed placements are no-ops
// and return a nil transaction.
func (s *Service) ReduceStockFromOrder(ctx context.Context, orderID string, items []OrderItem, userID string) (*Transaction, error) {
	qty := CharcoalQuantity(items)
	if qty <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, &ValidationError{Fields: []string{"order_id"}}
	}
	key := shared.OrderDepletionKey(orderID)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyName); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.logger.Info("order stock already reduced", slog.String("order_id", orderID))
				return nil, nil
			}
			return nil, fmt.Errorf("inventory: reserve order depletion: %w", err)
		}
	}
	tx, err := s.AddTransaction(ctx, TransactionInput{
		TransactionDate:   s.now(),
		Type:              TransactionTypeOutgoing,
		Reason:            ReasonOrderDepletion,
		QuantityKg:        qty,
		SourceDestination: "Order #" + shortOrderID(orderID),
		Notes:             fmt.Sprintf("Automatic stock reduction for order %s", orderID),
		CreatedBy:         actorOrSystem(userID),
		DocumentReference: orderID,
	})
	if err != nil && !errors.Is(err, ErrSummaryStale) {
		if s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}
	s.logger.Info("order stock reduced", slog.String("order_id", orderID), slog.Float64("quantity_kg", qty))
	return &tx, err
}

// RestoreStockFromCancelledOrder returns the charcoal of a cancelled order to
// stock. It is a no-op when the order never depleted stock or was already
// restored.
func (s *Service) RestoreStockFromCancelledOrder(ctx context.Context, orderID string, items []OrderItem, userID string) (*Transaction, error) {
	qty := CharcoalQuantity(items)
	if qty <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, &ValidationError{Fields: []string{"order_id"}}
	}
	movements, err := s.repo.OrderMovements(ctx, orderID)
	if err != nil {
		s.logger.Error("load order movements", slog.String("order_id", orderID), slog.Any("error", err))
		return nil, fmt.Errorf("inventory: load order movements: %w", err)
	}
	var depleted, restored bool
	for _, m := range movements {
		switch {
		case m.Type == TransactionTypeOutgoing:
			depleted = true
		case m.IsCancellationReturn():
			restored = true
		}
	}
	if !depleted {
		s.logger.Info("cancelled order never reduced stock", slog.String("order_id", orderID))
		return nil, nil
	}
	if restored {
		s.logger.Info("cancelled order stock already restored", slog.String("order_id", orderID))
		return nil, nil
	}
	key := shared.OrderRestoreKey(orderID)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyName); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.logger.Info("cancelled order stock already restored", slog.String("order_id", orderID))
				return nil, nil
			}
			return nil, fmt.Errorf("inventory: reserve order restore: %w", err)
		}
	}
	tx, err := s.AddTransaction(ctx, TransactionInput{
		TransactionDate:   s.now(),
		Type:              TransactionTypeIncoming,
		Reason:            ReasonOrderCancellationReturn,
		QuantityKg:        qty,
		SourceDestination: "Cancelled Order #" + shortOrderID(orderID),
		Notes:             fmt.Sprintf("Stock returned from cancelled order %s", orderID),
		CreatedBy:         actorOrSystem(userID),
		DocumentReference: orderID,
	})
	if err != nil && !errors.Is(err, ErrSummaryStale) {
		if s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}
	s.logger.Info("cancelled order stock restored", slog.String("order_id", orderID), slog.Float64("quantity_kg", qty))
	return &tx, err
}

// RecomputeSummary rebuilds the summary row from every ledger row.
func (s *Service) RecomputeSummary(ctx context.Context) (Summary, error) {
	summary, err := s.recomputeSummary(ctx)
	if s.observer != nil {
		s.observer.ObserveSummaryRecompute(summary.CurrentStockKg, err)
	}
	return summary, err
}

func (s *Service) recomputeSummary(ctx context.Context) (Summary, error) {
	s.recompute.Lock()
	defer s.recompute.Unlock()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, shared.InventorySummaryLockKey)
		if err != nil {
			return Summary{}, fmt.Errorf("inventory: lock summary: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release summary lock", slog.Any("error", err))
			}
		}()
	}

	var summary Summary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.ListAllTransactions(ctx)
		if err != nil {
			return err
		}
		computed := ComputeSummary(rows)
		computed.UpdatedAt = s.now()
		existing, err := tx.GetSummaryForUpdate(ctx)
		switch {
		case errors.Is(err, ErrSummaryNotFound):
			computed.ID = uuid.NewString()
			if err := tx.InsertSummary(ctx, computed); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			computed.ID = existing.ID
			if err := tx.UpdateSummary(ctx, computed); err != nil {
				return err
			}
		}
		summary = computed
		return nil
	})
	if err != nil {
		s.logger.Error("recompute inventory summary", slog.Any("error", err))
		return Summary{}, fmt.Errorf("inventory: recompute summary: %w", err)
	}
	return summary, nil
}

func (s *Service) afterMutation(ctx context.Context) error {
	if _, err := s.RecomputeSummary(ctx); err != nil {
		if s.reconciler != nil {
			if serr := s.reconciler.ScheduleSummaryReconcile(context.WithoutCancel(ctx)); serr != nil {
				s.logger.Error("schedule summary reconcile", slog.Any("error", serr))
			}
		}
		return fmt.Errorf("%w: %w", ErrSummaryStale, err)
	}
	return nil
}

func (s *Service) buildTransaction(input TransactionInput) (Transaction, error) {
	if err := s.validateInput(input); err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		ID:                input.ID,
		TransactionDate:   input.TransactionDate,
		Type:              input.Type,
		Reason:            input.Reason,
		QuantityKg:        input.QuantityKg,
		SourceDestination: input.SourceDestination,
		VehicleInfo:       input.VehicleInfo,
		DriverName:        input.DriverName,
		PricePerKg:        input.PricePerKg,
		QualityGrade:      input.QualityGrade,
		MoistureContent:   input.MoistureContent,
		Notes:             input.Notes,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         input.CreatedAt,
		DocumentReference: input.DocumentReference,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	if tx.Reason == "" {
		tx.Reason = ReasonManual
	}
	if tx.PricePerKg != nil {
		total := *tx.PricePerKg * tx.QuantityKg
		tx.TotalAmount = &total
	}
	return tx, nil
}

func (s *Service) validateInput(input TransactionInput) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field())
		}
		return &ValidationError{Fields: fields}
	}
	return fmt.Errorf("inventory: validate transaction: %w", err)
}

func (s *Service) record(ctx context.Context, actor, action string, tx Transaction) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   auditEntity,
		EntityID: tx.ID,
		Meta: map[string]any{
			"transaction_type":   tx.Type,
			"transaction_reason": tx.Reason,
			"quantity_kg":        tx.QuantityKg,
			"document_reference": tx.DocumentReference,
		},
	})
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// apply merges the patch into an existing row, producing a creation payload
// that is validated like a new row.
func (p TransactionPatch) apply(t Transaction) TransactionInput {
	in := TransactionInput{
		ID:                t.ID,
		TransactionDate:   t.TransactionDate,
		Type:              t.Type,
		Reason:            t.Reason,
		QuantityKg:        t.QuantityKg,
		SourceDestination: t.SourceDestination,
		VehicleInfo:       t.VehicleInfo,
		DriverName:        t.DriverName,
		PricePerKg:        t.PricePerKg,
		QualityGrade:      t.QualityGrade,
		MoistureContent:   t.MoistureContent,
		Notes:             t.Notes,
		CreatedBy:         t.CreatedBy,
		CreatedAt:         t.CreatedAt,
		DocumentReference: t.DocumentReference,
	}
	if p.TransactionDate != nil {
		in.TransactionDate = *p.TransactionDate
	}
	if p.Type != nil {
		in.Type = *p.Type
	}
	if p.QuantityKg != nil {
		in.QuantityKg = *p.QuantityKg
	}
	if p.SourceDestination != nil {
		in.SourceDestination = *p.SourceDestination
	}
	if p.VehicleInfo != nil {
		in.VehicleInfo = *p.VehicleInfo
	}
	if p.DriverName != nil {
		in.DriverName = *p.DriverName
	}
	if p.PricePerKg != nil {
		in.PricePerKg = p.PricePerKg
	}
	if p.QualityGrade != nil {
		in.QualityGrade = *p.QualityGrade
	}
	if p.MoistureContent != nil {
		in.MoistureContent = p.MoistureContent
	}
	if p.Notes != nil {
		in.Notes = *p.Notes
	}
	if p.DocumentReference != nil {
		in.DocumentReference = *p.DocumentReference
	}
	return in
}

func shortOrderID(orderID string) string {
	runes := []rune(orderID)
	if len(runes) > 8 {
		return string(runes[:8])
	}
	return orderID
}

func actorOrSystem(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return systemActor
	}
	return userID
}
