package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokoarang/storefront/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the summary recompute operations run inside one transaction.
type TxRepository interface {
	ListAllTransactions(ctx context.Context) ([]Transaction, error)
	GetSummaryForUpdate(ctx context.Context) (Summary, error)
	InsertSummary(ctx context.Context, summary Summary) error
	UpdateSummary(ctx context.Context, summary Summary) error
}

type txRepository struct {
	tx pgx.Tx
}

// queryer is satisfied by both the pool and an open transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const transactionColumns = `id, transaction_date, transaction_type, COALESCE(transaction_reason, ''), quantity_kg,
source_destination, COALESCE(vehicle_info, ''), COALESCE(driver_name, ''), price_per_kg, total_amount,
COALESCE(quality_grade, ''), moisture_content, COALESCE(notes, ''), created_by, created_at, COALESCE(document_reference, '')`

const summaryColumns = `id, total_incoming_kg, total_outgoing_kg, current_stock_kg, average_price_per_kg,
last_transaction_date, stock_value, premium_stock_kg, standard_stock_kg, economy_stock_kg, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) InsertTransaction(ctx context.Context, t Transaction) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO coal_transactions (id, transaction_date, transaction_type, transaction_reason, quantity_kg,
source_destination, vehicle_info, driver_name, price_per_kg, total_amount, quality_grade, moisture_content, notes,
created_by, created_at, document_reference)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.TransactionDate, string(t.Type), string(t.Reason), t.QuantityKg, t.SourceDestination,
		nullString(t.VehicleInfo), nullString(t.DriverName), t.PricePerKg, t.TotalAmount,
		nullString(string(t.QualityGrade)), t.MoistureContent, nullString(t.Notes), t.CreatedBy, t.CreatedAt,
		nullString(t.DocumentReference))
	return err
}

func (r *Repository) UpdateTransaction(ctx context.Context, t Transaction) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE coal_transactions SET transaction_date=$2, transaction_type=$3, transaction_reason=$4,
quantity_kg=$5, source_destination=$6, vehicle_info=$7, driver_name=$8, price_per_kg=$9, total_amount=$10,
quality_grade=$11, moisture_content=$12, notes=$13, document_reference=$14
WHERE id=$1`,
		t.ID, t.TransactionDate, string(t.Type), string(t.Reason), t.QuantityKg, t.SourceDestination,
		nullString(t.VehicleInfo), nullString(t.DriverName), t.PricePerKg, t.TotalAmount,
		nullString(string(t.QualityGrade)), t.MoistureContent, nullString(t.Notes), nullString(t.DocumentReference))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM coal_transactions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if r == nil {
		return Transaction{}, errors.New("inventory repository not initialised")
	}
	rows, err := queryTransactions(ctx, r.pool, `SELECT `+transactionColumns+` FROM coal_transactions WHERE id=$1`, id)
	if err != nil {
		return Transaction{}, err
	}
	if len(rows) == 0 {
		return Transaction{}, ErrTransactionNotFound
	}
	return rows[0], nil
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	return queryTransactions(ctx, r.pool, `SELECT `+transactionColumns+`
FROM coal_transactions
WHERE ($1::text IS NULL OR transaction_type=$1)
  AND transaction_date BETWEEN COALESCE($2, '-infinity'::timestamptz) AND COALESCE($3, 'infinity'::timestamptz)
ORDER BY transaction_date DESC, created_at DESC
LIMIT $4`, nullString(string(filter.Type)), nullTime(filter.From), nullTime(filter.To), limit)
}

// OrderMovements lists ledger rows referencing the given order.
func (r *Repository) OrderMovements(ctx context.Context, orderID string) ([]Transaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	return queryTransactions(ctx, r.pool, `SELECT `+transactionColumns+`
FROM coal_transactions WHERE document_reference=$1 ORDER BY transaction_date ASC`, orderID)
}

func (r *Repository) GetSummary(ctx context.Context) (Summary, error) {
	if r == nil {
		return Summary{}, errors.New("inventory repository not initialised")
	}
	return scanSummary(r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM coal_inventory_summary ORDER BY updated_at DESC LIMIT 1`))
}

func (r *txRepository) ListAllTransactions(ctx context.Context) ([]Transaction, error) {
	return queryTransactions(ctx, r.tx, `SELECT `+transactionColumns+`
FROM coal_transactions ORDER BY transaction_date ASC, created_at ASC`)
}

func (r *txRepository) GetSummaryForUpdate(ctx context.Context) (Summary, error) {
	return scanSummary(r.tx.QueryRow(ctx, `SELECT `+summaryColumns+`
FROM coal_inventory_summary ORDER BY updated_at DESC LIMIT 1 FOR UPDATE`))
}

func (r *txRepository) InsertSummary(ctx context.Context, s Summary) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO coal_inventory_summary (id, total_incoming_kg, total_outgoing_kg, current_stock_kg,
average_price_per_kg, last_transaction_date, stock_value, premium_stock_kg, standard_stock_kg, economy_stock_kg, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.TotalIncomingKg, s.TotalOutgoingKg, s.CurrentStockKg, s.AveragePricePerKg, s.LastTransactionDate,
		s.StockValue, s.PremiumStockKg, s.StandardStockKg, s.EconomyStockKg, s.UpdatedAt)
	return err
}

func (r *txRepository) UpdateSummary(ctx context.Context, s Summary) error {
	_, err := r.tx.Exec(ctx, `UPDATE coal_inventory_summary SET total_incoming_kg=$2, total_outgoing_kg=$3, current_stock_kg=$4,
average_price_per_kg=$5, last_transaction_date=$6, stock_value=$7, premium_stock_kg=$8, standard_stock_kg=$9,
economy_stock_kg=$10, updated_at=$11
WHERE id=$1`,
		s.ID, s.TotalIncomingKg, s.TotalOutgoingKg, s.CurrentStockKg, s.AveragePricePerKg, s.LastTransactionDate,
		s.StockValue, s.PremiumStockKg, s.StandardStockKg, s.EconomyStockKg, s.UpdatedAt)
	return err
}

func queryTransactions(ctx context.Context, q queryer, sql string, args ...any) ([]Transaction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.TransactionDate, &t.Type, &t.Reason, &t.QuantityKg, &t.SourceDestination,
			&t.VehicleInfo, &t.DriverName, &t.PricePerKg, &t.TotalAmount, &t.QualityGrade, &t.MoistureContent,
			&t.Notes, &t.CreatedBy, &t.CreatedAt, &t.DocumentReference); err != nil {
			return nil, fmt.Errorf("scan coal transaction: %w", err)
		}
		out = append(out, normaliseReason(t))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSummary(row pgx.Row) (Summary, error) {
	var s Summary
	err := row.Scan(&s.ID, &s.TotalIncomingKg, &s.TotalOutgoingKg, &s.CurrentStockKg, &s.AveragePricePerKg,
		&s.LastTransactionDate, &s.StockValue, &s.PremiumStockKg, &s.StandardStockKg, &s.EconomyStockKg, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrSummaryNotFound
		}
		return Summary{}, err
	}
	return s, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
