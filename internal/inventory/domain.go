package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tokoarang/storefront/internal/platform/httpx"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeIncoming represents stock entering the warehouse.
	TransactionTypeIncoming TransactionType = "incoming"
	// TransactionTypeOutgoing represents stock leaving the warehouse.
	TransactionTypeOutgoing TransactionType = "outgoing"
)

// TransactionReason records why a movement was posted.
type TransactionReason string

const (
	// ReasonManual is a movement entered by back-office staff.
	ReasonManual TransactionReason = "manual"
	// ReasonOrderDepletion is stock consumed by a placed order.
	ReasonOrderDepletion TransactionReason = "order_depletion"
	// ReasonOrderCancellationReturn compensates an earlier order depletion.
	ReasonOrderCancellationReturn TransactionReason = "order_cancellation_return"
)

// legacyCancellationMarker flagged cancellation returns in vehicle_info before
// reasons were stored explicitly.
const legacyCancellationMarker = "cancelled_order_return"

// QualityGrade classifies stocked charcoal.
type QualityGrade string

const (
	GradePremium  QualityGrade = "premium"
	GradeStandard QualityGrade = "standard"
	GradeEconomy  QualityGrade = "economy"
)

// Transaction is one row of the stock ledger.
type Transaction struct {
	ID                string            `json:"id"`
	TransactionDate   time.Time         `json:"transaction_date"`
	Type              TransactionType   `json:"transaction_type"`
	Reason            TransactionReason `json:"transaction_reason"`
	QuantityKg        float64           `json:"quantity_kg"`
	SourceDestination string            `json:"source_destination"`
	VehicleInfo       string            `json:"vehicle_info,omitempty"`
	DriverName        string            `json:"driver_name,omitempty"`
	PricePerKg        *float64          `json:"price_per_kg,omitempty"`
	TotalAmount       *float64          `json:"total_amount,omitempty"`
	QualityGrade      QualityGrade      `json:"quality_grade,omitempty"`
	MoistureContent   *float64          `json:"moisture_content,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	DocumentReference string            `json:"document_reference,omitempty"`
}

// IsCancellationReturn reports whether the row reverses an order depletion.
func (t Transaction) IsCancellationReturn() bool {
	return t.Type == TransactionTypeIncoming && t.Reason == ReasonOrderCancellationReturn
}

// normaliseReason fills the reason of rows written before it was tracked.
func normaliseReason(t Transaction) Transaction {
	if t.Reason != "" {
		return t
	}
	switch {
	case t.Type == TransactionTypeIncoming && t.VehicleInfo == legacyCancellationMarker:
		t.Reason = ReasonOrderCancellationReturn
		t.VehicleInfo = ""
	case t.Type == TransactionTypeOutgoing && t.DocumentReference != "":
		t.Reason = ReasonOrderDepletion
	default:
		t.Reason = ReasonManual
	}
	return t
}

// TransactionInput is the payload for a new ledger row.
type TransactionInput struct {
	ID                string            `json:"id"`
	TransactionDate   time.Time         `json:"transaction_date" validate:"required"`
	Type              TransactionType   `json:"transaction_type" validate:"required,oneof=incoming outgoing"`
	Reason            TransactionReason `json:"transaction_reason" validate:"omitempty,oneof=manual order_depletion order_cancellation_return"`
	QuantityKg        float64           `json:"quantity_kg" validate:"required,gt=0"`
	SourceDestination string            `json:"source_destination" validate:"required"`
	VehicleInfo       string            `json:"vehicle_info"`
	DriverName        string            `json:"driver_name"`
	PricePerKg        *float64          `json:"price_per_kg" validate:"omitempty,gte=0"`
	QualityGrade      QualityGrade      `json:"quality_grade" validate:"omitempty,oneof=premium standard economy"`
	MoistureContent   *float64          `json:"moisture_content" validate:"omitempty,gte=0,lte=100"`
	Notes             string            `json:"notes"`
	CreatedBy         string            `json:"created_by" validate:"required"`
	CreatedAt         time.Time         `json:"created_at"`
	DocumentReference string            `json:"document_reference"`
}

// TransactionPatch carries the fields to change on an existing row.
type TransactionPatch struct {
	TransactionDate   *time.Time       `json:"transaction_date"`
	Type              *TransactionType `json:"transaction_type"`
	QuantityKg        *float64         `json:"quantity_kg"`
	SourceDestination *string          `json:"source_destination"`
	VehicleInfo       *string          `json:"vehicle_info"`
	DriverName        *string          `json:"driver_name"`
	PricePerKg        *float64         `json:"price_per_kg"`
	QualityGrade      *QualityGrade    `json:"quality_grade"`
	MoistureContent   *float64         `json:"moisture_content"`
	Notes             *string          `json:"notes"`
	DocumentReference *string          `json:"document_reference"`
	UpdatedBy         string           `json:"updated_by"`
}

// Summary is the derived stock position recomputed from the full ledger.
type Summary struct {
	ID                  string     `json:"id"`
	TotalIncomingKg     float64    `json:"total_incoming_kg"`
	TotalOutgoingKg     float64    `json:"total_outgoing_kg"`
	CurrentStockKg      float64    `json:"current_stock_kg"`
	AveragePricePerKg   float64    `json:"average_price_per_kg"`
	LastTransactionDate *time.Time `json:"last_transaction_date"`
	StockValue          float64    `json:"stock_value"`
	PremiumStockKg      float64    `json:"premium_stock_kg"`
	StandardStockKg     float64    `json:"standard_stock_kg"`
	EconomyStockKg      float64    `json:"economy_stock_kg"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// OrderItem is the slice of an order line the ledger cares about.
type OrderItem struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	Type  TransactionType
	From  time.Time
	To    time.Time
	Limit int
}

// ValidationError lists the input fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inventory: invalid fields: %s", strings.Join(e.Fields, ", "))
}

// Unwrap lets callers match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = fmt.Errorf("inventory: %w", httpx.ErrValidation)
	// ErrTransactionNotFound indicates an unknown transaction id.
	ErrTransactionNotFound = fmt.Errorf("inventory: transaction %w", httpx.ErrNotFound)
	// ErrSummaryNotFound indicates the summary row has not been created yet.
	ErrSummaryNotFound = errors.New("inventory summary not found")
	// ErrSummaryStale is returned when a mutation was stored but the summary
	// could not be recomputed afterwards.
	ErrSummaryStale = errors.New("inventory: summary recompute failed")
)
