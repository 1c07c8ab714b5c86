package inventory

import (
	"sort"
	"strings"
)

// charcoalMarker identifies charcoal products by name.
const charcoalMarker = "arang"

// CharcoalQuantity sums the quantity of order items that are charcoal products.
func CharcoalQuantity(items []OrderItem) float64 {
	var total float64
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.ProductName), charcoalMarker) {
			total += item.Quantity
		}
	}
	return total
}

type tierStock struct {
	premium  float64
	standard float64
	economy  float64
}

func (t *tierStock) add(grade QualityGrade, qty float64) {
	switch grade {
	case GradePremium:
		t.premium += qty
	case GradeEconomy:
		t.economy += qty
	default:
		t.standard += qty
	}
}

// deplete removes qty from the cheapest tiers first, never below zero.
func (t *tierStock) deplete(qty float64) {
	for _, bucket := range []*float64{&t.economy, &t.standard, &t.premium} {
		if qty <= 0 {
			return
		}
		take := qty
		if take > *bucket {
			take = *bucket
		}
		if take < 0 {
			take = 0
		}
		*bucket -= take
		qty -= take
	}
}

// ComputeSummary derives the stock position from the complete ledger. The
// result carries no ID or UpdatedAt; those belong to the stored row.
func ComputeSummary(transactions []Transaction) Summary {
	ordered := make([]Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TransactionDate.Before(ordered[j].TransactionDate)
	})

	var (
		summary        Summary
		tiers          tierStock
		cancelledStock float64
		pricedValue    float64
		pricedQty      float64
	)
	for _, tx := range ordered {
		switch tx.Type {
		case TransactionTypeIncoming:
			tiers.add(tx.QualityGrade, tx.QuantityKg)
			if tx.IsCancellationReturn() {
				cancelledStock += tx.QuantityKg
				break
			}
			summary.TotalIncomingKg += tx.QuantityKg
			if tx.PricePerKg != nil && *tx.PricePerKg > 0 {
				pricedValue += *tx.PricePerKg * tx.QuantityKg
				pricedQty += tx.QuantityKg
			}
		case TransactionTypeOutgoing:
			summary.TotalOutgoingKg += tx.QuantityKg
			tiers.deplete(tx.QuantityKg)
		}
		if summary.LastTransactionDate == nil || tx.TransactionDate.After(*summary.LastTransactionDate) {
			date := tx.TransactionDate
			summary.LastTransactionDate = &date
		}
	}

	summary.CurrentStockKg = summary.TotalIncomingKg - summary.TotalOutgoingKg + cancelledStock
	if pricedQty > 0 {
		summary.AveragePricePerKg = pricedValue / pricedQty
	}
	summary.StockValue = summary.CurrentStockKg * summary.AveragePricePerKg
	summary.PremiumStockKg = clampZero(tiers.premium)
	summary.StandardStockKg = clampZero(tiers.standard)
	summary.EconomyStockKg = clampZero(tiers.economy)
	return summary
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
