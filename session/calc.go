package session

import (
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// Totals is the calculation snapshot of a sale session. It is always derived
// from the current items; a stored snapshot that disagrees with a fresh
// recompute is a bug.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	FinalTotal     decimal.Decimal
}

// Recompute derives the totals and per-line amounts from the items. Line
// discounts are amount ("A") or percent ("P") of the line subtotal; tax
// applies to the discounted line amount.
func Recompute(items []models.SaleSessionItem, isTaxInclusive bool) (Totals, []models.SaleSessionItem) {
	totals := Totals{
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		FinalTotal:     decimal.Zero,
	}

	for i := range items {
		lineSubtotal := items[i].Quantity.Mul(items[i].UnitPrice)
		lineDiscount := utils.CalculateDiscountAmount(lineSubtotal, items[i].Discount, string(items[i].DiscountType))
		lineTax := utils.CalculateTaxAmount(lineSubtotal.Sub(lineDiscount), items[i].TaxRate, isTaxInclusive)

		lineTotal := lineSubtotal.Sub(lineDiscount)
		if !isTaxInclusive {
			lineTotal = lineTotal.Add(lineTax)
		}
		items[i].TotalAmount = lineTotal

		totals.Subtotal = totals.Subtotal.Add(lineSubtotal)
		totals.DiscountAmount = totals.DiscountAmount.Add(lineDiscount)
		totals.TaxAmount = totals.TaxAmount.Add(lineTax)
	}

	totals.FinalTotal = totals.Subtotal.Sub(totals.DiscountAmount)
	if !isTaxInclusive {
		totals.FinalTotal = totals.FinalTotal.Add(totals.TaxAmount)
	}
	return totals, items
}

// ValidateItem rejects quantities and discounts a register cannot ring up.
// Weight based lines may carry fractional quantities; unit lines must be
// whole numbers.
func ValidateItem(item models.SaleSessionItem) error {
	if item.ProductId == "" {
		return utils.NewValidationError("product id is required")
	}
	if item.Quantity.LessThanOrEqual(decimal.Zero) {
		return utils.NewValidationError("quantity must be positive")
	}
	weightBased := item.IsWeightBased != nil && *item.IsWeightBased
	if !weightBased && !item.Quantity.Equal(item.Quantity.Truncate(0)) {
		return utils.NewValidationError("quantity must be a whole number for unit priced products")
	}
	if item.UnitPrice.IsNegative() {
		return utils.NewValidationError("unit price cannot be negative")
	}
	if item.Discount.IsNegative() {
		return utils.NewValidationError("discount cannot be negative")
	}
	if item.DiscountType == models.DiscountTypePercent && item.Discount.GreaterThan(decimal.NewFromInt(100)) {
		return utils.NewValidationError("percent discount cannot exceed 100")
	}
	if item.TaxRate.IsNegative() {
		return utils.NewValidationError("tax rate cannot be negative")
	}
	return nil
}

// validateItems rejects an empty tab and any line ValidateItem would refuse.
func validateItems(items []models.SaleSessionItem) error {
	if len(items) == 0 {
		return utils.NewValidationError("session has no items")
	}
	for _, item := range items {
		if err := ValidateItem(item); err != nil {
			return err
		}
	}
	return nil
}

func applyTotals(session *models.SaleSession, totals Totals) {
	session.Subtotal = totals.Subtotal
	session.DiscountAmount = totals.DiscountAmount
	session.TaxAmount = totals.TaxAmount
	session.FinalTotal = totals.FinalTotal
}

// snapshotMatches reports whether the stored snapshot equals a fresh
// recompute of the same items.
func snapshotMatches(session *models.SaleSession, totals Totals) bool {
	return session.Subtotal.Equal(totals.Subtotal) &&
		session.DiscountAmount.Equal(totals.DiscountAmount) &&
		session.TaxAmount.Equal(totals.TaxAmount) &&
		session.FinalTotal.Equal(totals.FinalTotal)
}
