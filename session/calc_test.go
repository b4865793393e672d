package session_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/session"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func line(productId string, qty, price string) models.SaleSessionItem {
	return models.SaleSessionItem{
		ProductId:    productId,
		Quantity:     dec(qty),
		UnitPrice:    dec(price),
		DiscountType: models.DiscountTypeAmount,
	}
}

func TestRecompute_SubtotalAndLineDiscount(t *testing.T) {
	items := []models.SaleSessionItem{
		line("p1", "2", "10"),
		line("p2", "1", "5"),
	}
	items[0].Discount = dec("10")
	items[0].DiscountType = models.DiscountTypePercent

	totals, items := session.Recompute(items, false)

	if !totals.Subtotal.Equal(dec("25")) {
		t.Fatalf("subtotal = %s, want 25", totals.Subtotal)
	}
	// 10% of the 20.00 first line.
	if !totals.DiscountAmount.Equal(dec("2")) {
		t.Fatalf("discount = %s, want 2", totals.DiscountAmount)
	}
	if !totals.TaxAmount.Equal(decimal.Zero) {
		t.Fatalf("tax = %s, want 0", totals.TaxAmount)
	}
	if !totals.FinalTotal.Equal(dec("23")) {
		t.Fatalf("final total = %s, want 23", totals.FinalTotal)
	}
	if !items[0].TotalAmount.Equal(dec("18")) {
		t.Fatalf("first line total = %s, want 18", items[0].TotalAmount)
	}
	if !items[1].TotalAmount.Equal(dec("5")) {
		t.Fatalf("second line total = %s, want 5", items[1].TotalAmount)
	}
}

func TestRecompute_ExclusiveTaxAddsOnTop(t *testing.T) {
	items := []models.SaleSessionItem{line("p1", "1", "100")}
	items[0].TaxRate = dec("5")

	totals, _ := session.Recompute(items, false)

	if !totals.TaxAmount.Equal(dec("5")) {
		t.Fatalf("tax = %s, want 5", totals.TaxAmount)
	}
	if !totals.FinalTotal.Equal(dec("105")) {
		t.Fatalf("final total = %s, want 105", totals.FinalTotal)
	}
}

func TestRecompute_InclusiveTaxDoesNotChangeTotal(t *testing.T) {
	items := []models.SaleSessionItem{line("p1", "1", "100")}
	items[0].TaxRate = dec("5")

	totals, _ := session.Recompute(items, true)

	if !totals.FinalTotal.Equal(dec("100")) {
		t.Fatalf("final total = %s, want 100", totals.FinalTotal)
	}
	if totals.TaxAmount.IsZero() {
		t.Fatal("inclusive tax portion should still be reported")
	}
}

func TestRecompute_TaxAppliesToDiscountedAmount(t *testing.T) {
	items := []models.SaleSessionItem{line("p1", "1", "100")}
	items[0].Discount = dec("20")
	items[0].TaxRate = dec("10")

	totals, _ := session.Recompute(items, false)

	// 10% of (100 - 20).
	if !totals.TaxAmount.Equal(dec("8")) {
		t.Fatalf("tax = %s, want 8", totals.TaxAmount)
	}
	if !totals.FinalTotal.Equal(dec("88")) {
		t.Fatalf("final total = %s, want 88", totals.FinalTotal)
	}
}

func TestRecompute_EmptyItemsIsZero(t *testing.T) {
	totals, _ := session.Recompute(nil, false)
	if !totals.FinalTotal.IsZero() || !totals.Subtotal.IsZero() {
		t.Fatalf("empty session should total zero, got %s", totals.FinalTotal)
	}
}

func TestValidateItem(t *testing.T) {
	valid := line("p1", "2", "10")
	if err := session.ValidateItem(valid); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*models.SaleSessionItem)
	}{
		{"missing product", func(i *models.SaleSessionItem) { i.ProductId = "" }},
		{"zero quantity", func(i *models.SaleSessionItem) { i.Quantity = decimal.Zero }},
		{"negative quantity", func(i *models.SaleSessionItem) { i.Quantity = dec("-1") }},
		{"fractional unit quantity", func(i *models.SaleSessionItem) { i.Quantity = dec("1.5") }},
		{"negative price", func(i *models.SaleSessionItem) { i.UnitPrice = dec("-10") }},
		{"negative discount", func(i *models.SaleSessionItem) { i.Discount = dec("-5") }},
		{"percent discount over 100", func(i *models.SaleSessionItem) {
			i.DiscountType = models.DiscountTypePercent
			i.Discount = dec("101")
		}},
		{"negative tax rate", func(i *models.SaleSessionItem) { i.TaxRate = dec("-1") }},
	}
	for _, tc := range cases {
		item := line("p1", "2", "10")
		tc.mutate(&item)
		err := session.ValidateItem(item)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !utils.IsValidationError(err) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestValidateItem_WeightBasedAllowsFractionalQuantity(t *testing.T) {
	item := line("p1", "1.25", "10")
	item.IsWeightBased = utils.NewTrue()
	if err := session.ValidateItem(item); err != nil {
		t.Fatalf("weight based fractional quantity rejected: %v", err)
	}
}
