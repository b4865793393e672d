package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock is one quantity row per (shop, product). Quantity is
// server-authoritative: conflicting local values always lose to the server
// copy during sync.
type Stock struct {
	ID         string          `gorm:"primary_key;size:64" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	ShopId     int             `gorm:"uniqueIndex:idx_stock_shop_product,priority:1;not null" json:"shop_id"`
	ProductId  string          `gorm:"uniqueIndex:idx_stock_shop_product,priority:2;size:64;not null" json:"product_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`

	SyncStatus     SyncStatus `gorm:"size:20;not null;default:pending" json:"sync_status"`
	LastModifiedAt time.Time  `gorm:"index" json:"last_modified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (stock Stock) GetBusinessId() string {
	return stock.BusinessId
}

func GetStock(ctx context.Context, shopId int, productId string) (*Stock, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var stock Stock
	err := db.WithContext(ctx).
		Where("business_id = ? AND shop_id = ? AND product_id = ?", businessId, shopId, productId).
		First(&stock).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &stock, nil
}

func GetStocksByShop(ctx context.Context, shopId int) ([]*Stock, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Stock
	err := db.WithContext(ctx).
		Where("business_id = ? AND shop_id = ?", businessId, shopId).
		Order("product_id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// AdjustStock moves the quantity by delta inside the caller's transaction.
// Completing a sale decrements through here; negative resulting stock is
// allowed and flagged later by reconciliation.
func AdjustStock(tx *gorm.DB, ctx context.Context, businessId string, shopId int, productId string, delta decimal.Decimal) error {
	var stock Stock
	err := tx.WithContext(ctx).
		Where("business_id = ? AND shop_id = ? AND product_id = ?", businessId, shopId, productId).
		First(&stock).Error
	if err != nil {
		return utils.ErrorRecordNotFound
	}

	return tx.WithContext(ctx).Model(&stock).Updates(map[string]interface{}{
		"Quantity":       stock.Quantity.Add(delta),
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
}

// SetStockQuantity overwrites the quantity, used when the server copy wins a
// conflict.
func SetStockQuantity(ctx context.Context, businessId string, stockId string, qty decimal.Decimal, modifiedAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Stock{}).
		Where("business_id = ? AND id = ?", businessId, stockId).
		Updates(map[string]interface{}{
			"Quantity":       qty,
			"SyncStatus":     SyncStatusSynced,
			"LastModifiedAt": modifiedAt,
		}).Error
}
