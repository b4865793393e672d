package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product ids are uuid strings minted on the creating device so offline
// creates never collide across terminals.
type Product struct {
	ID            string          `gorm:"primary_key;size:64" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	ShopId        int             `gorm:"index;not null" json:"shop_id"`
	Name          string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Sku           string          `gorm:"size:64" json:"sku"`
	Barcode       string          `gorm:"size:64" json:"barcode"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TaxRate       decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	IsWeightBased *bool           `gorm:"not null;default:false" json:"is_weight_based"`
	TrackExpiry   *bool           `gorm:"not null;default:false" json:"track_expiry"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`

	SyncStatus     SyncStatus `gorm:"size:20;not null;default:pending" json:"sync_status"`
	LastModifiedAt time.Time  `gorm:"index" json:"last_modified_at"`
	OriginDeviceId string     `gorm:"size:64" json:"origin_device_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (product Product) GetBusinessId() string {
	return product.BusinessId
}

type NewProduct struct {
	ID            string          `json:"id"`
	ShopId        int             `json:"shop_id" binding:"required"`
	Name          string          `json:"name" binding:"required"`
	Sku           string          `json:"sku"`
	Barcode       string          `json:"barcode"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	IsWeightBased *bool           `json:"is_weight_based"`
	TrackExpiry   *bool           `json:"track_expiry"`
}

// validate input for both create & update. (id = "" for create)

func (input *NewProduct) validate(ctx context.Context, businessId string, id string) error {
	if id != "" {
		if err := utils.ValidateResourceId[Product](ctx, businessId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateResourceId[Shop](ctx, businessId, input.ShopId); err != nil {
		return errors.New("shop not found")
	}
	// sku unique within business
	if input.Sku != "" {
		if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
			return err
		}
	}
	if input.UnitPrice.IsNegative() {
		return utils.NewValidationError("unit price cannot be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, ""); err != nil {
		return nil, err
	}

	deviceId, _ := utils.GetDeviceIdFromContext(ctx)
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	product := Product{
		ID:             id,
		BusinessId:     businessId,
		ShopId:         input.ShopId,
		Name:           input.Name,
		Sku:            input.Sku,
		Barcode:        input.Barcode,
		UnitPrice:      input.UnitPrice,
		TaxRate:        input.TaxRate,
		IsWeightBased:  input.IsWeightBased,
		TrackExpiry:    input.TrackExpiry,
		IsActive:       utils.NewTrue(),
		SyncStatus:     SyncStatusPending,
		LastModifiedAt: time.Now().UTC(),
		OriginDeviceId: deviceId,
	}
	if product.IsWeightBased == nil {
		product.IsWeightBased = utils.NewFalse()
	}
	if product.TrackExpiry == nil {
		product.TrackExpiry = utils.NewFalse()
	}

	// db action
	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// every product starts with a zero stock row in its shop
	stock := Stock{
		ID:             uuid.NewString(),
		BusinessId:     businessId,
		ShopId:         input.ShopId,
		ProductId:      product.ID,
		Quantity:       decimal.Zero,
		SyncStatus:     SyncStatusPending,
		LastModifiedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&stock).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[Product](businessId); err != nil {
		return nil, err
	}

	return &product, nil
}

func UpdateProduct(ctx context.Context, id string, input *NewProduct) (*Product, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"Name":           input.Name,
		"Sku":            input.Sku,
		"Barcode":        input.Barcode,
		"UnitPrice":      input.UnitPrice,
		"TaxRate":        input.TaxRate,
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Product](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[Product](businessId); err != nil {
		return nil, err
	}

	return product, nil
}

// DeleteProduct soft deletes; the record stays for sync history.
func DeleteProduct(ctx context.Context, id string) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&product).Updates(map[string]interface{}{
		"IsActive":       false,
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Product](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[Product](businessId); err != nil {
		return nil, err
	}

	return product, nil
}

func GetProduct(ctx context.Context, id string) (*Product, error) {
	return GetResource[Product](ctx, id)
}

func GetProducts(ctx context.Context, shopId *int, name *string) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Product

	dbCtx := db.WithContext(ctx).Where("business_id = ? AND is_active = true", businessId)
	if shopId != nil && *shopId > 0 {
		dbCtx = dbCtx.Where("shop_id = ?", *shopId)
	}
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
