package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

// Sale is an immutable record written when a sale session completes.
// Ids are uuid strings minted on the selling device.
type Sale struct {
	ID             string          `gorm:"primary_key;size:64" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	ShopId         int             `gorm:"index;not null" json:"shop_id"`
	UserId         int             `gorm:"index" json:"user_id"`
	DeviceId       string          `gorm:"size:64" json:"device_id"`
	SaleNumber     string          `gorm:"size:50" json:"sale_number"`
	SaleDate       time.Time       `gorm:"index;not null" json:"sale_date"`
	PaymentMethod  PaymentMethod   `gorm:"size:20;default:cash" json:"payment_method"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount_amount"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	FinalTotal     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"final_total"`

	SyncStatus     SyncStatus `gorm:"size:20;not null;default:pending" json:"sync_status"`
	LastModifiedAt time.Time  `gorm:"index" json:"last_modified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Details []SaleDetail `gorm:"foreignKey:SaleId" json:"details"`
}

func (sale Sale) GetBusinessId() string {
	return sale.BusinessId
}

type SaleDetail struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SaleId         string          `gorm:"index;size:64;not null" json:"sale_id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	ProductId      string          `gorm:"size:64;not null" json:"product_id"`
	Name           string          `gorm:"size:100" json:"name"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	IsWeightBased  *bool           `gorm:"not null;default:false" json:"is_weight_based"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount_amount"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
}

// IsDuplicateKeyErr reports MySQL error 1062 (duplicate entry). Replayed
// offline actions and re-uploaded batches lean on this for idempotency.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// RecordSale writes the sale with its details and decrements stock in one
// transaction. A duplicate sale id means the sale was already recorded
// (replayed action); it returns the stored record without error.
func RecordSale(ctx context.Context, sale *Sale, details []SaleDetail) (*Sale, error) {
	if sale.BusinessId == "" {
		return nil, errors.New("business id is required")
	}
	if len(details) == 0 {
		return nil, utils.NewValidationError("sale has no items")
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(sale).Error; err != nil {
		tx.Rollback()
		if IsDuplicateKeyErr(err) {
			return utils.FetchModel[Sale](ctx, sale.BusinessId, sale.ID, "Details")
		}
		return nil, err
	}

	for i := range details {
		details[i].SaleId = sale.ID
		details[i].BusinessId = sale.BusinessId
		if err := tx.WithContext(ctx).Create(&details[i]).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		// stock goes down by the sold quantity
		if err := AdjustStock(tx, ctx, sale.BusinessId, sale.ShopId, details[i].ProductId, details[i].Quantity.Neg()); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	sale.Details = details
	return sale, nil
}

func GetSale(ctx context.Context, id string) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Sale](ctx, businessId, id, "Details")
}

func GetSales(ctx context.Context, shopId *int, fromDate, toDate *time.Time) ([]*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Sale

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if shopId != nil && *shopId > 0 {
		dbCtx = dbCtx.Where("shop_id = ?", *shopId)
	}
	if fromDate != nil {
		dbCtx = dbCtx.Where("sale_date >= ?", *fromDate)
	}
	if toDate != nil {
		dbCtx = dbCtx.Where("sale_date <= ?", *toDate)
	}
	err := dbCtx.Order("sale_date DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// NextSaleNumber builds a human readable receipt number per shop and day.
func NextSaleNumber(ctx context.Context, businessId string, shopId int, saleDate time.Time) (string, error) {
	db := config.GetDB()
	dayStart := time.Date(saleDate.Year(), saleDate.Month(), saleDate.Day(), 0, 0, 0, 0, time.UTC)

	var count int64
	err := db.WithContext(ctx).Model(&Sale{}).
		Where("business_id = ? AND shop_id = ? AND sale_date >= ?", businessId, shopId, dayStart).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("S%d-%s-%04d", shopId, saleDate.Format("20060102"), count+1), nil
}
