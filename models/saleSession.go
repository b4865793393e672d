package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
)

// SaleSession is the persisted form of an open tab. The in-memory session
// state lives in the session package; every mutation flushes through here so
// tabs survive restarts.
type SaleSession struct {
	ID         string       `gorm:"primary_key;size:64" json:"id"`
	BusinessId string       `gorm:"index;not null" json:"business_id"`
	ShopId     int          `gorm:"index;not null" json:"shop_id"`
	UserId     int          `gorm:"index;not null" json:"user_id"`
	DeviceId   string       `gorm:"index;size:64;not null" json:"device_id"`
	Label      string       `gorm:"size:100" json:"label"`
	State      SessionState `gorm:"size:20;not null;default:active" json:"state"`

	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"discount_amount"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tax_amount"`
	FinalTotal     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"final_total"`

	SaleId *string `gorm:"size:64" json:"sale_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items []SaleSessionItem `gorm:"foreignKey:SessionId" json:"items"`
}

func (session SaleSession) GetBusinessId() string {
	return session.BusinessId
}

type SaleSessionItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SessionId     string          `gorm:"index;size:64;not null" json:"session_id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	ProductId     string          `gorm:"size:64;not null" json:"product_id"`
	Name          string          `gorm:"size:100" json:"name"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	IsWeightBased *bool           `gorm:"not null;default:false" json:"is_weight_based"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Discount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	DiscountType  DiscountType    `gorm:"size:2;default:A" json:"discount_type"`
	TaxRate       decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"tax_rate"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Position      int             `gorm:"not null;default:0" json:"position"`
}

// SaveSaleSession writes the session and replaces its item rows in one
// transaction.
func SaveSaleSession(ctx context.Context, session *SaleSession, items []SaleSessionItem) error {
	if session.BusinessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Save(session).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.WithContext(ctx).
		Where("session_id = ?", session.ID).
		Delete(&SaleSessionItem{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	for i := range items {
		items[i].ID = 0
		items[i].SessionId = session.ID
		items[i].BusinessId = session.BusinessId
		items[i].Position = i
		if err := tx.WithContext(ctx).Create(&items[i]).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

func GetSaleSession(ctx context.Context, id string) (*SaleSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[SaleSession](ctx, businessId, id, "Items")
}

// LoadOpenSaleSessions reloads the active and suspended tabs of a device,
// used to rebuild in-memory state after a restart.
func LoadOpenSaleSessions(ctx context.Context, businessId string, deviceId string) ([]*SaleSession, error) {
	db := config.GetDB()
	var results []*SaleSession
	err := db.WithContext(ctx).Preload("Items").
		Where("business_id = ? AND device_id = ? AND state IN ?",
			businessId, deviceId, []SessionState{SessionStateActive, SessionStateSuspended}).
		Order("created_at").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func DeleteSaleSession(ctx context.Context, id string) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()
	if err := tx.WithContext(ctx).Where("session_id = ?", id).Delete(&SaleSessionItem{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, id).Delete(&SaleSession{}).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
