package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
)

type Business struct {
	ID             uuid.UUID `gorm:"primary_key" json:"id"`
	Name           string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName    string    `gorm:"size:100" json:"contact_name"`
	Email          string    `gorm:"size:255" json:"email"`
	Phone          string    `gorm:"size:20" json:"phone"`
	Address        string    `gorm:"type:text" json:"address"`
	Country        string    `gorm:"size:100" json:"country"`
	City           string    `gorm:"size:100" json:"city"`
	Timezone       string    `gorm:"size:50" json:"timezone"`
	CurrencyCode   string    `gorm:"size:10" json:"currency_code"`
	IsTaxInclusive *bool     `gorm:"default:false;not null" json:"is_tax_inclusive"`
	PrimaryShopId  int       `gorm:"not null" json:"primary_shop_id"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`

	SyncStatus     SyncStatus `gorm:"size:20;not null;default:pending" json:"sync_status"`
	LastModifiedAt time.Time  `gorm:"index" json:"last_modified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (business Business) GetBusinessId() string {
	return business.ID.String()
}

type NewBusiness struct {
	Name         string `json:"name" binding:"required"`
	ContactName  string `json:"contact_name"`
	Email        string `json:"email" binding:"required"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	Country      string `json:"country"`
	City         string `json:"city"`
	Timezone     string `json:"timezone"`
	CurrencyCode string `json:"currency_code"`
}

func (business *Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+fmt.Sprint(business.ID), business, 0)
}

func (business *Business) RemoveRedis() error {
	return config.RemoveRedisKey("Business:" + fmt.Sprint(business.ID))
}

func (input *NewBusiness) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Business](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	// phone
	if input.Phone != "" {
		if err := utils.ValidateUnique[Business](ctx, "", "phone", input.Phone, id); err != nil {
			return err
		}
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("invalid email")
	}
	return nil
}

// CreateBusiness provisions a tenant with its primary shop and owner user in
// one transaction.
func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {

	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.Begin()

	BID := uuid.New()
	timezone := "Asia/Yangon"
	if input.Timezone != "" {
		timezone = input.Timezone
	}
	currencyCode := input.CurrencyCode
	if currencyCode == "" {
		currencyCode = "MMK"
	}

	business := Business{
		ID:             BID,
		Name:           input.Name,
		ContactName:    input.ContactName,
		Email:          input.Email,
		Phone:          input.Phone,
		Address:        input.Address,
		Country:        input.Country,
		City:           input.City,
		Timezone:       timezone,
		CurrencyCode:   currencyCode,
		IsTaxInclusive: utils.NewFalse(),
		IsActive:       utils.NewTrue(),
		SyncStatus:     SyncStatusPending,
		LastModifiedAt: time.Now().UTC(),
	}

	// create business
	err := tx.WithContext(ctx).Create(&business).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	businessId := business.ID.String()
	ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, businessId)

	// Create Primary Shop
	shop := Shop{
		BusinessId:     businessId,
		Name:           "Primary Shop",
		Address:        input.Address,
		IsActive:       utils.NewTrue(),
		SyncStatus:     SyncStatusPending,
		LastModifiedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&shop).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Create Owner user
	owner := User{
		BusinessId: businessId,
		Username:   input.Email,
		Name:       input.ContactName,
		Email:      input.Email,
		Role:       UserRoleOwner,
		IsActive:   utils.NewTrue(),
	}
	if err := tx.WithContext(ctx).Create(&owner).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Update Primary Shop
	err = tx.WithContext(ctx).Model(&business).Updates(map[string]interface{}{
		"PrimaryShopId": shop.ID,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err = tx.Commit().Error; err != nil {
		return nil, err
	}

	return &business, nil
}

func UpdateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	err := db.WithContext(ctx).Model(&business).Updates(map[string]interface{}{
		"Name":           input.Name,
		"ContactName":    input.ContactName,
		"Email":          input.Email,
		"Phone":          input.Phone,
		"Address":        input.Address,
		"Country":        input.Country,
		"City":           input.City,
		"CurrencyCode":   input.CurrencyCode,
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
	if err != nil {
		return nil, err
	}

	// caching
	if err := business.RemoveRedis(); err != nil {
		return nil, err
	}
	return &business, nil
}

// may return RecordNotFound, redis cached
func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	var business *Business
	exists, err := config.GetRedisObject("Business:"+businessId, &business)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := business.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return business, nil
}

func ToggleActiveBusiness(ctx context.Context, businessId string, isActive bool) (*Business, error) {
	db := config.GetDB()

	var business Business
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()
	err := tx.WithContext(ctx).Model(&business).Updates(map[string]interface{}{
		"IsActive":       isActive,
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// deactivating a business deactivates its users as well
	if !isActive {
		if err := tx.WithContext(ctx).Model(&User{}).
			Where("business_id = ?", businessId).
			UpdateColumn("is_active", false).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := business.RemoveRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &business, tx.Commit().Error
}
