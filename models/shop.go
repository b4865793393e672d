package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

type Shop struct {
	ID             int    `gorm:"primary_key" json:"id"`
	BusinessId     string `gorm:"index;not null" json:"business_id"`
	Name           string `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Phone          string `gorm:"size:20" json:"phone"`
	Address        string `gorm:"type:text" json:"address"`
	City           string `gorm:"size:100" json:"city"`
	IsActive       *bool  `gorm:"not null;default:true" json:"is_active"`
	OriginDeviceId string `gorm:"size:64" json:"origin_device_id"`

	SyncStatus     SyncStatus `gorm:"size:20;not null;default:pending" json:"sync_status"`
	LastModifiedAt time.Time  `gorm:"index" json:"last_modified_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (shop Shop) GetBusinessId() string {
	return shop.BusinessId
}

type NewShop struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewShop) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Shop](ctx, businessId, id); err != nil {
			return err
		}
	}
	// name
	if err := utils.ValidateUnique[Shop](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	// phone
	if len(strings.TrimSpace(input.Phone)) > 0 {
		if err := utils.ValidateUnique[Shop](ctx, businessId, "phone", input.Phone, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateShop(ctx context.Context, input *NewShop) (*Shop, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	deviceId, _ := utils.GetDeviceIdFromContext(ctx)

	shop := Shop{
		BusinessId:     businessId,
		Name:           input.Name,
		Phone:          input.Phone,
		Address:        input.Address,
		City:           input.City,
		IsActive:       utils.NewTrue(),
		OriginDeviceId: deviceId,
		SyncStatus:     SyncStatusPending,
		LastModifiedAt: time.Now().UTC(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&shop).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[Shop](businessId); err != nil {
		return nil, err
	}

	return &shop, nil
}

func UpdateShop(ctx context.Context, id int, input *NewShop) (*Shop, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	shop, err := utils.FetchModel[Shop](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&shop).Updates(map[string]interface{}{
		"Name":           input.Name,
		"Phone":          input.Phone,
		"Address":        input.Address,
		"City":           input.City,
		"SyncStatus":     SyncStatusPending,
		"LastModifiedAt": time.Now().UTC(),
	}).Error
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Shop](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[Shop](businessId); err != nil {
		return nil, err
	}

	return shop, nil
}

func GetShop(ctx context.Context, id int) (*Shop, error) {

	return GetResource[Shop](ctx, id)
}

func GetShops(ctx context.Context, name *string) ([]*Shop, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	// unfiltered listing goes through the cached path
	if name == nil || len(*name) == 0 {
		return ListAllResource[Shop](ctx, "name")
	}

	db := config.GetDB()
	var results []*Shop
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("name LIKE ?", "%"+*name+"%").
		Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListActiveShops returns the shops a business sync covers.
func ListActiveShops(ctx context.Context, businessId string) ([]*Shop, error) {
	db := config.GetDB()
	var results []*Shop
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = true", businessId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveShop(ctx context.Context, id int, isActive bool) (*Shop, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !isActive {
		db := config.GetDB()
		var count int64
		if err := db.WithContext(ctx).Model(&Business{}).
			Where("id = ? AND primary_shop_id = ?", businessId, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.New("cannot toggle primary shop inactive")
		}
	}
	return ToggleActiveModel[Shop](ctx, businessId, id, isActive)
}
