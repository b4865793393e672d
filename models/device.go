package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is an explicitly provisioned POS terminal. A device registers once
// and keeps its id across restarts; sync watermarks hang off this identity.
type Device struct {
	ID         string     `gorm:"primary_key;size:64" json:"id"`
	BusinessId string     `gorm:"index;not null" json:"business_id"`
	Name       string     `gorm:"size:100;not null" json:"name" binding:"required"`
	Model      string     `gorm:"size:100" json:"model"`
	Platform   string     `gorm:"size:50" json:"platform"`
	IsActive   *bool      `gorm:"not null;default:true" json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (device Device) GetBusinessId() string {
	return device.BusinessId
}

type NewDevice struct {
	Name     string `json:"name" binding:"required"`
	Model    string `json:"model"`
	Platform string `json:"platform"`
}

// ProvisionDevice registers a terminal or returns the existing registration
// for the same (business, name, model) pair. Re-provisioning is idempotent.
func ProvisionDevice(ctx context.Context, input *NewDevice) (*Device, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var device Device
	err := db.WithContext(ctx).
		Where("business_id = ? AND name = ? AND model = ?", businessId, input.Name, input.Model).
		First(&device).Error
	if err == nil {
		now := time.Now().UTC()
		if err := db.WithContext(ctx).Model(&device).
			UpdateColumn("last_seen_at", &now).Error; err != nil {
			return nil, err
		}
		return &device, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	device = Device{
		ID:         uuid.NewString(),
		BusinessId: businessId,
		Name:       input.Name,
		Model:      input.Model,
		Platform:   input.Platform,
		IsActive:   utils.NewTrue(),
		LastSeenAt: &now,
	}
	if err := db.WithContext(ctx).Create(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func GetDevice(ctx context.Context, id string) (*Device, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Device](ctx, businessId, id)
}

func GetDevices(ctx context.Context) ([]*Device, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Device](ctx, businessId)
}

// TouchDeviceLastSeen updates the heartbeat timestamp, best effort.
func TouchDeviceLastSeen(ctx context.Context, deviceId string) {
	db := config.GetDB()
	now := time.Now().UTC()
	_ = db.WithContext(ctx).Model(&Device{}).
		Where("id = ?", deviceId).
		UpdateColumn("last_seen_at", &now).Error
}
