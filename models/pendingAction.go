package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"gorm.io/gorm"
)

// PendingAction is one queued offline mutation awaiting replay. The auto
// increment id doubles as the FIFO order for a device.
type PendingAction struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	BusinessId  string     `gorm:"index;not null" json:"business_id"`
	DeviceId    string     `gorm:"index;size:64;not null" json:"device_id"`
	ActionType  ActionType `gorm:"size:30;not null" json:"action_type"`
	EntityType  EntityType `gorm:"size:50;not null" json:"entity_type"`
	EntityId    string     `gorm:"size:64;not null" json:"entity_id"`
	PayloadJSON []byte     `gorm:"type:json" json:"payload"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	EnqueuedAt  time.Time  `gorm:"autoCreateTime" json:"enqueued_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (action PendingAction) GetBusinessId() string {
	return action.BusinessId
}

func CreatePendingAction(ctx context.Context, action *PendingAction) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(action).Error
}

// ListPendingActions returns a device's queue in enqueue order.
func ListPendingActions(ctx context.Context, businessId string, deviceId string) ([]*PendingAction, error) {
	db := config.GetDB()
	var results []*PendingAction
	err := db.WithContext(ctx).
		Where("business_id = ? AND device_id = ?", businessId, deviceId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func DeletePendingAction(ctx context.Context, id uint) error {
	db := config.GetDB()
	return db.WithContext(ctx).Delete(&PendingAction{}, id).Error
}

func MarkPendingActionAttempt(ctx context.Context, id uint, lastError string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&PendingAction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"Attempts":  gorm.Expr("attempts + 1"),
			"LastError": lastError,
		}).Error
}

// DevicesWithPendingActions lists devices that have anything queued, used by
// the scheduler to decide what to flush.
func DevicesWithPendingActions(ctx context.Context) ([]struct {
	BusinessId string
	DeviceId   string
}, error) {
	db := config.GetDB()
	var results []struct {
		BusinessId string
		DeviceId   string
	}
	err := db.WithContext(ctx).Model(&PendingAction{}).
		Distinct("business_id", "device_id").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func CountPendingActions(ctx context.Context, businessId string, deviceId string) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&PendingAction{}).
		Where("business_id = ? AND device_id = ?", businessId, deviceId).
		Count(&count).Error
	return count, err
}
