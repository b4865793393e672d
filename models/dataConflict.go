package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// DataConflict records one divergence between a local and a server copy of an
// entity, together with how (or whether) it was resolved. Resolved conflicts
// are never reopened.
type DataConflict struct {
	ID         uint         `gorm:"primary_key" json:"id"`
	BusinessId string       `gorm:"index;not null" json:"business_id"`
	ShopId     int          `gorm:"index" json:"shop_id"`
	EntityType EntityType   `gorm:"size:50;not null" json:"entity_type"`
	EntityId   string       `gorm:"index;size:64;not null" json:"entity_id"`
	Type       ConflictType `gorm:"size:30;not null" json:"type"`

	LocalJSON  []byte `gorm:"type:json" json:"local"`
	ServerJSON []byte `gorm:"type:json" json:"server"`

	LocalModifiedAt  *time.Time `json:"local_modified_at"`
	ServerModifiedAt *time.Time `json:"server_modified_at"`

	Outcome    ResolutionOutcome `gorm:"size:20;not null;default:pending" json:"outcome"`
	Strategy   string            `gorm:"size:50" json:"strategy"`
	ResolvedAt *time.Time        `json:"resolved_at"`
	Note       string            `gorm:"type:text" json:"note"`

	SyncRunId *uint     `gorm:"index" json:"sync_run_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (conflict DataConflict) GetBusinessId() string {
	return conflict.BusinessId
}

// IsResolved reports whether the conflict reached a terminal outcome.
func (conflict *DataConflict) IsResolved() bool {
	return conflict.Outcome != ResolutionPending && conflict.Outcome != ResolutionManual
}

func CreateDataConflict(ctx context.Context, conflict *DataConflict) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(conflict).Error
}

func GetDataConflict(ctx context.Context, id uint) (*DataConflict, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[DataConflict](ctx, businessId, id)
}

// SaveResolution persists a terminal outcome exactly once. Re-resolving a
// resolved conflict is a no-op at the storage layer.
func SaveResolution(ctx context.Context, conflict *DataConflict) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&DataConflict{}).
		Where("id = ? AND outcome IN ?", conflict.ID, []ResolutionOutcome{ResolutionPending, ResolutionManual}).
		Updates(map[string]interface{}{
			"Outcome":    conflict.Outcome,
			"Strategy":   conflict.Strategy,
			"ResolvedAt": conflict.ResolvedAt,
			"Note":       conflict.Note,
		})
	return result.Error
}

// ListOpenConflicts returns conflicts still awaiting automatic resolution.
func ListOpenConflicts(ctx context.Context, businessId string) ([]*DataConflict, error) {
	db := config.GetDB()
	var results []*DataConflict
	err := db.WithContext(ctx).
		Where("business_id = ? AND outcome = ?", businessId, ResolutionPending).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListManualConflicts returns conflicts routed to the review queue.
func ListManualConflicts(ctx context.Context, businessId string) ([]*DataConflict, error) {
	db := config.GetDB()
	var results []*DataConflict
	err := db.WithContext(ctx).
		Where("business_id = ? AND outcome = ?", businessId, ResolutionManual).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func CountUnresolvedConflicts(ctx context.Context, businessId string) (int64, error) {
	return utils.ResourceCountWhere[DataConflict](ctx, businessId, "outcome IN ?",
		[]ResolutionOutcome{ResolutionPending, ResolutionManual})
}
