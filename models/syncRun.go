package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"gorm.io/gorm"
)

// SyncRun is the audit record of one sync attempt (business-wide or single
// shop). Status moves queued -> running -> success/partial/failed.
type SyncRun struct {
	ID                 uint       `gorm:"primary_key" json:"id"`
	BusinessId         string     `gorm:"index;not null" json:"business_id"`
	ShopId             *int       `gorm:"index" json:"shop_id"`
	Status             string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy        string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced      int        `json:"records_synced"`
	ConflictsResolved  int        `json:"conflicts_resolved"`
	ConflictsRemaining int        `json:"conflicts_remaining"`
	ErrorCount         int        `json:"error_count"`
	StatsJSON          []byte     `gorm:"type:json" json:"stats"`
	ParentRunId        *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt          *time.Time `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
	DurationMs         int64      `json:"duration_ms"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (run SyncRun) GetBusinessId() string {
	return run.BusinessId
}

// SyncRunError keeps per-entity failures of a run without failing the whole
// run.
type SyncRunError struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	SyncRunId   uint       `gorm:"index;not null" json:"sync_run_id"`
	BusinessId  string     `gorm:"index;not null" json:"business_id"`
	EntityType  EntityType `gorm:"size:50" json:"entity_type"`
	EntityId    string     `gorm:"size:64" json:"entity_id"`
	ErrorCode   string     `gorm:"size:64" json:"error_code"`
	Message     string     `gorm:"type:text" json:"message"`
	PayloadJSON []byte     `gorm:"type:json" json:"payload"`
	Retryable   bool       `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// DeviceSyncState is the per-device watermark: entities modified after
// LastSyncAt are what the next download hands out.
type DeviceSyncState struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"uniqueIndex:idx_device_sync_state,priority:1;not null" json:"business_id"`
	DeviceId       string     `gorm:"uniqueIndex:idx_device_sync_state,priority:2;size:64;not null" json:"device_id"`
	LastSyncAt     *time.Time `json:"last_sync_at"`
	LastUploadAt   *time.Time `json:"last_upload_at"`
	LastDownloadAt *time.Time `json:"last_download_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateSyncRun(ctx context.Context, run *SyncRun) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(run).Error
}

func UpdateSyncRun(ctx context.Context, runId uint, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", runId).Updates(updates).Error
}

func GetSyncRun(ctx context.Context, businessId string, runId uint) (*SyncRun, error) {
	db := config.GetDB()
	var run SyncRun
	err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, runId).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, businessId string, limit int) ([]*SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	db := config.GetDB()
	var runs []*SyncRun
	err := db.WithContext(ctx).Where("business_id = ?", businessId).
		Order("id DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func CreateSyncRunError(ctx context.Context, runError *SyncRunError) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(runError).Error
}

func ListSyncRunErrors(ctx context.Context, businessId string, runId uint) ([]*SyncRunError, error) {
	db := config.GetDB()
	var results []*SyncRunError
	err := db.WithContext(ctx).
		Where("business_id = ? AND sync_run_id = ?", businessId, runId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetDeviceSyncState returns (and lazily creates) the watermark row of a
// device.
func GetDeviceSyncState(ctx context.Context, businessId string, deviceId string) (*DeviceSyncState, error) {
	db := config.GetDB()
	var state DeviceSyncState
	err := db.WithContext(ctx).
		Where("business_id = ? AND device_id = ?", businessId, deviceId).
		First(&state).Error
	if err == nil {
		return &state, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	state = DeviceSyncState{BusinessId: businessId, DeviceId: deviceId}
	if err := db.WithContext(ctx).Create(&state).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			err = db.WithContext(ctx).
				Where("business_id = ? AND device_id = ?", businessId, deviceId).
				First(&state).Error
			if err == nil {
				return &state, nil
			}
		}
		return nil, err
	}
	return &state, nil
}

func UpdateDeviceSyncState(ctx context.Context, businessId string, deviceId string, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&DeviceSyncState{}).
		Where("business_id = ? AND device_id = ?", businessId, deviceId).
		Updates(updates).Error
}
