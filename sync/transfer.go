package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Transfer moves entity batches between devices and the server. Upload is
// idempotent per item; download pages strictly forward from a watermark.
type Transfer struct {
	validator *Validator
	logger    *logrus.Logger
}

func NewTransfer(validator *Validator) *Transfer {
	return &Transfer{validator: validator, logger: config.GetLogger()}
}

// Upload applies a device batch item by item. A failed item is reported and
// skipped; everything already applied stays applied. The device watermark
// advances only when the whole batch went through (conflicts recorded count
// as applied, the conflict is the outcome).
func (t *Transfer) Upload(ctx context.Context, deviceId string, items []UploadItem, runId *uint) (*UploadResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	state, err := models.GetDeviceSyncState(ctx, businessId, deviceId)
	if err != nil {
		return nil, err
	}
	models.TouchDeviceLastSeen(ctx, deviceId)

	result := &UploadResult{}
	for _, item := range items {
		conflicted, err := t.applyItem(ctx, businessId, deviceId, state.LastSyncAt, item, runId)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedItem{
				EntityType: item.EntityType,
				EntityId:   item.EntityId,
				Code:       rejectCode(err),
				Message:    err.Error(),
				Retryable:  utils.IsTransientError(err),
			})
			continue
		}
		if conflicted {
			result.Conflicts++
		}
		result.Accepted++
	}

	if len(result.Rejected) == 0 {
		now := time.Now().UTC()
		err = models.UpdateDeviceSyncState(ctx, businessId, deviceId, map[string]interface{}{
			"LastUploadAt": now,
			"LastSyncAt":   now,
		})
		if err != nil {
			config.LogError(t.logger, "sync", "Upload", "advance watermark", deviceId, err)
		}
	}
	return result, nil
}

func rejectCode(err error) string {
	switch {
	case errors.Is(err, utils.ErrorIsolationViolation):
		return "isolation_violation"
	case errors.Is(err, utils.ErrorRecordNotFound):
		return "not_found"
	case utils.IsValidationError(err):
		return "validation_failed"
	default:
		return "apply_failed"
	}
}

// applyItem applies one change. The bool reports whether a conflict was
// recorded instead of a direct apply.
func (t *Transfer) applyItem(ctx context.Context, businessId string, deviceId string, base *time.Time, item UploadItem, runId *uint) (bool, error) {
	if item.EntityId == "" {
		return false, utils.NewValidationError("entity id is required")
	}

	modifiedAt := item.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now().UTC()
	}

	switch item.EntityType {
	case models.EntityTypeProduct:
		return t.applyProduct(ctx, businessId, base, item, modifiedAt, runId)
	case models.EntityTypeStock:
		return t.applyStock(ctx, businessId, base, item, modifiedAt, runId)
	case models.EntityTypeSale:
		return false, t.applySale(ctx, businessId, deviceId, item)
	case models.EntityTypeShop:
		return t.applyShop(ctx, businessId, base, item, modifiedAt, runId)
	default:
		return false, utils.NewValidationError("unsupported entity type: " + string(item.EntityType))
	}
}

func (t *Transfer) applyProduct(ctx context.Context, businessId string, base *time.Time, item UploadItem, modifiedAt time.Time, runId *uint) (bool, error) {
	var incoming models.Product
	if err := json.Unmarshal(item.Payload, &incoming); err != nil {
		return false, utils.NewValidationError("malformed product payload")
	}
	if incoming.BusinessId != "" && incoming.BusinessId != businessId {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, runId)
		return false, utils.ErrorIsolationViolation
	}

	db := config.GetDB()
	var existing models.Product
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, item.EntityId).
		First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		if item.ActionType == models.ActionTypeDelete {
			// Deleting something the server never saw is a no-op.
			return false, nil
		}
		incoming.ID = item.EntityId
		incoming.BusinessId = businessId
		incoming.SyncStatus = models.SyncStatusSynced
		incoming.LastModifiedAt = modifiedAt
		if err := db.WithContext(ctx).Create(&incoming).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				return false, nil
			}
			return false, err
		}
		return false, nil
	}

	if !t.validator.Validate(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}) {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, runId)
		return false, utils.ErrorIsolationViolation
	}

	serverJSON, _ := json.Marshal(existing)
	snap := Snapshot{
		EntityType: item.EntityType,
		EntityId:   item.EntityId,
		ShopId:     existing.ShopId,
		Local: &EntityVersion{
			ModifiedAt: modifiedAt,
			Deleted:    item.ActionType == models.ActionTypeDelete,
			Payload:    item.Payload,
		},
		Server: &EntityVersion{
			ModifiedAt: existing.LastModifiedAt,
			Deleted:    existing.IsActive != nil && !*existing.IsActive,
			Payload:    serverJSON,
		},
		Base: base,
	}
	if conflictType, found := Detect(snap); found {
		return true, t.recordConflict(ctx, businessId, snap, conflictType, runId, &existing)
	}

	updates := map[string]interface{}{
		"Name":           incoming.Name,
		"Sku":            incoming.Sku,
		"Barcode":        incoming.Barcode,
		"UnitPrice":      incoming.UnitPrice,
		"TaxRate":        incoming.TaxRate,
		"SyncStatus":     models.SyncStatusSynced,
		"LastModifiedAt": modifiedAt,
	}
	if item.ActionType == models.ActionTypeDelete {
		updates = map[string]interface{}{
			"IsActive":       false,
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": modifiedAt,
		}
	}
	if err := db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return false, err
	}
	if err := utils.RemoveRedisItem[models.Product](item.EntityId); err != nil {
		return false, err
	}
	return false, utils.RemoveRedisList[models.Product](businessId)
}

func (t *Transfer) applyStock(ctx context.Context, businessId string, base *time.Time, item UploadItem, modifiedAt time.Time, runId *uint) (bool, error) {
	var incoming models.Stock
	if err := json.Unmarshal(item.Payload, &incoming); err != nil {
		return false, utils.NewValidationError("malformed stock payload")
	}
	if incoming.BusinessId != "" && incoming.BusinessId != businessId {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, runId)
		return false, utils.ErrorIsolationViolation
	}

	db := config.GetDB()
	var existing models.Stock
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, item.EntityId).
		First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		incoming.ID = item.EntityId
		incoming.BusinessId = businessId
		incoming.SyncStatus = models.SyncStatusSynced
		incoming.LastModifiedAt = modifiedAt
		if err := db.WithContext(ctx).Create(&incoming).Error; err != nil {
			if models.IsDuplicateKeyErr(err) {
				return false, nil
			}
			return false, err
		}
		return false, nil
	}

	if !t.validator.Validate(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}) {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, runId)
		return false, utils.ErrorIsolationViolation
	}

	serverJSON, _ := json.Marshal(existing)
	snap := Snapshot{
		EntityType: item.EntityType,
		EntityId:   item.EntityId,
		ShopId:     existing.ShopId,
		Local: &EntityVersion{
			ModifiedAt: modifiedAt,
			Payload:    item.Payload,
		},
		Server: &EntityVersion{
			ModifiedAt: existing.LastModifiedAt,
			Payload:    serverJSON,
		},
		Base: base,
	}
	if conflictType, found := Detect(snap); found {
		return true, t.recordConflict(ctx, businessId, snap, conflictType, runId, &existing)
	}

	err = db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"Quantity":       incoming.Quantity,
		"SyncStatus":     models.SyncStatusSynced,
		"LastModifiedAt": modifiedAt,
	}).Error
	if err != nil {
		return false, err
	}
	return false, utils.RemoveRedisItem[models.Stock](item.EntityId)
}

// applySale records an immutable sale. A duplicate id means a replayed
// action and is accepted silently.
func (t *Transfer) applySale(ctx context.Context, businessId string, deviceId string, item UploadItem) error {
	var incoming models.Sale
	if err := json.Unmarshal(item.Payload, &incoming); err != nil {
		return utils.NewValidationError("malformed sale payload")
	}
	if incoming.BusinessId != "" && incoming.BusinessId != businessId {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, nil)
		return utils.ErrorIsolationViolation
	}
	if !t.validator.Validate(ctx, businessId, EntityRef{Type: models.EntityTypeShop, Id: strconv.Itoa(incoming.ShopId)}) {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, nil)
		return utils.ErrorIsolationViolation
	}

	incoming.ID = item.EntityId
	incoming.BusinessId = businessId
	if incoming.DeviceId == "" {
		incoming.DeviceId = deviceId
	}
	incoming.SyncStatus = models.SyncStatusSynced
	if incoming.LastModifiedAt.IsZero() {
		incoming.LastModifiedAt = time.Now().UTC()
	}

	details := incoming.Details
	incoming.Details = nil
	_, err := models.RecordSale(ctx, &incoming, details)
	return err
}

func (t *Transfer) applyShop(ctx context.Context, businessId string, base *time.Time, item UploadItem, modifiedAt time.Time, runId *uint) (bool, error) {
	var incoming models.Shop
	if err := json.Unmarshal(item.Payload, &incoming); err != nil {
		return false, utils.NewValidationError("malformed shop payload")
	}
	if incoming.BusinessId != "" && incoming.BusinessId != businessId {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: item.EntityType, Id: item.EntityId}, item.Payload, runId)
		return false, utils.ErrorIsolationViolation
	}

	shopId, err := strconv.Atoi(item.EntityId)
	if err != nil {
		return false, utils.NewValidationError("invalid shop id")
	}

	db := config.GetDB()
	var existing models.Shop
	err = db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, shopId).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, utils.ErrorRecordNotFound
		}
		return false, err
	}

	serverJSON, _ := json.Marshal(existing)
	snap := Snapshot{
		EntityType: item.EntityType,
		EntityId:   item.EntityId,
		ShopId:     existing.ID,
		Local: &EntityVersion{
			ModifiedAt: modifiedAt,
			Payload:    item.Payload,
		},
		Server: &EntityVersion{
			ModifiedAt: existing.LastModifiedAt,
			Payload:    serverJSON,
		},
		Base: base,
	}
	if conflictType, found := Detect(snap); found {
		return true, t.recordConflict(ctx, businessId, snap, conflictType, runId, &existing)
	}

	err = db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"Name":           incoming.Name,
		"Phone":          incoming.Phone,
		"Address":        incoming.Address,
		"City":           incoming.City,
		"SyncStatus":     models.SyncStatusSynced,
		"LastModifiedAt": modifiedAt,
	}).Error
	if err != nil {
		return false, err
	}
	return false, utils.RemoveRedisItem[models.Shop](existing.ID)
}

// recordConflict files the divergence and flags the server row so downloads
// surface the conflicted state.
func (t *Transfer) recordConflict(ctx context.Context, businessId string, snap Snapshot, conflictType models.ConflictType, runId *uint, row interface{}) error {
	conflict := BuildConflict(businessId, snap, conflictType, runId)
	if err := models.CreateDataConflict(ctx, conflict); err != nil {
		return err
	}

	db := config.GetDB()
	return db.WithContext(ctx).Model(row).
		UpdateColumn("sync_status", models.SyncStatusConflicted).Error
}

// Download hands out server-side changes past the (since, sinceId) compound
// cursor, oldest first, one page at a time. Rows sharing the boundary
// timestamp break the tie on id so no row is skipped between pages. Soft
// deleted products are excluded; devices learn about removals through delete
// conflicts.
func (t *Transfer) Download(ctx context.Context, deviceId string, since time.Time, sinceId string) (*DownloadResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	pageSize := config.SyncPageSize()
	var entities []DownloadedEntity

	db := config.GetDB()
	cursor := "last_modified_at > ? OR (last_modified_at = ? AND id > ?)"

	var products []models.Product
	err := db.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessId, true).
		Where(cursor, since, since, sinceId).
		Order("last_modified_at, id").Limit(pageSize + 1).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	for _, product := range products {
		payload, _ := json.Marshal(product)
		entities = append(entities, DownloadedEntity{
			EntityType: models.EntityTypeProduct,
			EntityId:   product.ID,
			Payload:    payload,
			ModifiedAt: product.LastModifiedAt,
		})
	}

	var stocks []models.Stock
	err = db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where(cursor, since, since, sinceId).
		Order("last_modified_at, id").Limit(pageSize + 1).
		Find(&stocks).Error
	if err != nil {
		return nil, err
	}
	for _, stock := range stocks {
		payload, _ := json.Marshal(stock)
		entities = append(entities, DownloadedEntity{
			EntityType: models.EntityTypeStock,
			EntityId:   stock.ID,
			Payload:    payload,
			ModifiedAt: stock.LastModifiedAt,
		})
	}

	var sales []models.Sale
	err = db.WithContext(ctx).Preload("Details").
		Where("business_id = ?", businessId).
		Where(cursor, since, since, sinceId).
		Order("last_modified_at, id").Limit(pageSize + 1).
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	for _, sale := range sales {
		payload, _ := json.Marshal(sale)
		entities = append(entities, DownloadedEntity{
			EntityType: models.EntityTypeSale,
			EntityId:   sale.ID,
			Payload:    payload,
			ModifiedAt: sale.LastModifiedAt,
		})
	}

	sort.SliceStable(entities, func(i, j int) bool {
		if !entities[i].ModifiedAt.Equal(entities[j].ModifiedAt) {
			return entities[i].ModifiedAt.Before(entities[j].ModifiedAt)
		}
		return entities[i].EntityId < entities[j].EntityId
	})

	hasMore := len(entities) > pageSize
	if hasMore {
		entities = entities[:pageSize]
	}

	now := time.Now().UTC()
	if deviceId != "" {
		models.TouchDeviceLastSeen(ctx, deviceId)
		err = models.UpdateDeviceSyncState(ctx, businessId, deviceId, map[string]interface{}{
			"LastDownloadAt": now,
		})
		if err != nil {
			config.LogError(t.logger, "sync", "Download", "touch download watermark", deviceId, err)
		}
	}

	result := &DownloadResult{
		Entities:        entities,
		ServerTimestamp: now,
		NextSince:       since,
		NextSinceId:     sinceId,
		HasMore:         hasMore,
	}
	if n := len(entities); n > 0 {
		result.NextSince = entities[n-1].ModifiedAt
		result.NextSinceId = entities[n-1].EntityId
	}
	return result, nil
}
