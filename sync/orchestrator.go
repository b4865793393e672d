package sync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Orchestrator drives business wide and single shop syncs. Shops of one
// business fan out with bounded parallelism; conflict resolution afterwards
// is strictly sequential so the audit order is deterministic.
type Orchestrator struct {
	validator *Validator
	resolver  *Resolver
	transfer  *Transfer
	logger    *logrus.Logger
}

func NewOrchestrator(validator *Validator, resolver *Resolver, transfer *Transfer) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		resolver:  resolver,
		transfer:  transfer,
		logger:    config.GetLogger(),
	}
}

// SyncBusiness runs a full sync for one business and persists it as a
// SyncRun. An isolation failure on the business itself aborts before any
// partial work.
func (o *Orchestrator) SyncBusiness(ctx context.Context, businessId string, triggeredBy string) (*SyncResult, error) {
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	if _, err := models.GetBusinessById(ctx, businessId); err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if !o.validator.Validate(ctx, businessId, EntityRef{Type: models.EntityTypeBusiness, Id: businessId}) {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: models.EntityTypeBusiness, Id: businessId}, nil, nil)
		return nil, utils.ErrorIsolationViolation
	}

	run := &models.SyncRun{
		BusinessId:  businessId,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
	}
	if err := models.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}
	return o.ExecuteRun(ctx, run)
}

// ExecuteRun performs the work of an already persisted run. The pubsub
// worker and the synchronous API both land here.
func (o *Orchestrator) ExecuteRun(ctx context.Context, run *models.SyncRun) (*SyncResult, error) {
	businessId := run.BusinessId
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	lock, err := utils.ObtainBusinessLock(ctx, businessId, "business-sync", "sync", "ExecuteRun")
	if err != nil {
		// Another instance is syncing this business right now.
		return nil, err
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(context.Background()); releaseErr != nil {
				config.LogError(o.logger, "sync", "ExecuteRun", "release lock", businessId, releaseErr)
			}
		}()
	}

	startedAt := time.Now().UTC()
	err = models.UpdateSyncRun(ctx, run.ID, map[string]interface{}{
		"Status":    models.SyncRunStatusRunning,
		"StartedAt": startedAt,
	})
	if err != nil {
		return nil, err
	}

	result := &SyncResult{RunId: run.ID, BusinessId: businessId}

	metadataCount, metadataErr := o.syncMetadata(ctx, businessId)
	result.RecordsSynced += metadataCount
	if metadataErr != nil {
		result.Errors = append(result.Errors, metadataErr.Error())
		o.recordRunError(ctx, run.ID, businessId, models.EntityTypeBusiness, businessId, "metadata_sync_failed", metadataErr)
	}

	shops, err := models.ListActiveShops(ctx, businessId)
	if err != nil {
		return nil, o.finalize(ctx, run, result, startedAt, models.SyncRunStatusFailed)
	}

	result.Shops = make([]ShopSyncResult, len(shops))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(config.SyncShopParallelism())
	for i, shop := range shops {
		i, shop := i, shop
		group.Go(func() error {
			count, shopErr := o.syncShopRecords(groupCtx, businessId, shop.ID)
			result.Shops[i] = ShopSyncResult{
				ShopId:        shop.ID,
				Success:       shopErr == nil,
				RecordsSynced: count,
			}
			if shopErr != nil {
				result.Shops[i].Error = shopErr.Error()
			}
			// A failed shop never cancels its siblings.
			return nil
		})
	}
	_ = group.Wait()

	shopsOK := true
	for _, shopResult := range result.Shops {
		result.RecordsSynced += shopResult.RecordsSynced
		if !shopResult.Success {
			shopsOK = false
			result.Errors = append(result.Errors, shopResult.Error)
			o.recordRunError(ctx, run.ID, businessId, models.EntityTypeShop,
				itoa(shopResult.ShopId), "shop_sync_failed", errorFromString(shopResult.Error))
		}
	}

	conflicts, err := models.ListOpenConflicts(ctx, businessId)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		report := o.resolver.ResolveAll(ctx, conflicts)
		result.ConflictsResolved = report.Resolved
		for _, resolveErr := range report.Errors {
			result.Errors = append(result.Errors, resolveErr.Message)
		}
	}

	remaining, err := models.CountUnresolvedConflicts(ctx, businessId)
	if err == nil {
		result.ConflictsRemaining = int(remaining)
	}

	status := models.SyncRunStatusSuccess
	if metadataErr != nil || !shopsOK {
		status = models.SyncRunStatusPartial
		if result.RecordsSynced == 0 && result.ConflictsResolved == 0 {
			status = models.SyncRunStatusFailed
		}
	}
	return result, o.finalize(ctx, run, result, startedAt, status)
}

// SyncShop syncs one shop outside a business wide run. A shop belonging to
// a different business than the caller short circuits with nothing
// transferred.
func (o *Orchestrator) SyncShop(ctx context.Context, shopId int, triggeredBy string) (*SyncResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}

	shop, err := models.GetShop(ctx, shopId)
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if shop.BusinessId != businessId {
		_ = RecordViolation(ctx, businessId, EntityRef{Type: models.EntityTypeShop, Id: itoa(shopId)}, nil, nil)
		return nil, utils.ErrorIsolationViolation
	}

	run := &models.SyncRun{
		BusinessId:  businessId,
		ShopId:      &shopId,
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
	}
	startedAt := time.Now().UTC()
	run.StartedAt = &startedAt
	if err := models.CreateSyncRun(ctx, run); err != nil {
		return nil, err
	}

	result := &SyncResult{RunId: run.ID, BusinessId: businessId}
	count, shopErr := o.syncShopRecords(ctx, businessId, shopId)
	result.RecordsSynced = count
	result.Shops = []ShopSyncResult{{ShopId: shopId, Success: shopErr == nil, RecordsSynced: count}}

	status := models.SyncRunStatusSuccess
	if shopErr != nil {
		result.Shops[0].Error = shopErr.Error()
		result.Errors = append(result.Errors, shopErr.Error())
		o.recordRunError(ctx, run.ID, businessId, models.EntityTypeShop, itoa(shopId), "shop_sync_failed", shopErr)
		status = models.SyncRunStatusFailed
		if count > 0 {
			status = models.SyncRunStatusPartial
		}
	}
	return result, o.finalize(ctx, run, result, startedAt, status)
}

// syncMetadata uploads not yet synced business and shop records by stamping
// them with the server timestamp.
func (o *Orchestrator) syncMetadata(ctx context.Context, businessId string) (int, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	count := 0

	business := db.WithContext(ctx).Model(&models.Business{}).
		Where("id = ? AND sync_status = ?", businessId, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": now,
		})
	if business.Error != nil {
		return count, business.Error
	}
	count += int(business.RowsAffected)
	if business.RowsAffected > 0 {
		if err := utils.RemoveRedisItem[models.Business](businessId); err != nil {
			return count, err
		}
	}

	shops := db.WithContext(ctx).Model(&models.Shop{}).
		Where("business_id = ? AND sync_status = ?", businessId, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": now,
		})
	if shops.Error != nil {
		return count, shops.Error
	}
	count += int(shops.RowsAffected)
	if shops.RowsAffected > 0 {
		if err := utils.RemoveRedisList[models.Shop](businessId); err != nil {
			return count, err
		}
	}
	return count, nil
}

// syncShopRecords marks the shop's pending products, stock and sales as
// synced with the server timestamp and reports how many records moved.
func (o *Orchestrator) syncShopRecords(ctx context.Context, businessId string, shopId int) (int, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	count := 0

	products := db.WithContext(ctx).Model(&models.Product{}).
		Where("business_id = ? AND shop_id = ? AND sync_status = ?", businessId, shopId, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": now,
		})
	if products.Error != nil {
		return count, products.Error
	}
	count += int(products.RowsAffected)

	stocks := db.WithContext(ctx).Model(&models.Stock{}).
		Where("business_id = ? AND shop_id = ? AND sync_status = ?", businessId, shopId, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": now,
		})
	if stocks.Error != nil {
		return count, stocks.Error
	}
	count += int(stocks.RowsAffected)

	sales := db.WithContext(ctx).Model(&models.Sale{}).
		Where("business_id = ? AND shop_id = ? AND sync_status = ?", businessId, shopId, models.SyncStatusPending).
		Updates(map[string]interface{}{
			"SyncStatus":     models.SyncStatusSynced,
			"LastModifiedAt": now,
		})
	if sales.Error != nil {
		return count, sales.Error
	}
	count += int(sales.RowsAffected)

	if products.RowsAffected > 0 {
		if err := utils.RemoveRedisList[models.Product](businessId); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (o *Orchestrator) finalize(ctx context.Context, run *models.SyncRun, result *SyncResult, startedAt time.Time, status string) error {
	finishedAt := time.Now().UTC()
	result.Status = status
	result.Success = status == models.SyncRunStatusSuccess
	result.CompletedAt = finishedAt

	statsJSON, _ := json.Marshal(result.Shops)
	return models.UpdateSyncRun(ctx, run.ID, map[string]interface{}{
		"Status":             status,
		"StartedAt":          startedAt,
		"FinishedAt":         finishedAt,
		"DurationMs":         finishedAt.Sub(startedAt).Milliseconds(),
		"RecordsSynced":      result.RecordsSynced,
		"ConflictsResolved":  result.ConflictsResolved,
		"ConflictsRemaining": result.ConflictsRemaining,
		"ErrorCount":         len(result.Errors),
		"StatsJSON":          statsJSON,
	})
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func errorFromString(message string) error {
	if message == "" {
		return nil
	}
	return errors.New(message)
}

func (o *Orchestrator) recordRunError(ctx context.Context, runId uint, businessId string, entityType models.EntityType, entityId string, code string, err error) {
	if err == nil {
		return
	}
	runError := &models.SyncRunError{
		SyncRunId:  runId,
		BusinessId: businessId,
		EntityType: entityType,
		EntityId:   entityId,
		ErrorCode:  code,
		Message:    err.Error(),
		Retryable:  utils.IsTransientError(err),
	}
	if createErr := models.CreateSyncRunError(ctx, runError); createErr != nil {
		config.LogError(o.logger, "sync", "recordRunError", "persist run error", runId, createErr)
	}
}
