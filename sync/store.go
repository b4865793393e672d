package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"gorm.io/gorm"
)

// gormOwnerStore resolves entity parents straight from the tenant tables.
type gormOwnerStore struct{}

func NewGormOwnerStore() OwnerStore { return gormOwnerStore{} }

func (gormOwnerStore) BusinessExists(ctx context.Context, businessId string) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&models.Business{}).
		Where("id = ?", businessId).Count(&count).Error
	return count > 0, err
}

func (gormOwnerStore) ShopBusiness(ctx context.Context, shopId int) (string, error) {
	db := config.GetDB()
	var shop models.Shop
	err := db.WithContext(ctx).Select("business_id").
		Where("id = ?", shopId).First(&shop).Error
	if err != nil {
		return "", ownerErr(err)
	}
	return shop.BusinessId, nil
}

func (gormOwnerStore) ProductShop(ctx context.Context, productId string) (int, error) {
	db := config.GetDB()
	var product models.Product
	err := db.WithContext(ctx).Select("shop_id").
		Where("id = ?", productId).First(&product).Error
	if err != nil {
		return 0, ownerErr(err)
	}
	return product.ShopId, nil
}

func (gormOwnerStore) StockProduct(ctx context.Context, stockId string) (string, error) {
	db := config.GetDB()
	var stock models.Stock
	err := db.WithContext(ctx).Select("product_id").
		Where("id = ?", stockId).First(&stock).Error
	if err != nil {
		return "", ownerErr(err)
	}
	return stock.ProductId, nil
}

func (gormOwnerStore) SaleShop(ctx context.Context, saleId string) (int, error) {
	db := config.GetDB()
	var sale models.Sale
	err := db.WithContext(ctx).Select("shop_id").
		Where("id = ?", saleId).First(&sale).Error
	if err != nil {
		return 0, ownerErr(err)
	}
	return sale.ShopId, nil
}

func (gormOwnerStore) DeviceBusiness(ctx context.Context, deviceId string) (string, error) {
	db := config.GetDB()
	var device models.Device
	err := db.WithContext(ctx).Select("business_id").
		Where("id = ?", deviceId).First(&device).Error
	if err != nil {
		return "", ownerErr(err)
	}
	return device.BusinessId, nil
}

func (gormOwnerStore) UserBusiness(ctx context.Context, userId int) (string, error) {
	db := config.GetDB()
	var user models.User
	err := db.WithContext(ctx).Select("business_id").
		Where("id = ?", userId).First(&user).Error
	if err != nil {
		return "", ownerErr(err)
	}
	return user.BusinessId, nil
}

func ownerErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

// gormConflictStore persists resolutions and applies winning local copies.
type gormConflictStore struct{}

func NewGormConflictStore() ConflictStore { return gormConflictStore{} }

func (gormConflictStore) SaveResolution(ctx context.Context, conflict *models.DataConflict) error {
	return models.SaveResolution(ctx, conflict)
}

// ApplyLocalCopy writes the local snapshot over the server entity. Sales are
// immutable and never reach a local_wins outcome.
func (gormConflictStore) ApplyLocalCopy(ctx context.Context, conflict *models.DataConflict) error {
	modifiedAt := time.Now().UTC()
	if conflict.LocalModifiedAt != nil {
		modifiedAt = *conflict.LocalModifiedAt
	}

	db := config.GetDB()
	switch conflict.EntityType {
	case models.EntityTypeProduct:
		var local models.Product
		if err := json.Unmarshal(conflict.LocalJSON, &local); err != nil {
			return utils.NewValidationError("malformed local product snapshot")
		}
		err := db.WithContext(ctx).Model(&models.Product{}).
			Where("business_id = ? AND id = ?", conflict.BusinessId, conflict.EntityId).
			Updates(map[string]interface{}{
				"Name":           local.Name,
				"Sku":            local.Sku,
				"Barcode":        local.Barcode,
				"UnitPrice":      local.UnitPrice,
				"TaxRate":        local.TaxRate,
				"SyncStatus":     models.SyncStatusSynced,
				"LastModifiedAt": modifiedAt,
			}).Error
		if err != nil {
			return err
		}
		if err := utils.RemoveRedisItem[models.Product](conflict.EntityId); err != nil {
			return err
		}
		return utils.RemoveRedisList[models.Product](conflict.BusinessId)
	case models.EntityTypeStock:
		var local models.Stock
		if err := json.Unmarshal(conflict.LocalJSON, &local); err != nil {
			return utils.NewValidationError("malformed local stock snapshot")
		}
		return models.SetStockQuantity(ctx, conflict.BusinessId, conflict.EntityId, local.Quantity, modifiedAt)
	case models.EntityTypeShop:
		var local models.Shop
		if err := json.Unmarshal(conflict.LocalJSON, &local); err != nil {
			return utils.NewValidationError("malformed local shop snapshot")
		}
		err := db.WithContext(ctx).Model(&models.Shop{}).
			Where("business_id = ? AND id = ?", conflict.BusinessId, conflict.EntityId).
			Updates(map[string]interface{}{
				"Name":           local.Name,
				"Phone":          local.Phone,
				"Address":        local.Address,
				"City":           local.City,
				"SyncStatus":     models.SyncStatusSynced,
				"LastModifiedAt": modifiedAt,
			}).Error
		if err != nil {
			return err
		}
		return utils.RemoveRedisList[models.Shop](conflict.BusinessId)
	default:
		return utils.NewValidationError("cannot apply local copy for entity type: " + string(conflict.EntityType))
	}
}

// gormActionStore keeps the offline queue in the pending_actions table.
type gormActionStore struct{}

func NewGormActionStore() ActionStore { return gormActionStore{} }

func (gormActionStore) Create(ctx context.Context, action *models.PendingAction) error {
	return models.CreatePendingAction(ctx, action)
}

func (gormActionStore) List(ctx context.Context, businessId string, deviceId string) ([]*models.PendingAction, error) {
	return models.ListPendingActions(ctx, businessId, deviceId)
}

func (gormActionStore) Delete(ctx context.Context, id uint) error {
	return models.DeletePendingAction(ctx, id)
}

func (gormActionStore) MarkAttempt(ctx context.Context, id uint, lastError string) error {
	return models.MarkPendingActionAttempt(ctx, id, lastError)
}

// transferSink replays queued actions through the same apply path uploads
// use, so replayed and uploaded changes dedupe identically.
type transferSink struct {
	transfer *Transfer
}

func NewTransferSink(transfer *Transfer) ActionSink {
	return &transferSink{transfer: transfer}
}

func (s *transferSink) Deliver(ctx context.Context, action *models.PendingAction) error {
	ctx = utils.SetBusinessIdInContext(ctx, action.BusinessId)

	state, err := models.GetDeviceSyncState(ctx, action.BusinessId, action.DeviceId)
	if err != nil {
		return err
	}

	item := UploadItem{
		EntityType: action.EntityType,
		EntityId:   action.EntityId,
		ActionType: action.ActionType,
		Payload:    action.PayloadJSON,
		ModifiedAt: action.EnqueuedAt,
	}
	_, err = s.transfer.applyItem(ctx, action.BusinessId, action.DeviceId, state.LastSyncAt, item, nil)
	return err
}

// Service bundles the sync subsystem with its default gorm wiring.
type Service struct {
	Validator    *Validator
	Resolver     *Resolver
	Transfer     *Transfer
	Queue        *Queue
	Orchestrator *Orchestrator
	Worker       *Worker
}

func NewService() *Service {
	validator := NewValidator(NewGormOwnerStore())
	resolver := NewResolver(NewGormConflictStore())
	transfer := NewTransfer(validator)
	queue := NewQueue(NewGormActionStore(), NewTransferSink(transfer))
	orchestrator := NewOrchestrator(validator, resolver, transfer)
	return &Service{
		Validator:    validator,
		Resolver:     resolver,
		Transfer:     transfer,
		Queue:        queue,
		Orchestrator: orchestrator,
		Worker:       NewWorker(orchestrator),
	}
}
