package session

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// gormStore persists sessions through the models layer.
type gormStore struct{}

func NewGormStore() Store { return gormStore{} }

func (gormStore) Save(ctx context.Context, session *models.SaleSession, items []models.SaleSessionItem) error {
	ctx = utils.SetBusinessIdInContext(ctx, session.BusinessId)
	return models.SaveSaleSession(ctx, session, items)
}

func (gormStore) LoadOpen(ctx context.Context, businessId string, deviceId string) ([]*models.SaleSession, error) {
	ctx = utils.SetBusinessIdInContext(ctx, businessId)
	return models.LoadOpenSaleSessions(ctx, businessId, deviceId)
}

func (gormStore) Delete(ctx context.Context, id string) error {
	return models.DeleteSaleSession(ctx, id)
}

func (gormStore) TaxInclusive(ctx context.Context, businessId string) (bool, error) {
	business, err := models.GetBusinessById(ctx, businessId)
	if err != nil {
		return false, err
	}
	return utils.DereferencePtr(business.IsTaxInclusive), nil
}

// gormRecorder writes completed sales through the models layer.
type gormRecorder struct{}

func NewGormRecorder() SaleRecorder { return gormRecorder{} }

func (gormRecorder) Record(ctx context.Context, sale *models.Sale, details []models.SaleDetail) (*models.Sale, error) {
	return models.RecordSale(ctx, sale, details)
}

func (gormRecorder) NextSaleNumber(ctx context.Context, businessId string, shopId int, saleDate time.Time) (string, error) {
	return models.NextSaleNumber(ctx, businessId, shopId, saleDate)
}

// NewDefaultManager wires the manager with its gorm stores and no printer.
func NewDefaultManager(printer ReceiptPrinter) *Manager {
	return NewManager(NewGormStore(), NewGormRecorder(), printer)
}
