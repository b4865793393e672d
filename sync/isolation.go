package sync

import (
	"context"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
)

// OwnerStore resolves the direct parent of an entity. The validator walks
// parents up to the business so a forged shop id on a product cannot smuggle
// data across tenants.
type OwnerStore interface {
	BusinessExists(ctx context.Context, businessId string) (bool, error)
	ShopBusiness(ctx context.Context, shopId int) (string, error)
	ProductShop(ctx context.Context, productId string) (int, error)
	StockProduct(ctx context.Context, stockId string) (string, error)
	SaleShop(ctx context.Context, saleId string) (int, error)
	DeviceBusiness(ctx context.Context, deviceId string) (string, error)
	UserBusiness(ctx context.Context, userId int) (string, error)
}

// Validator checks that an entity (transitively) belongs to the business a
// sync operation runs for. The gorm tenant guard stays installed underneath
// as defense in depth.
type Validator struct {
	owners OwnerStore
	logger *logrus.Logger
}

func NewValidator(owners OwnerStore) *Validator {
	return &Validator{owners: owners, logger: config.GetLogger()}
}

// Validate reports whether ref belongs to businessId. Unknown entity kinds
// and resolution failures count as violations; an isolation check never errs
// on the side of letting data through.
func (v *Validator) Validate(ctx context.Context, businessId string, ref EntityRef) bool {
	if businessId == "" || ref.Id == "" {
		return false
	}

	owner, err := v.resolveOwner(ctx, ref)
	if err != nil {
		config.LogError(v.logger, "sync", "Validate", "resolve owner", ref, err)
		return false
	}
	return owner == businessId
}

func (v *Validator) resolveOwner(ctx context.Context, ref EntityRef) (string, error) {
	switch ref.Type {
	case models.EntityTypeBusiness:
		exists, err := v.owners.BusinessExists(ctx, ref.Id)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", utils.ErrorRecordNotFound
		}
		return ref.Id, nil
	case models.EntityTypeShop:
		shopId, err := strconv.Atoi(ref.Id)
		if err != nil {
			return "", err
		}
		return v.owners.ShopBusiness(ctx, shopId)
	case models.EntityTypeProduct:
		shopId, err := v.owners.ProductShop(ctx, ref.Id)
		if err != nil {
			return "", err
		}
		return v.owners.ShopBusiness(ctx, shopId)
	case models.EntityTypeStock:
		productId, err := v.owners.StockProduct(ctx, ref.Id)
		if err != nil {
			return "", err
		}
		shopId, err := v.owners.ProductShop(ctx, productId)
		if err != nil {
			return "", err
		}
		return v.owners.ShopBusiness(ctx, shopId)
	case models.EntityTypeSale:
		shopId, err := v.owners.SaleShop(ctx, ref.Id)
		if err != nil {
			return "", err
		}
		return v.owners.ShopBusiness(ctx, shopId)
	case models.EntityTypeUser:
		userId, err := strconv.Atoi(ref.Id)
		if err != nil {
			return "", err
		}
		return v.owners.UserBusiness(ctx, userId)
	case models.EntityTypeDevice:
		return v.owners.DeviceBusiness(ctx, ref.Id)
	default:
		return "", utils.NewValidationError("unknown entity type: " + string(ref.Type))
	}
}

// RecordViolation files a tenant_isolation conflict straight into the manual
// adjudication queue. Isolation failures are never resolved automatically and
// never retried.
func RecordViolation(ctx context.Context, businessId string, ref EntityRef, payload []byte, runId *uint) error {
	now := time.Now().UTC()
	conflict := &models.DataConflict{
		BusinessId: businessId,
		EntityType: ref.Type,
		EntityId:   ref.Id,
		Type:       models.ConflictTypeTenantIsolation,
		LocalJSON:  payload,
		Outcome:    models.ResolutionManual,
		Note:       utils.ErrorIsolationViolation.Error(),
		SyncRunId:  runId,
		CreatedAt:  now,
	}
	return models.CreateDataConflict(ctx, conflict)
}
