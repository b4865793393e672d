package sync_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/sync"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// fakeOwnerStore wires a two-tenant ownership graph:
//
//	biz-1 -> shop 1 -> product p1 -> stock st1, sale s1; user 7, device dev-1
//	biz-2 -> shop 2 -> product p2; device dev-2
type fakeOwnerStore struct {
	err error
}

func (s *fakeOwnerStore) BusinessExists(ctx context.Context, businessId string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return businessId == "biz-1" || businessId == "biz-2", nil
}

func (s *fakeOwnerStore) ShopBusiness(ctx context.Context, shopId int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	switch shopId {
	case 1:
		return "biz-1", nil
	case 2:
		return "biz-2", nil
	}
	return "", utils.ErrorRecordNotFound
}

func (s *fakeOwnerStore) ProductShop(ctx context.Context, productId string) (int, error) {
	switch productId {
	case "p1":
		return 1, nil
	case "p2":
		return 2, nil
	}
	return 0, utils.ErrorRecordNotFound
}

func (s *fakeOwnerStore) StockProduct(ctx context.Context, stockId string) (string, error) {
	if stockId == "st1" {
		return "p1", nil
	}
	return "", utils.ErrorRecordNotFound
}

func (s *fakeOwnerStore) SaleShop(ctx context.Context, saleId string) (int, error) {
	if saleId == "s1" {
		return 1, nil
	}
	return 0, utils.ErrorRecordNotFound
}

func (s *fakeOwnerStore) DeviceBusiness(ctx context.Context, deviceId string) (string, error) {
	switch deviceId {
	case "dev-1":
		return "biz-1", nil
	case "dev-2":
		return "biz-2", nil
	}
	return "", utils.ErrorRecordNotFound
}

func (s *fakeOwnerStore) UserBusiness(ctx context.Context, userId int) (string, error) {
	if userId == 7 {
		return "biz-1", nil
	}
	return "", utils.ErrorRecordNotFound
}

func TestValidate_WalksParentChain(t *testing.T) {
	v := sync.NewValidator(&fakeOwnerStore{})
	ctx := context.Background()

	cases := []struct {
		name string
		ref  sync.EntityRef
		want bool
	}{
		{"own business", sync.EntityRef{Type: models.EntityTypeBusiness, Id: "biz-1"}, true},
		{"own shop", sync.EntityRef{Type: models.EntityTypeShop, Id: "1"}, true},
		{"own product via shop", sync.EntityRef{Type: models.EntityTypeProduct, Id: "p1"}, true},
		{"own stock via product and shop", sync.EntityRef{Type: models.EntityTypeStock, Id: "st1"}, true},
		{"own sale via shop", sync.EntityRef{Type: models.EntityTypeSale, Id: "s1"}, true},
		{"own user", sync.EntityRef{Type: models.EntityTypeUser, Id: "7"}, true},
		{"own device", sync.EntityRef{Type: models.EntityTypeDevice, Id: "dev-1"}, true},
		{"foreign shop", sync.EntityRef{Type: models.EntityTypeShop, Id: "2"}, false},
		{"foreign product", sync.EntityRef{Type: models.EntityTypeProduct, Id: "p2"}, false},
		{"unknown product", sync.EntityRef{Type: models.EntityTypeProduct, Id: "ghost"}, false},
		{"unknown business", sync.EntityRef{Type: models.EntityTypeBusiness, Id: "biz-9"}, false},
		{"non numeric shop id", sync.EntityRef{Type: models.EntityTypeShop, Id: "abc"}, false},
		{"foreign device", sync.EntityRef{Type: models.EntityTypeDevice, Id: "dev-2"}, false},
		{"unknown user", sync.EntityRef{Type: models.EntityTypeUser, Id: "99"}, false},
		{"non numeric user id", sync.EntityRef{Type: models.EntityTypeUser, Id: "u7"}, false},
		{"unknown entity kind", sync.EntityRef{Type: "warehouse", Id: "w1"}, false},
		{"empty id", sync.EntityRef{Type: models.EntityTypeProduct, Id: ""}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := v.Validate(ctx, "biz-1", tc.ref); got != tc.want {
				t.Fatalf("Validate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidate_StoreErrorCountsAsViolation(t *testing.T) {
	v := sync.NewValidator(&fakeOwnerStore{err: errors.New("db down")})

	ref := sync.EntityRef{Type: models.EntityTypeShop, Id: "1"}
	if v.Validate(context.Background(), "biz-1", ref) {
		t.Fatal("a failed ownership lookup must never let data through")
	}
}

func TestValidate_EmptyBusinessIsViolation(t *testing.T) {
	v := sync.NewValidator(&fakeOwnerStore{})
	ref := sync.EntityRef{Type: models.EntityTypeProduct, Id: "p1"}
	if v.Validate(context.Background(), "", ref) {
		t.Fatal("missing business id must be a violation")
	}
}
