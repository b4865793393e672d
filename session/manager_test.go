package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/session"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

type fakeStore struct {
	saved      map[string]int
	deleted    []string
	saveErr    error
	taxInclude bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]int)}
}

func (s *fakeStore) Save(ctx context.Context, sess *models.SaleSession, items []models.SaleSessionItem) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[sess.ID]++
	return nil
}

func (s *fakeStore) LoadOpen(ctx context.Context, businessId string, deviceId string) ([]*models.SaleSession, error) {
	return nil, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) TaxInclusive(ctx context.Context, businessId string) (bool, error) {
	return s.taxInclude, nil
}

type fakeRecorder struct {
	recorded []*models.Sale
	nextErr  error
}

func (r *fakeRecorder) Record(ctx context.Context, sale *models.Sale, details []models.SaleDetail) (*models.Sale, error) {
	r.recorded = append(r.recorded, sale)
	return sale, nil
}

func (r *fakeRecorder) NextSaleNumber(ctx context.Context, businessId string, shopId int, saleDate time.Time) (string, error) {
	if r.nextErr != nil {
		return "", r.nextErr
	}
	return fmt.Sprintf("S-%04d", len(r.recorded)+1), nil
}

type fakePrinter struct {
	printed []*models.Sale
	err     error
}

func (p *fakePrinter) Print(ctx context.Context, sale *models.Sale) error {
	p.printed = append(p.printed, sale)
	return p.err
}

func testContext() context.Context {
	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, "biz-1")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetDeviceIdInContext(ctx, "dev-1")
	return ctx
}

func TestManagerCreate_CapacityLimit(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SALE_SESSIONS", "2")
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	if _, err := m.Create(ctx, 1, "tab 1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.Create(ctx, 1, "tab 2"); err != nil {
		t.Fatalf("second create: %v", err)
	}

	_, err := m.Create(ctx, 1, "tab 3")
	if !errors.Is(err, utils.ErrorCapacityExceeded) {
		t.Fatalf("third create: got %v, want ErrorCapacityExceeded", err)
	}
	if got := len(m.ListOpen(ctx, 1, "dev-1")); got != 2 {
		t.Fatalf("open sessions after rejected create = %d, want 2", got)
	}
}

func TestManagerCreate_SuspendedDoesNotCountAgainstCapacity(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SALE_SESSIONS", "1")
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	first, err := m.Create(ctx, 1, "tab 1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Suspend(ctx, first.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if _, err := m.Create(ctx, 1, "tab 2"); err != nil {
		t.Fatalf("create after suspend: %v", err)
	}
	// Resuming the first would exceed the active ceiling again.
	if _, err := m.Resume(ctx, first.ID); !errors.Is(err, utils.ErrorCapacityExceeded) {
		t.Fatalf("resume: got %v, want ErrorCapacityExceeded", err)
	}
}

func TestManagerSwitch_PersistsPreviousCurrent(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	first, err := m.Create(ctx, 1, "tab 1")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := m.Create(ctx, 1, "tab 2")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if id, _ := m.Current(1, "dev-1"); id != second.ID {
		t.Fatalf("current = %s, want newest %s", id, second.ID)
	}

	savesBefore := store.saved[second.ID]
	if _, err := m.Switch(ctx, first.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if id, _ := m.Current(1, "dev-1"); id != first.ID {
		t.Fatalf("current after switch = %s, want %s", id, first.ID)
	}
	if store.saved[second.ID] != savesBefore+1 {
		t.Fatal("switch must persist the previous current session first")
	}
}

func TestManagerSwitch_ResumesSuspendedTab(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	first, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.Suspend(ctx, first.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	second, _ := m.Create(ctx, 1, "tab 2")
	_ = second

	switched, err := m.Switch(ctx, first.ID)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if switched.State != models.SessionStateActive {
		t.Fatalf("state after switch = %s, want active", switched.State)
	}
}

func TestManagerClose_PromotesOldestSuccessor(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	first, _ := m.Create(ctx, 1, "tab 1")
	second, _ := m.Create(ctx, 1, "tab 2")
	third, _ := m.Create(ctx, 1, "tab 3")
	_ = second

	if err := m.Close(ctx, third.ID, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	if id, ok := m.Current(1, "dev-1"); !ok || id != first.ID {
		t.Fatalf("current after close = %s, want oldest %s", id, first.ID)
	}
	if _, err := m.Get(ctx, third.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("closed session still retrievable: %v", err)
	}
}

func TestManagerClose_DiscardDeletesPersistedState(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if err := m.Close(ctx, created.ID, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != created.ID {
		t.Fatalf("deleted = %v, want [%s]", store.deleted, created.ID)
	}
}

func TestManagerAddItem_RecomputesTotals(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	updated, err := m.AddItem(ctx, created.ID, line("p1", "2", "10"))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !updated.FinalTotal.Equal(dec("20")) {
		t.Fatalf("final total = %s, want 20", updated.FinalTotal)
	}

	updated, err = m.AddItem(ctx, created.ID, line("p2", "1", "5"))
	if err != nil {
		t.Fatalf("add second item: %v", err)
	}
	if !updated.FinalTotal.Equal(dec("25")) {
		t.Fatalf("final total = %s, want 25", updated.FinalTotal)
	}

	updated, err = m.RemoveItem(ctx, created.ID, "p1")
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if !updated.FinalTotal.Equal(dec("5")) {
		t.Fatalf("final total after remove = %s, want 5", updated.FinalTotal)
	}
}

func TestManagerUpdateItem_UnknownProductNotFound(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	_, err := m.UpdateItem(ctx, created.ID, "nope", line("nope", "1", "5"))
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("got %v, want ErrorRecordNotFound", err)
	}
}

func TestManagerGet_OtherBusinessIsNotFound(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")

	otherCtx := utils.SetBusinessIdInContext(context.Background(), "biz-2")
	if _, err := m.Get(otherCtx, created.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("cross tenant get: got %v, want ErrorRecordNotFound", err)
	}
}

func TestManagerComplete_RecordsSaleAndFreezesSession(t *testing.T) {
	store := newFakeStore()
	recorder := &fakeRecorder{}
	m := session.NewManager(store, recorder, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.AddItem(ctx, created.ID, line("p1", "2", "10")); err != nil {
		t.Fatalf("add item: %v", err)
	}

	sale, err := m.Complete(ctx, created.ID, models.PaymentMethodCash)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !sale.FinalTotal.Equal(dec("20")) {
		t.Fatalf("sale total = %s, want 20", sale.FinalTotal)
	}
	if sale.SaleNumber == "" || sale.ID == "" {
		t.Fatal("sale must carry an id and a sale number")
	}
	if sale.SyncStatus != models.SyncStatusPending {
		t.Fatalf("sale sync status = %s, want pending", sale.SyncStatus)
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("recorded %d sales, want 1", len(recorder.recorded))
	}

	// A completed session is no longer editable or even addressable.
	if _, err := m.AddItem(ctx, created.ID, line("p2", "1", "5")); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("mutating completed session: got %v", err)
	}
	if got := len(m.ListOpen(ctx, 1, "dev-1")); got != 0 {
		t.Fatalf("open sessions after complete = %d, want 0", got)
	}
}

func TestManagerComplete_EmptySessionRejected(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	_, err := m.Complete(ctx, created.ID, models.PaymentMethodCash)
	if !utils.IsValidationError(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestManagerComplete_SuspendedSessionRejected(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.AddItem(ctx, created.ID, line("p1", "1", "5")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := m.Suspend(ctx, created.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if _, err := m.Complete(ctx, created.ID, models.PaymentMethodCash); !utils.IsValidationError(err) {
		t.Fatal("completing a suspended session must fail validation")
	}
}

func TestManagerComplete_PrinterFailureDoesNotBlockSale(t *testing.T) {
	t.Setenv("RECEIPT_PRINTING", "true")
	store := newFakeStore()
	printer := &fakePrinter{err: errors.New("printer offline")}
	m := session.NewManager(store, &fakeRecorder{}, printer)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.AddItem(ctx, created.ID, line("p1", "1", "5")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	sale, err := m.Complete(ctx, created.ID, models.PaymentMethodCash)
	if err != nil {
		t.Fatalf("complete despite printer failure: %v", err)
	}
	if len(printer.printed) != 1 || printer.printed[0].ID != sale.ID {
		t.Fatal("printer should have been attempted once")
	}
}

func TestManagerCreate_DefaultCapacityIsThree(t *testing.T) {
	t.Setenv("MAX_ACTIVE_SALE_SESSIONS", "")
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	for i := 1; i <= 3; i++ {
		if _, err := m.Create(ctx, 1, fmt.Sprintf("tab %d", i)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := m.Create(ctx, 1, "tab 4"); !errors.Is(err, utils.ErrorCapacityExceeded) {
		t.Fatalf("fourth create: got %v, want ErrorCapacityExceeded", err)
	}
}

func TestManagerValidate_EmptySessionFails(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if err := m.Validate(ctx, created.ID); !utils.IsValidationError(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestManagerValidate_PassesForConsistentSession(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.AddItem(ctx, created.ID, line("p1", "2", "10")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := m.Validate(ctx, created.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestManagerValidate_FlagsSnapshotDrift(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	updated, err := m.AddItem(ctx, created.ID, line("p1", "2", "10"))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	updated.FinalTotal = dec("999")
	if err := m.Validate(ctx, created.ID); !utils.IsValidationError(err) {
		t.Fatalf("got %v, want validation error for drifted snapshot", err)
	}
	// Validate reports drift but never repairs it.
	if err := m.Validate(ctx, created.ID); !utils.IsValidationError(err) {
		t.Fatalf("second validate: got %v, want validation error", err)
	}
}

func TestManagerSave_PersistsCurrentState(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	savesBefore := store.saved[created.ID]
	saved, err := m.Save(ctx, created.ID)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID != created.ID {
		t.Fatalf("saved id = %s, want %s", saved.ID, created.ID)
	}
	if store.saved[created.ID] != savesBefore+1 {
		t.Fatal("save must persist the session once more")
	}
}

func TestManagerSave_CompletedSessionNotFound(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	if _, err := m.AddItem(ctx, created.ID, line("p1", "1", "5")); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := m.Complete(ctx, created.ID, models.PaymentMethodCash); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := m.Save(ctx, created.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("save after complete: got %v, want ErrorRecordNotFound", err)
	}
}

func TestManagerComplete_InvalidLineRejected(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	updated, err := m.AddItem(ctx, created.ID, line("p1", "2", "10"))
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	updated.Items[0].Quantity = dec("-1")
	if _, err := m.Complete(ctx, created.ID, models.PaymentMethodCash); !utils.IsValidationError(err) {
		t.Fatalf("got %v, want validation error for negative quantity", err)
	}
}

func TestManagerSuspend_SaveFailureRollsBackState(t *testing.T) {
	store := newFakeStore()
	m := session.NewManager(store, &fakeRecorder{}, nil)
	ctx := testContext()

	created, _ := m.Create(ctx, 1, "tab 1")
	store.saveErr = errors.New("db down")

	if _, err := m.Suspend(ctx, created.ID); err == nil {
		t.Fatal("suspend should surface the save failure")
	}
	store.saveErr = nil
	got, err := m.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.SessionStateActive {
		t.Fatalf("state after failed suspend = %s, want active", got.State)
	}
}
