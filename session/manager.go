package session

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store persists sale sessions so open tabs survive restarts.
type Store interface {
	Save(ctx context.Context, session *models.SaleSession, items []models.SaleSessionItem) error
	LoadOpen(ctx context.Context, businessId string, deviceId string) ([]*models.SaleSession, error)
	Delete(ctx context.Context, id string) error
	TaxInclusive(ctx context.Context, businessId string) (bool, error)
}

// SaleRecorder turns a completed session into the permanent sale record.
type SaleRecorder interface {
	Record(ctx context.Context, sale *models.Sale, details []models.SaleDetail) (*models.Sale, error)
	NextSaleNumber(ctx context.Context, businessId string, shopId int, saleDate time.Time) (string, error)
}

// ReceiptPrinter is the external printing collaborator. Failures never block
// a completed sale.
type ReceiptPrinter interface {
	Print(ctx context.Context, sale *models.Sale) error
}

// Manager holds the open tabs of the registers. All session mutation goes
// through its mutex so each session has a single writer.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*models.SaleSession
	current  map[string]string

	store     Store
	recorder  SaleRecorder
	printer   ReceiptPrinter
	events    *Broadcaster
	maxActive int
	logger    *logrus.Logger
}

func NewManager(store Store, recorder SaleRecorder, printer ReceiptPrinter) *Manager {
	return &Manager{
		sessions:  make(map[string]*models.SaleSession),
		current:   make(map[string]string),
		store:     store,
		recorder:  recorder,
		printer:   printer,
		events:    NewBroadcaster(),
		maxActive: config.MaxActiveSaleSessions(),
		logger:    config.GetLogger(),
	}
}

func (m *Manager) Events() *Broadcaster { return m.events }

func ownerKey(userId int, deviceId string) string {
	return deviceId + "/" + strconv.Itoa(userId)
}

func (m *Manager) activeCountLocked(key string) int {
	count := 0
	for _, session := range m.sessions {
		if ownerKey(session.UserId, session.DeviceId) == key && session.State == models.SessionStateActive {
			count++
		}
	}
	return count
}

// Create opens a new tab. When the cashier already holds the maximum number
// of active tabs on this device the call fails and the existing set is
// untouched.
func (m *Manager) Create(ctx context.Context, shopId int, label string) (*models.SaleSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	deviceId, _ := utils.GetDeviceIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(userId, deviceId)
	if m.activeCountLocked(key) >= m.maxActive {
		return nil, utils.ErrorCapacityExceeded
	}

	session := &models.SaleSession{
		ID:         uuid.NewString(),
		BusinessId: businessId,
		ShopId:     shopId,
		UserId:     userId,
		DeviceId:   deviceId,
		Label:      label,
		State:      models.SessionStateActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.Save(ctx, session, nil); err != nil {
		return nil, err
	}

	m.sessions[session.ID] = session
	m.current[key] = session.ID
	m.events.Publish(Event{Type: EventCreated, SessionId: session.ID})
	return session, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(businessId, id)
}

func (m *Manager) getLocked(businessId string, id string) (*models.SaleSession, error) {
	session, ok := m.sessions[id]
	if !ok || session.BusinessId != businessId {
		return nil, utils.ErrorRecordNotFound
	}
	return session, nil
}

// ListOpen returns the cashier's open tabs on a device, oldest first.
func (m *Manager) ListOpen(ctx context.Context, userId int, deviceId string) []*models.SaleSession {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	key := ownerKey(userId, deviceId)

	m.mu.Lock()
	defer m.mu.Unlock()

	var results []*models.SaleSession
	for _, session := range m.sessions {
		if session.BusinessId != businessId {
			continue
		}
		if ownerKey(session.UserId, session.DeviceId) != key {
			continue
		}
		if session.State != models.SessionStateActive && session.State != models.SessionStateSuspended {
			continue
		}
		results = append(results, session)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results
}

// Current reports which tab a cashier/device pair is editing.
func (m *Manager) Current(userId int, deviceId string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.current[ownerKey(userId, deviceId)]
	return id, ok
}

func (m *Manager) mutable(session *models.SaleSession) error {
	if session.State == models.SessionStateCompleted || session.State == models.SessionStateClosed {
		return utils.NewValidationError("session is no longer editable")
	}
	return nil
}

func (m *Manager) recomputeAndSave(ctx context.Context, session *models.SaleSession) error {
	taxInclusive, err := m.store.TaxInclusive(ctx, session.BusinessId)
	if err != nil {
		return err
	}
	totals, items := Recompute(session.Items, taxInclusive)
	session.Items = items
	applyTotals(session, totals)
	if err := m.store.Save(ctx, session, session.Items); err != nil {
		return err
	}
	m.events.Publish(Event{Type: EventUpdated, SessionId: session.ID})
	return nil
}

// AddItem appends a line and recomputes the snapshot immediately.
func (m *Manager) AddItem(ctx context.Context, sessionId string, item models.SaleSessionItem) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if err := m.mutable(session); err != nil {
		return nil, err
	}
	if err := ValidateItem(item); err != nil {
		return nil, err
	}

	item.SessionId = session.ID
	item.BusinessId = session.BusinessId
	session.Items = append(session.Items, item)
	if err := m.recomputeAndSave(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateItem replaces the line for a product and recomputes.
func (m *Manager) UpdateItem(ctx context.Context, sessionId string, productId string, item models.SaleSessionItem) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if err := m.mutable(session); err != nil {
		return nil, err
	}
	if err := ValidateItem(item); err != nil {
		return nil, err
	}

	found := false
	for i := range session.Items {
		if session.Items[i].ProductId == productId {
			item.SessionId = session.ID
			item.BusinessId = session.BusinessId
			item.Position = session.Items[i].Position
			session.Items[i] = item
			found = true
			break
		}
	}
	if !found {
		return nil, utils.ErrorRecordNotFound
	}
	if err := m.recomputeAndSave(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *Manager) RemoveItem(ctx context.Context, sessionId string, productId string) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if err := m.mutable(session); err != nil {
		return nil, err
	}

	kept := session.Items[:0]
	removed := false
	for _, existing := range session.Items {
		if existing.ProductId == productId && !removed {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return nil, utils.ErrorRecordNotFound
	}
	session.Items = kept
	if err := m.recomputeAndSave(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Switch makes another tab the one being edited. The previous tab's state is
// persisted first so nothing typed into it is lost.
func (m *Manager) Switch(ctx context.Context, sessionId string) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if err := m.mutable(session); err != nil {
		return nil, err
	}

	key := ownerKey(session.UserId, session.DeviceId)
	if previousId, ok := m.current[key]; ok && previousId != sessionId {
		if previous, exists := m.sessions[previousId]; exists {
			if err := m.store.Save(ctx, previous, previous.Items); err != nil {
				return nil, err
			}
		}
	}

	if session.State == models.SessionStateSuspended {
		session.State = models.SessionStateActive
		if err := m.store.Save(ctx, session, session.Items); err != nil {
			return nil, err
		}
	}
	m.current[key] = sessionId
	m.events.Publish(Event{Type: EventSwitched, SessionId: sessionId})
	return session, nil
}

func (m *Manager) Suspend(ctx context.Context, sessionId string) (*models.SaleSession, error) {
	return m.setState(ctx, sessionId, models.SessionStateActive, models.SessionStateSuspended, EventSuspended)
}

func (m *Manager) Resume(ctx context.Context, sessionId string) (*models.SaleSession, error) {
	return m.setState(ctx, sessionId, models.SessionStateSuspended, models.SessionStateActive, EventResumed)
}

func (m *Manager) setState(ctx context.Context, sessionId string, from models.SessionState, to models.SessionState, eventType EventType) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != from {
		return nil, utils.NewValidationError("session is not " + string(from))
	}
	if to == models.SessionStateActive {
		key := ownerKey(session.UserId, session.DeviceId)
		if m.activeCountLocked(key) >= m.maxActive {
			return nil, utils.ErrorCapacityExceeded
		}
	}

	session.State = to
	if err := m.store.Save(ctx, session, session.Items); err != nil {
		session.State = from
		return nil, err
	}
	m.events.Publish(Event{Type: eventType, SessionId: sessionId})
	return session, nil
}

// Validate checks the completion invariants of a tab: it holds at least one
// line, every line could be rung up again, and the stored snapshot equals a
// fresh recompute of the items.
func (m *Manager) Validate(ctx context.Context, sessionId string) error {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return err
	}
	if err := validateItems(session.Items); err != nil {
		return err
	}

	taxInclusive, err := m.store.TaxInclusive(ctx, session.BusinessId)
	if err != nil {
		return err
	}
	// Recompute on a copy; validation must not touch the session.
	items := make([]models.SaleSessionItem, len(session.Items))
	copy(items, session.Items)
	totals, _ := Recompute(items, taxInclusive)
	if !snapshotMatches(session, totals) {
		return utils.NewValidationError("session snapshot does not match its items")
	}
	return nil
}

// Save persists the tab as it currently stands.
func (m *Manager) Save(ctx context.Context, sessionId string) (*models.SaleSession, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if err := m.mutable(session); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, session, session.Items); err != nil {
		return nil, err
	}
	return session, nil
}

// Close ends a tab without a sale. When it was the tab being edited, the
// oldest remaining open tab becomes current.
func (m *Manager) Close(ctx context.Context, sessionId string, saveState bool) error {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return err
	}
	if err := m.mutable(session); err != nil {
		return err
	}

	session.State = models.SessionStateClosed
	if saveState {
		if err := m.store.Save(ctx, session, session.Items); err != nil {
			return err
		}
	} else {
		if err := m.store.Delete(ctx, session.ID); err != nil {
			return err
		}
	}
	delete(m.sessions, sessionId)

	key := ownerKey(session.UserId, session.DeviceId)
	if m.current[key] == sessionId {
		delete(m.current, key)
		if successor := m.successorLocked(businessId, key); successor != nil {
			m.current[key] = successor.ID
		}
	}
	m.events.Publish(Event{Type: EventClosed, SessionId: sessionId})
	return nil
}

func (m *Manager) successorLocked(businessId string, key string) *models.SaleSession {
	var successor *models.SaleSession
	for _, session := range m.sessions {
		if session.BusinessId != businessId {
			continue
		}
		if ownerKey(session.UserId, session.DeviceId) != key {
			continue
		}
		if session.State != models.SessionStateActive && session.State != models.SessionStateSuspended {
			continue
		}
		if successor == nil || session.CreatedAt.Before(successor.CreatedAt) {
			successor = session
		}
	}
	return successor
}

// Complete turns the tab into a permanent sale. The session must hold items
// and its snapshot must equal a fresh recompute; afterwards it is immutable.
func (m *Manager) Complete(ctx context.Context, sessionId string, paymentMethod models.PaymentMethod) (*models.Sale, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.getLocked(businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionStateActive {
		return nil, utils.NewValidationError("only an active session can complete")
	}
	if err := validateItems(session.Items); err != nil {
		return nil, err
	}

	taxInclusive, err := m.store.TaxInclusive(ctx, session.BusinessId)
	if err != nil {
		return nil, err
	}
	totals, items := Recompute(session.Items, taxInclusive)
	session.Items = items
	if !snapshotMatches(session, totals) {
		applyTotals(session, totals)
	}

	saleDate := time.Now().UTC()
	saleNumber, err := m.recorder.NextSaleNumber(ctx, session.BusinessId, session.ShopId, saleDate)
	if err != nil {
		return nil, err
	}

	sale := &models.Sale{
		ID:             uuid.NewString(),
		BusinessId:     session.BusinessId,
		ShopId:         session.ShopId,
		UserId:         session.UserId,
		DeviceId:       session.DeviceId,
		SaleNumber:     saleNumber,
		SaleDate:       saleDate,
		PaymentMethod:  paymentMethod,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		FinalTotal:     totals.FinalTotal,
		SyncStatus:     models.SyncStatusPending,
		LastModifiedAt: saleDate,
	}
	details := buildSaleDetails(session.Items, taxInclusive)

	recorded, err := m.recorder.Record(ctx, sale, details)
	if err != nil {
		return nil, err
	}

	session.State = models.SessionStateCompleted
	session.SaleId = &recorded.ID
	if err := m.store.Save(ctx, session, session.Items); err != nil {
		return nil, err
	}
	delete(m.sessions, sessionId)

	key := ownerKey(session.UserId, session.DeviceId)
	if m.current[key] == sessionId {
		delete(m.current, key)
		if successor := m.successorLocked(businessId, key); successor != nil {
			m.current[key] = successor.ID
		}
	}

	if m.printer != nil && config.ReceiptPrintingEnabled() {
		if printErr := m.printer.Print(ctx, recorded); printErr != nil {
			config.LogError(m.logger, "session", "Complete", "print receipt", recorded.ID, printErr)
		}
	}

	m.events.Publish(Event{Type: EventCompleted, SessionId: sessionId, SaleId: recorded.ID})
	return recorded, nil
}

func buildSaleDetails(items []models.SaleSessionItem, taxInclusive bool) []models.SaleDetail {
	details := make([]models.SaleDetail, 0, len(items))
	for _, item := range items {
		lineSubtotal := item.Quantity.Mul(item.UnitPrice)
		lineDiscount := utils.CalculateDiscountAmount(lineSubtotal, item.Discount, string(item.DiscountType))
		lineTax := utils.CalculateTaxAmount(lineSubtotal.Sub(lineDiscount), item.TaxRate, taxInclusive)
		details = append(details, models.SaleDetail{
			ProductId:      item.ProductId,
			Name:           item.Name,
			Quantity:       item.Quantity,
			IsWeightBased:  item.IsWeightBased,
			UnitPrice:      item.UnitPrice,
			DiscountAmount: lineDiscount,
			TaxAmount:      lineTax,
			TotalAmount:    item.TotalAmount,
		})
	}
	return details
}

// Restore reloads the open tabs of a device after a restart.
func (m *Manager) Restore(ctx context.Context, businessId string, deviceId string) (int, error) {
	sessions, err := m.store.LoadOpen(ctx, businessId, deviceId)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	restored := 0
	for _, session := range sessions {
		if _, exists := m.sessions[session.ID]; exists {
			continue
		}
		m.sessions[session.ID] = session
		restored++

		key := ownerKey(session.UserId, session.DeviceId)
		if _, ok := m.current[key]; !ok && session.State == models.SessionStateActive {
			m.current[key] = session.ID
		}
	}
	return restored, nil
}
