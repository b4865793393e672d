package models

// SyncStatus tracks whether a record has been reconciled with the server copy.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusConflicted SyncStatus = "conflicted"
)

// ConflictType classifies why local and server copies of an entity diverged.
type ConflictType string

const (
	ConflictTypeUpdate          ConflictType = "update"
	ConflictTypeDelete          ConflictType = "delete"
	ConflictTypeCreate          ConflictType = "create"
	ConflictTypeBusinessRule    ConflictType = "business_rule"
	ConflictTypeTenantIsolation ConflictType = "tenant_isolation"
)

// ResolutionOutcome is the terminal (or pending) state of a conflict.
type ResolutionOutcome string

const (
	ResolutionPending    ResolutionOutcome = "pending"
	ResolutionServerWins ResolutionOutcome = "server_wins"
	ResolutionLocalWins  ResolutionOutcome = "local_wins"
	ResolutionDiscarded  ResolutionOutcome = "discarded"
	ResolutionManual     ResolutionOutcome = "manual"
)

// SessionState is the lifecycle state of a sale session (an open tab).
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStateSuspended SessionState = "suspended"
	SessionStateCompleted SessionState = "completed"
	SessionStateClosed    SessionState = "closed"
)

// ActionType identifies a queued offline action awaiting replay.
type ActionType string

const (
	ActionTypeCreate       ActionType = "create"
	ActionTypeUpdate       ActionType = "update"
	ActionTypeDelete       ActionType = "delete"
	ActionTypeCompleteSale ActionType = "complete_sale"
)

// EntityType names a syncable record kind.
type EntityType string

const (
	EntityTypeBusiness EntityType = "business"
	EntityTypeShop     EntityType = "shop"
	EntityTypeProduct  EntityType = "product"
	EntityTypeStock    EntityType = "stock"
	EntityTypeSale     EntityType = "sale"
	EntityTypeUser     EntityType = "user"
	EntityTypeDevice   EntityType = "device"
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "P"
	DiscountTypeAmount  DiscountType = "A"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodMobile PaymentMethod = "mobile"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredRetry     = "retry"
	SyncTriggeredSchedule  = "schedule"
	SyncTriggeredReconnect = "reconnect"
)
