package sync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
)

// EntityRef identifies one syncable entity. Ids are strings because syncable
// entities carry device-minted uuid keys; shop references travel as the
// decimal form of the int id.
type EntityRef struct {
	Type models.EntityType `json:"type"`
	Id   string            `json:"id"`
}

// UploadItem is one device-side change pushed to the server.
type UploadItem struct {
	EntityType models.EntityType `json:"entity_type" binding:"required"`
	EntityId   string            `json:"entity_id" binding:"required"`
	ActionType models.ActionType `json:"action_type" binding:"required"`
	Payload    json.RawMessage   `json:"payload"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// RejectedItem reports a single upload item that could not be applied. The
// rest of the batch is unaffected.
type RejectedItem struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityId   string            `json:"entity_id"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
}

type UploadResult struct {
	Accepted  int            `json:"accepted"`
	Conflicts int            `json:"conflicts"`
	Rejected  []RejectedItem `json:"rejected"`
}

// DownloadedEntity is one server-side change handed to a device.
type DownloadedEntity struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityId   string            `json:"entity_id"`
	Payload    json.RawMessage   `json:"payload"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// DownloadResult is one page of server-side changes. NextSince/NextSinceId
// form the compound cursor for the following page; rows sharing the boundary
// timestamp are disambiguated by id so none are skipped between pages.
type DownloadResult struct {
	Entities        []DownloadedEntity `json:"entities"`
	ServerTimestamp time.Time          `json:"server_timestamp"`
	NextSince       time.Time          `json:"next_since"`
	NextSinceId     string             `json:"next_since_id"`
	HasMore         bool               `json:"has_more"`
}

// ShopSyncResult is the per-shop slice of a business sync. A failed shop
// never fails its siblings.
type ShopSyncResult struct {
	ShopId        int    `json:"shop_id"`
	Success       bool   `json:"success"`
	RecordsSynced int    `json:"records_synced"`
	Error         string `json:"error,omitempty"`
}

type SyncResult struct {
	RunId              uint             `json:"run_id"`
	BusinessId         string           `json:"business_id"`
	Status             string           `json:"status"`
	Success            bool             `json:"success"`
	RecordsSynced      int              `json:"records_synced"`
	ConflictsResolved  int              `json:"conflicts_resolved"`
	ConflictsRemaining int              `json:"conflicts_remaining"`
	Shops              []ShopSyncResult `json:"shops,omitempty"`
	Errors             []string         `json:"errors,omitempty"`
	CompletedAt        time.Time        `json:"completed_at"`
}

// ResolveError pins a resolution failure to one conflict so the batch report
// stays itemized.
type ResolveError struct {
	ConflictId uint   `json:"conflict_id"`
	Message    string `json:"message"`
}

type ResolveReport struct {
	Resolved  int            `json:"resolved"`
	Remaining int            `json:"remaining"`
	Errors    []ResolveError `json:"errors,omitempty"`
}

// FlushResult reports one queue flush. Remaining > 0 with Delivered > 0 is a
// partial flush; the remainder stays queued in order.
type FlushResult struct {
	Delivered int    `json:"delivered"`
	Remaining int    `json:"remaining"`
	Partial   bool   `json:"partial"`
	Error     string `json:"error,omitempty"`
}

type SyncPubSubPayload struct {
	RunId      uint   `json:"run_id"`
	BusinessId string `json:"business_id"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
