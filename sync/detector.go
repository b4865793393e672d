package sync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
)

// EntityVersion is one side's view of an entity at detection time.
type EntityVersion struct {
	ModifiedAt time.Time
	Deleted    bool
	Payload    json.RawMessage
}

// Snapshot feeds the detector: the device copy, the server copy and the
// watermark both sides agreed on at the last successful sync. A nil Base
// means the two sides never synced this entity.
type Snapshot struct {
	EntityType models.EntityType
	EntityId   string
	ShopId     int
	Local      *EntityVersion
	Server     *EntityVersion
	Base       *time.Time
}

// Detect classifies a snapshot. The boolean is false when the copies do not
// actually diverge and the change can be applied directly.
func Detect(snap Snapshot) (models.ConflictType, bool) {
	if snap.Local == nil || snap.Server == nil {
		return "", false
	}

	// No shared baseline and both sides hold the id: two independent creates.
	if snap.Base == nil {
		return models.ConflictTypeCreate, true
	}

	localChanged := snap.Local.ModifiedAt.After(*snap.Base)
	serverChanged := snap.Server.ModifiedAt.After(*snap.Base)
	if !localChanged || !serverChanged {
		return "", false
	}

	if snap.Local.Deleted != snap.Server.Deleted {
		return models.ConflictTypeDelete, true
	}
	return models.ConflictTypeUpdate, true
}

// BuildConflict turns a detected divergence into the persisted record the
// resolver consumes.
func BuildConflict(businessId string, snap Snapshot, conflictType models.ConflictType, runId *uint) *models.DataConflict {
	conflict := &models.DataConflict{
		BusinessId: businessId,
		ShopId:     snap.ShopId,
		EntityType: snap.EntityType,
		EntityId:   snap.EntityId,
		Type:       conflictType,
		Outcome:    models.ResolutionPending,
		SyncRunId:  runId,
	}
	if snap.Local != nil {
		conflict.LocalJSON = snap.Local.Payload
		localAt := snap.Local.ModifiedAt
		conflict.LocalModifiedAt = &localAt
	}
	if snap.Server != nil {
		conflict.ServerJSON = snap.Server.Payload
		serverAt := snap.Server.ModifiedAt
		conflict.ServerModifiedAt = &serverAt
	}
	return conflict
}

// DetectAll classifies a batch and returns the conflicts in input order.
func DetectAll(businessId string, snaps []Snapshot, runId *uint) []*models.DataConflict {
	var conflicts []*models.DataConflict
	for _, snap := range snaps {
		conflictType, found := Detect(snap)
		if !found {
			continue
		}
		conflicts = append(conflicts, BuildConflict(businessId, snap, conflictType, runId))
	}
	return conflicts
}
