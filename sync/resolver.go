package sync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"github.com/sirupsen/logrus"
)

const (
	StrategyServerWins       = "server-wins"
	StrategyLastWriteWins    = "last-write-wins"
	StrategyServerDeleteWins = "server-delete-wins"
	StrategyServerCreateWins = "server-create-wins"
	StrategyManual           = "manual"
)

// ConflictStore persists resolution outcomes and applies a winning local copy
// back onto the server entity.
type ConflictStore interface {
	SaveResolution(ctx context.Context, conflict *models.DataConflict) error
	ApplyLocalCopy(ctx context.Context, conflict *models.DataConflict) error
}

// Resolver applies the deterministic resolution policy. It never merges
// field-by-field; every conflict ends in one whole copy winning or in the
// manual queue.
type Resolver struct {
	store  ConflictStore
	logger *logrus.Logger
}

func NewResolver(store ConflictStore) *Resolver {
	return &Resolver{store: store, logger: config.GetLogger()}
}

// authoritative reports whether the server owns the truth for this entity
// kind regardless of timestamps. Product prices and stock quantities never
// lose to a device copy.
func authoritative(entityType models.EntityType) bool {
	return entityType == models.EntityTypeProduct || entityType == models.EntityTypeStock
}

// decide picks the outcome and strategy without touching storage.
func decide(conflict *models.DataConflict) (models.ResolutionOutcome, string) {
	switch conflict.Type {
	case models.ConflictTypeBusinessRule, models.ConflictTypeTenantIsolation:
		return models.ResolutionManual, StrategyManual
	case models.ConflictTypeDelete:
		return models.ResolutionServerWins, StrategyServerDeleteWins
	case models.ConflictTypeCreate:
		return models.ResolutionDiscarded, StrategyServerCreateWins
	case models.ConflictTypeUpdate:
		if authoritative(conflict.EntityType) {
			return models.ResolutionServerWins, StrategyServerWins
		}
		if conflict.LocalModifiedAt != nil && conflict.ServerModifiedAt != nil &&
			conflict.LocalModifiedAt.After(*conflict.ServerModifiedAt) {
			return models.ResolutionLocalWins, StrategyLastWriteWins
		}
		// Server wins timestamp ties.
		return models.ResolutionServerWins, StrategyLastWriteWins
	default:
		return models.ResolutionManual, StrategyManual
	}
}

// Resolve settles one conflict. Re-resolving an already settled conflict
// returns the recorded outcome without writing anything.
func (r *Resolver) Resolve(ctx context.Context, conflict *models.DataConflict) (models.ResolutionOutcome, error) {
	if conflict.IsResolved() {
		return conflict.Outcome, nil
	}

	outcome, strategy := decide(conflict)

	if outcome == models.ResolutionLocalWins {
		if err := r.store.ApplyLocalCopy(ctx, conflict); err != nil {
			return models.ResolutionPending, err
		}
	}

	now := time.Now().UTC()
	conflict.Outcome = outcome
	conflict.Strategy = strategy
	if outcome != models.ResolutionManual {
		conflict.ResolvedAt = &now
	}
	if err := r.store.SaveResolution(ctx, conflict); err != nil {
		return models.ResolutionPending, err
	}
	return outcome, nil
}

// ResolveAll settles a batch sequentially in input order so the audit trail
// is deterministic. A panic or error in one resolution is contained to that
// conflict; the batch keeps going.
func (r *Resolver) ResolveAll(ctx context.Context, conflicts []*models.DataConflict) ResolveReport {
	report := ResolveReport{}
	for _, conflict := range conflicts {
		outcome, err := r.resolveOne(ctx, conflict)
		if err != nil {
			report.Remaining++
			report.Errors = append(report.Errors, ResolveError{
				ConflictId: conflict.ID,
				Message:    err.Error(),
			})
			config.LogError(r.logger, "sync", "ResolveAll", "resolve conflict", conflict.ID, err)
			continue
		}
		if outcome == models.ResolutionManual || outcome == models.ResolutionPending {
			report.Remaining++
			continue
		}
		report.Resolved++
	}
	return report
}

func (r *Resolver) resolveOne(ctx context.Context, conflict *models.DataConflict) (outcome models.ResolutionOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = models.ResolutionPending
			err = fmt.Errorf("resolution panic: %v", rec)
		}
	}()
	return r.Resolve(ctx, conflict)
}

// ResolveManually settles a conflict from the adjudication queue with an
// operator-chosen outcome.
func (r *Resolver) ResolveManually(ctx context.Context, conflict *models.DataConflict, outcome models.ResolutionOutcome, note string) error {
	if conflict.Outcome != models.ResolutionPending && conflict.Outcome != models.ResolutionManual {
		return nil
	}
	if outcome != models.ResolutionServerWins && outcome != models.ResolutionLocalWins && outcome != models.ResolutionDiscarded {
		return fmt.Errorf("invalid manual outcome: %s", outcome)
	}

	if outcome == models.ResolutionLocalWins {
		if err := r.store.ApplyLocalCopy(ctx, conflict); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	conflict.Outcome = outcome
	conflict.Strategy = StrategyManual
	conflict.ResolvedAt = &now
	conflict.Note = note
	return r.store.SaveResolution(ctx, conflict)
}
