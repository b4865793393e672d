package sync_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/sync"
)

type fakeConflictStore struct {
	saved        []*models.DataConflict
	applied      []*models.DataConflict
	panicOnId    uint
	saveErrForId uint
	saveErr      error
}

func (s *fakeConflictStore) SaveResolution(ctx context.Context, conflict *models.DataConflict) error {
	if s.panicOnId != 0 && conflict.ID == s.panicOnId {
		panic("storage corrupted")
	}
	if s.saveErrForId != 0 && conflict.ID == s.saveErrForId {
		return s.saveErr
	}
	s.saved = append(s.saved, conflict)
	return nil
}

func (s *fakeConflictStore) ApplyLocalCopy(ctx context.Context, conflict *models.DataConflict) error {
	s.applied = append(s.applied, conflict)
	return nil
}

func at(offset time.Duration) *time.Time {
	t := base.Add(offset)
	return &t
}

func updateConflict(id uint, entityType models.EntityType, localOffset, serverOffset time.Duration) *models.DataConflict {
	return &models.DataConflict{
		ID:               id,
		BusinessId:       "biz-1",
		EntityType:       entityType,
		EntityId:         "e1",
		Type:             models.ConflictTypeUpdate,
		Outcome:          models.ResolutionPending,
		LocalModifiedAt:  at(localOffset),
		ServerModifiedAt: at(serverOffset),
	}
}

func TestResolve_AuthoritativeEntitiesAlwaysServerWins(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)
	ctx := context.Background()

	for _, entityType := range []models.EntityType{models.EntityTypeProduct, models.EntityTypeStock} {
		// Local copy is newer, and still loses.
		conflict := updateConflict(1, entityType, 2*time.Hour, time.Minute)
		outcome, err := r.Resolve(ctx, conflict)
		if err != nil {
			t.Fatalf("%s: %v", entityType, err)
		}
		if outcome != models.ResolutionServerWins {
			t.Fatalf("%s: outcome = %s, want server_wins", entityType, outcome)
		}
		if conflict.Strategy != sync.StrategyServerWins {
			t.Fatalf("%s: strategy = %s, want %s", entityType, conflict.Strategy, sync.StrategyServerWins)
		}
		if conflict.ResolvedAt == nil {
			t.Fatalf("%s: resolved conflict must carry a timestamp", entityType)
		}
	}
	if len(store.applied) != 0 {
		t.Fatal("server wins must never push the local copy")
	}
}

func TestResolve_LastWriteWinsForNonAuthoritative(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)
	ctx := context.Background()

	conflict := updateConflict(1, models.EntityTypeShop, 2*time.Hour, time.Minute)
	outcome, err := r.Resolve(ctx, conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != models.ResolutionLocalWins {
		t.Fatalf("outcome = %s, want local_wins", outcome)
	}
	if len(store.applied) != 1 {
		t.Fatal("local wins must apply the local copy to the server record")
	}
}

func TestResolve_TimestampTieGoesToServer(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)

	conflict := updateConflict(1, models.EntityTypeShop, time.Minute, time.Minute)
	outcome, err := r.Resolve(context.Background(), conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != models.ResolutionServerWins {
		t.Fatalf("tie outcome = %s, want server_wins", outcome)
	}
	if conflict.Strategy != sync.StrategyLastWriteWins {
		t.Fatalf("strategy = %s, want %s", conflict.Strategy, sync.StrategyLastWriteWins)
	}
}

func TestResolve_CreateConflictDiscardsLocal(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)

	conflict := updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute)
	conflict.Type = models.ConflictTypeCreate
	outcome, err := r.Resolve(context.Background(), conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != models.ResolutionDiscarded {
		t.Fatalf("outcome = %s, want discarded", outcome)
	}
}

func TestResolve_DeleteConflictServerDeleteWins(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)

	conflict := updateConflict(1, models.EntityTypeSale, time.Minute, time.Minute)
	conflict.Type = models.ConflictTypeDelete
	outcome, err := r.Resolve(context.Background(), conflict)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome != models.ResolutionServerWins {
		t.Fatalf("outcome = %s, want server_wins", outcome)
	}
	if conflict.Strategy != sync.StrategyServerDeleteWins {
		t.Fatalf("strategy = %s, want %s", conflict.Strategy, sync.StrategyServerDeleteWins)
	}
}

func TestResolve_IsolationAndBusinessRuleGoManual(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)

	for _, conflictType := range []models.ConflictType{models.ConflictTypeTenantIsolation, models.ConflictTypeBusinessRule} {
		conflict := updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute)
		conflict.Type = conflictType
		outcome, err := r.Resolve(context.Background(), conflict)
		if err != nil {
			t.Fatalf("%s: %v", conflictType, err)
		}
		if outcome != models.ResolutionManual {
			t.Fatalf("%s: outcome = %s, want manual", conflictType, outcome)
		}
		if conflict.ResolvedAt != nil {
			t.Fatalf("%s: manual conflicts are not resolved yet", conflictType)
		}
	}
}

func TestResolve_IsIdempotent(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)
	ctx := context.Background()

	conflict := updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute)
	if _, err := r.Resolve(ctx, conflict); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	writesAfterFirst := len(store.saved)

	outcome, err := r.Resolve(ctx, conflict)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if outcome != models.ResolutionServerWins {
		t.Fatalf("re-resolve outcome = %s, want recorded server_wins", outcome)
	}
	if len(store.saved) != writesAfterFirst {
		t.Fatal("re-resolving a settled conflict must not write")
	}
}

func TestResolveAll_ContainsPanicsToOneConflict(t *testing.T) {
	store := &fakeConflictStore{panicOnId: 2}
	r := sync.NewResolver(store)

	conflicts := []*models.DataConflict{
		updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute),
		updateConflict(2, models.EntityTypeProduct, time.Minute, time.Minute),
		updateConflict(3, models.EntityTypeProduct, time.Minute, time.Minute),
	}

	report := r.ResolveAll(context.Background(), conflicts)

	if report.Resolved != 2 {
		t.Fatalf("resolved = %d, want 2", report.Resolved)
	}
	if report.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", report.Remaining)
	}
	if len(report.Errors) != 1 || report.Errors[0].ConflictId != 2 {
		t.Fatalf("errors = %+v, want one entry for conflict 2", report.Errors)
	}
}

func TestResolveAll_ManualConflictsCountAsRemaining(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)

	isolation := updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute)
	isolation.Type = models.ConflictTypeTenantIsolation
	conflicts := []*models.DataConflict{
		isolation,
		updateConflict(2, models.EntityTypeProduct, time.Minute, time.Minute),
	}

	report := r.ResolveAll(context.Background(), conflicts)

	if report.Resolved != 1 || report.Remaining != 1 {
		t.Fatalf("report = %+v, want 1 resolved / 1 remaining", report)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("manual routing is not an error: %+v", report.Errors)
	}
}

func TestResolveManually(t *testing.T) {
	store := &fakeConflictStore{}
	r := sync.NewResolver(store)
	ctx := context.Background()

	conflict := updateConflict(1, models.EntityTypeProduct, time.Minute, time.Minute)
	conflict.Type = models.ConflictTypeTenantIsolation
	conflict.Outcome = models.ResolutionManual

	if err := r.ResolveManually(ctx, conflict, models.ResolutionPending, ""); err == nil {
		t.Fatal("pending is not a valid manual outcome")
	}
	if err := r.ResolveManually(ctx, conflict, models.ResolutionLocalWins, "reviewed by ops"); err != nil {
		t.Fatalf("manual resolve: %v", err)
	}
	if len(store.applied) != 1 {
		t.Fatal("manual local_wins must apply the local copy")
	}
	if conflict.ResolvedAt == nil || conflict.Note != "reviewed by ops" {
		t.Fatalf("resolution metadata missing: %+v", conflict)
	}

	// Already settled: a second manual decision is a no-op.
	if err := r.ResolveManually(ctx, conflict, models.ResolutionServerWins, ""); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if conflict.Outcome != models.ResolutionLocalWins {
		t.Fatalf("outcome overwritten to %s", conflict.Outcome)
	}
}
