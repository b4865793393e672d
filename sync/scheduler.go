package sync

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
)

// Connectivity reports whether the upstream link is usable. Changes fires on
// every transition; an offline to online edge triggers an immediate flush.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// alwaysOnline is the default when no connectivity probe is injected.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool         { return true }
func (alwaysOnline) Changes() <-chan bool { return nil }

// Scheduler ticks the offline queue flush and, when auto sync is on, kicks
// off business syncs for tenants with pending data. Stop guarantees no
// callback fires afterwards.
type Scheduler struct {
	queue        *Queue
	orchestrator *Orchestrator
	conn         Connectivity
	interval     time.Duration
	logger       *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(queue *Queue, orchestrator *Orchestrator, conn Connectivity) *Scheduler {
	if conn == nil {
		conn = alwaysOnline{}
	}
	return &Scheduler{
		queue:        queue,
		orchestrator: orchestrator,
		conn:         conn,
		interval:     schedulerInterval(),
		logger:       config.GetLogger(),
	}
}

func schedulerInterval() time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SYNC_SCHEDULER_INTERVAL_SECONDS")))
	if err != nil || seconds < 1 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits until it has fully exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	changes := s.conn.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.conn.Online() {
				continue
			}
			s.tick(ctx, models.SyncTriggeredSchedule)
		case online, open := <-changes:
			if !open {
				// Probe went away; keep the ticker path alive.
				changes = nil
				continue
			}
			if online {
				s.tick(ctx, models.SyncTriggeredReconnect)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, triggeredBy string) {
	if err := s.queue.FlushAll(ctx); err != nil {
		config.LogError(s.logger, "sync", "tick", "flush queues", triggeredBy, err)
	}

	if !config.AutoSyncEnabled() {
		return
	}

	businesses, err := pendingBusinesses(ctx)
	if err != nil {
		config.LogError(s.logger, "sync", "tick", "list pending businesses", nil, err)
		return
	}
	for _, businessId := range businesses {
		businessCtx := utils.SetBusinessIdInContext(ctx, businessId)
		if _, err := s.orchestrator.SyncBusiness(businessCtx, businessId, triggeredBy); err != nil {
			config.LogError(s.logger, "sync", "tick", "auto sync business", businessId, err)
		}
	}
}

// pendingBusinesses lists tenants that still hold unsynced records.
func pendingBusinesses(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var ids []string
	err := db.WithContext(ctx).Model(&models.Product{}).
		Distinct("business_id").
		Where("sync_status = ?", models.SyncStatusPending).
		Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
