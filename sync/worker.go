package sync

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
)

// Worker consumes queued sync runs delivered over pubsub and executes them.
type Worker struct {
	orchestrator *Orchestrator
	logger       *logrus.Logger
}

func NewWorker(orchestrator *Orchestrator) *Worker {
	return &Worker{orchestrator: orchestrator, logger: config.GetLogger()}
}

// ProcessRun picks up one queued run. Runs already in a terminal state are
// acked without work so redelivered messages stay harmless.
func (w *Worker) ProcessRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 || payload.BusinessId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetBusinessIdInContext(ctx, payload.BusinessId)

	run, err := models.GetSyncRun(ctx, payload.BusinessId, payload.RunId)
	if err != nil {
		return err
	}
	if run.Status == models.SyncRunStatusSuccess ||
		run.Status == models.SyncRunStatusFailed ||
		run.Status == models.SyncRunStatusPartial {
		return nil
	}

	if _, err := w.orchestrator.ExecuteRun(ctx, run); err != nil {
		config.LogError(w.logger, "sync", "ProcessRun", "execute run", payload.RunId, err)
		return err
	}
	return nil
}
