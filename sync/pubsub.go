package sync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	topicName := strings.TrimSpace(os.Getenv("POS_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "pos-sync"
	}
	return topicName
}

// PublishSyncRun queues a persisted run for asynchronous execution.
func PublishSyncRun(ctx context.Context, runId uint, businessId string) error {
	payload := SyncPubSubPayload{
		RunId:      runId,
		BusinessId: businessId,
	}
	_, err := config.PublishJSON(ctx, syncTopicName(), payload)
	return err
}

// PubSubPushHandler receives push subscription deliveries. Malformed
// envelopes are acked with 204 so they never poison the subscription; only
// execution failures nack for redelivery.
func PubSubPushHandler(worker *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.BusinessId == "" {
			c.Status(204)
			return
		}

		if err := worker.ProcessRun(c.Request.Context(), payload); err != nil {
			c.Status(500)
			return
		}
		c.Status(204)
	}
}
