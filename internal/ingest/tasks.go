package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/log"
)

// Queue topics. Tasks are JSON payloads; delivery is at least once, so
// every handler must tolerate replays.
const (
	TopicImportDataSource = "datasource.import"
	TopicIndexDocument    = "document.index"
	TopicPurgeDataSource  = "datasource.purge"

	// TopicPoison receives tasks whose handler kept failing after retries.
	TopicPoison = "ingest.poison"
)

// ImportTask asks the worker to import one data source. For sitemap
// sources the first task fans out into one task per listed page, each
// carrying its PageURL.
type ImportTask struct {
	DataSourceID int64  `json:"data_source_id"`
	PageURL      string `json:"page_url,omitempty"`
}

// IndexTask asks the worker to chunk, embed and store one document.
type IndexTask struct {
	DocumentID int64 `json:"document_id"`
}

// PurgeTask asks the worker to remove every document a soft-deleted data
// source produced.
type PurgeTask struct {
	DataSourceID int64 `json:"data_source_id"`
}

// Queue publishes ingest tasks. API handlers enqueue through it and the
// worker both consumes from and fans out through it.
type Queue struct {
	pub    message.Publisher
	logger log.Logger
}

// NewQueue creates a Queue on top of pub.
func NewQueue(pub message.Publisher, logger log.Logger) *Queue {
	if logger == nil {
		logger = log.New(log.Config{})
	}
	return &Queue{pub: pub, logger: logger}
}

// PublishImport enqueues an import task.
func (q *Queue) PublishImport(ctx context.Context, task ImportTask) error {
	return q.publish(ctx, TopicImportDataSource, task)
}

// PublishIndex enqueues an indexing task.
func (q *Queue) PublishIndex(ctx context.Context, task IndexTask) error {
	return q.publish(ctx, TopicIndexDocument, task)
}

// PublishPurge enqueues a purge task.
func (q *Queue) PublishPurge(ctx context.Context, task PurgeTask) error {
	return q.publish(ctx, TopicPurgeDataSource, task)
}

func (q *Queue) publish(ctx context.Context, topic string, task any) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding %s task: %w", topic, err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	middleware.SetCorrelationID(uuid.NewString(), msg)

	if err := q.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publishing %s task: %w", topic, err)
	}
	q.logger.Debug("published task", "topic", topic, "payload", string(payload))
	return nil
}
