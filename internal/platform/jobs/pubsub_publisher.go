package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/maplewick/api/internal/services"
)

// PubSubReconcilePublisher publishes bulk image reconciliation jobs to a Pub/Sub topic.
type PubSubReconcilePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReconcilePublisher constructs a Pub/Sub backed reconcile job publisher.
func NewPubSubReconcilePublisher(topic *pubsub.Topic) (*PubSubReconcilePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reconcile publisher: topic is required")
	}
	return &PubSubReconcilePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReconcileJob enqueues a reconcile job message on the configured topic.
func (p *PubSubReconcilePublisher) PublishReconcileJob(ctx context.Context, message services.ReconcileJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reconcile publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reconcile job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "requestedBy", message.RequestedBy)
	if len(message.SKUs) > 0 {
		attrs["skuCount"] = strconv.Itoa(len(message.SKUs))
	}
	if message.DryRun {
		attrs["dryRun"] = "true"
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconcile job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
