package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DialPublisher enqueues dial jobs. Jobs are keyed by campaign so one campaign always lands
// on the same partition.
type DialPublisher struct {
	writer *kafka.Writer
}

// NewDialPublisher constructs a publisher for the dial topic.
func NewDialPublisher(k *Kafka, topic string) *DialPublisher {
	return &DialPublisher{writer: k.NewWriter(topic)}
}

// EnqueueDial writes a dial job for the campaign.
func (p *DialPublisher) EnqueueDial(ctx context.Context, campaignID uuid.UUID, reason string) error {
	value, err := json.Marshal(DialJob{
		CampaignID: campaignID,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("dial publisher: marshal job: %w", err)
	}

	record := kafka.Message{
		Key:   campaignID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("dial publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *DialPublisher) Close() error {
	return p.writer.Close()
}
