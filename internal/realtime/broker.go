// Package realtime fans recipient status changes out to live observers over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acme/voice-campaign-core/internal/domain"
)

// Change is the payload published for every applied recipient status change.
type Change struct {
	CampaignID  uuid.UUID              `json:"campaign_id"`
	RecipientID uuid.UUID              `json:"recipient_id"`
	From        domain.RecipientStatus `json:"from"`
	To          domain.RecipientStatus `json:"to"`
	At          time.Time              `json:"at"`
}

// Channel is the pub/sub channel for one campaign.
func Channel(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:%s:recipients", campaignID)
}

// Broker publishes and subscribes to per-campaign change channels.
type Broker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBroker constructs a broker on an existing client.
func NewBroker(client *redis.Client, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{client: client, logger: logger}
}

// Publish announces a change. Delivery is best effort.
func (b *Broker) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("realtime: marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(change.CampaignID), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Subscribe returns the time of every change published for the campaign until ctx ends.
func (b *Broker) Subscribe(ctx context.Context, campaignID uuid.UUID) (<-chan time.Time, error) {
	sub := b.client.Subscribe(ctx, Channel(campaignID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("realtime: subscribe: %w", err)
	}

	out := make(chan time.Time, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					b.logger.Warn("realtime: malformed change", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- change.At:
				default:
					// a pending tick already triggers a refresh
				}
			}
		}
	}()
	return out, nil
}
