package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
)

// EventPublisher publishes gateway events and buyer notifications. Webhook
// intake stays thin: the HTTP handler validates, publishes and returns, and
// the worker does the reconciliation off the topic.
type EventPublisher struct {
	pgEvents      *Producer
	notifications *Producer
}

func NewEventPublisher(pgEvents, notifications *Producer) *EventPublisher {
	return &EventPublisher{pgEvents: pgEvents, notifications: notifications}
}

// PublishPGEvent enqueues one webhook delivery, keyed by the PG correlation
// key so deliveries for the same payment stay ordered within a partition.
func (ep *EventPublisher) PublishPGEvent(ctx context.Context, event payment.PGEvent) error {
	return ep.pgEvents.PublishEvent(ctx, event.Transaction.PGKey, event)
}

// VirtualAccountNotification is the buyer-facing payload for an issued
// virtual account.
type VirtualAccountNotification struct {
	EventType     string    `json:"event_type"`
	PaymentID     int64     `json:"payment_id"`
	BuyerID       int64     `json:"buyer_id"`
	AccountNumber string    `json:"account_number"`
	Amount        int64     `json:"amount"`
	IssuedAt      time.Time `json:"issued_at"`
}

// VirtualAccountIssued publishes the deposit-instructions notification.
func (ep *EventPublisher) VirtualAccountIssued(ctx context.Context, p payment.Payment, accountNumber string) error {
	notification := VirtualAccountNotification{
		EventType:     "virtual_account.issued",
		PaymentID:     p.ID,
		BuyerID:       p.BuyerID,
		AccountNumber: accountNumber,
		Amount:        p.Amount,
		IssuedAt:      time.Now(),
	}
	key := fmt.Sprintf("buyer-%d", p.BuyerID)
	return ep.notifications.PublishEvent(ctx, key, notification)
}

// DecodePGEvent unpacks one consumed webhook message.
func DecodePGEvent(msg kafka.Message) (payment.PGEvent, error) {
	var event payment.PGEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return payment.PGEvent{}, fmt.Errorf("failed to unmarshal pg event: %w", err)
	}
	if event.Transaction.PGKey == "" {
		return payment.PGEvent{}, fmt.Errorf("pg event missing pg_key")
	}
	return event, nil
}
