// Package events publishes purchase notifications to downstream consumers.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// PurchaseRecorded is emitted after a purchase has been committed.
type PurchaseRecorded struct {
	EventID        uuid.UUID
	TransactionID  int64
	EmployeeCode   string
	StoreCode      string
	RegisterNumber string
	TotalAmount    int64
	ItemCount      int
	OccurredAt     time.Time
}

// Encode writes the event as a JSON object.
func (ev *PurchaseRecorded) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(ev.EventID.String())
	e.FieldStart("type")
	e.Str("purchase.recorded")
	e.FieldStart("transaction_id")
	e.Int64(ev.TransactionID)
	e.FieldStart("employee_code")
	e.Str(ev.EmployeeCode)
	e.FieldStart("store_code")
	e.Str(ev.StoreCode)
	e.FieldStart("register_number")
	e.Str(ev.RegisterNumber)
	e.FieldStart("total_amount")
	e.Int64(ev.TotalAmount)
	e.FieldStart("item_count")
	e.Int(ev.ItemCount)
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Publisher delivers purchase events.
type Publisher interface {
	PublishPurchaseRecorded(ctx context.Context, ev PurchaseRecorded) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishPurchaseRecorded(context.Context, PurchaseRecorded) error { return nil }

func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes events to a kafka topic keyed by store code so a
// store's purchases stay ordered within one partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// PublishPurchaseRecorded writes ev to kafka.
func (p *KafkaPublisher) PublishPurchaseRecorded(ctx context.Context, ev PurchaseRecorded) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	ev.Encode(e)

	// WriteMessages may retain the value until the batch flushes.
	value := append([]byte(nil), e.Bytes()...)
	msg := kafka.Message{
		Key:   []byte(ev.StoreCode),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID.String())},
			{Key: "transaction_id", Value: []byte(strconv.FormatInt(ev.TransactionID, 10))},
		},
		Time: ev.OccurredAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish purchase %d", ev.TransactionID)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
