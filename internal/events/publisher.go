// Package events publishes booking lifecycle events to Kafka for
// downstream consumers (analytics, settlement). Publishing is fire and
// forget: a broker outage never blocks or fails a state transition.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Type identifies a lifecycle event.
type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingMatched   Type = "booking.matched"
	BookingExpired   Type = "booking.expired"
	BookingCancelled Type = "booking.cancelled"
	BookingCompleted Type = "booking.completed"
	DriverUnassigned Type = "booking.driver_unassigned"
)

// Event is the published payload.
type Event struct {
	Type       Type      `json:"type"`
	BookingID  string    `json:"booking_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	DriverID   string    `json:"driver_id,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher writes lifecycle events to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher. Returns nil when no brokers are
// configured; a nil Publisher silently drops events.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Publisher{writer: w}
}

// Publish emits an event, keyed by booking ID. Errors are logged, never
// propagated.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("events: marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BookingID),
		Value: data,
	}); err != nil {
		log.Printf("events: publish %s failed: %v", event.Type, err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
