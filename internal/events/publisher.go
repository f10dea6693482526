// Package events publishes POI write events to Kafka. Publishing never
// blocks the request path: a full queue drops the event.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

type Event struct {
	Op  string    `json:"op"`
	ID  string    `json:"id"`
	Lat float64   `json:"lat,omitempty"`
	Lon float64   `json:"lon,omitempty"`
	TS  time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	log     *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, log), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	p := &Publisher{
		topic:   topic,
		log:     log,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("events: marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.ID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues the event. A nil publisher or full queue drops it.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
