// Package eventlog forwards bucket ownership-change events to an
// optional Kafka topic. spec.md §1 mentions a separate "logging-node
// role" that the original implementation does not implement;
// OpenCluster implements it as an optional sink instead, wired behind
// a channel so a node with no `-eventlog-brokers` address configured simply
// never starts the producer.
package eventlog

import (
	"encoding/json"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/opencluster/opencluster/internal/logger"
)

// OwnershipEvent is one hashmask update, the same (mask, idx, level,
// name) tuple broadcast over the wire (spec.md §4.1).
type OwnershipEvent struct {
	Mask  uint64 `json:"mask"`
	Index uint64 `json:"idx"`
	Level int    `json:"level"`
	Node  string `json:"node"`
}

// Sink forwards OwnershipEvents to a Kafka topic, grounded on the
// teacher's kafka/producer/producer.go request/response-free
// fire-and-forget AsyncProducer pattern.
type Sink struct {
	topic    string
	events   chan OwnershipEvent
	producer sarama.AsyncProducer
	log      logger.Logger
	done     chan struct{}
	wg       sync.WaitGroup
}

// New connects to the given Kafka brokers and returns a Sink ready to
// Start(). addresses must be non-empty; callers with no Kafka address
// configured should simply not construct a Sink.
func New(addresses []string, topic string, log logger.Logger) (*Sink, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true

	p, err := sarama.NewAsyncProducer(addresses, cfg)
	if err != nil {
		return nil, err
	}
	return &Sink{
		topic:    topic,
		events:   make(chan OwnershipEvent, 256),
		producer: p,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

// Start begins draining the event channel into Kafka. Non-blocking.
func (s *Sink) Start() {
	s.wg.Add(2)
	go s.handleSuccesses()
	go s.handleErrors()
	go func() {
		defer s.wg.Done()
		for {
			select {
			case ev, ok := <-s.events:
				if !ok {
					return
				}
				s.produce(ev)
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Sink) produce(ev OwnershipEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Errorf("eventlog: marshal: %s", err)
		return
	}
	s.producer.Input() <- &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(data),
	}
}

func (s *Sink) handleSuccesses() {
	defer s.wg.Done()
	for range s.producer.Successes() {
	}
}

func (s *Sink) handleErrors() {
	defer s.wg.Done()
	for err := range s.producer.Errors() {
		s.log.Errorf("eventlog: produce failed: %s", err)
	}
}

// Publish enqueues an ownership-change event. It never blocks the
// event loop: a full buffer drops the event and logs it, since a
// missed event log entry must never stall bucket-table mutation.
func (s *Sink) Publish(ev OwnershipEvent) {
	select {
	case s.events <- ev:
	default:
		s.log.Errorf("eventlog: buffer full, dropping event for bucket %d", ev.Index)
	}
}

// Stop drains and closes the producer.
func (s *Sink) Stop() {
	close(s.done)
	close(s.events)
	s.wg.Wait()
	s.producer.Close()
}
