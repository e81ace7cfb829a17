package natsbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	QueueSize     int
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "racetimer.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		QueueSize:     256,
	}
}

// Envelope is the wire format of a fanned-out timer event
type Envelope struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	InstanceID string          `json:"instanceId"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher fans timer events out over core NATS. Ticks are frequent and
// superseded by the next one, so there is no JetStream persistence and a
// failed publish is logged and dropped. Publish only queues; a worker
// goroutine owns the socket writes.
type Publisher struct {
	nc         *nats.Conn
	config     Config
	instanceID string

	send  func(*nats.Msg) error
	queue chan racetimer.Event
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

func newPublisher(cfg Config, instanceID string, send func(*nats.Msg) error) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	p := &Publisher{
		config:     cfg,
		instanceID: instanceID,
		send:       send,
		queue:      make(chan racetimer.Event, cfg.QueueSize),
		stop:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func NewPublisher(cfg Config, instanceID string) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("racetimer-" + instanceID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("NATS publisher connected")

	p := newPublisher(cfg, instanceID, nc.PublishMsg)
	p.nc = nc
	return p, nil
}

// Publish implements racetimer.Publisher. It never blocks the ticker: when
// the queue is full the event is dropped.
func (p *Publisher) Publish(event racetimer.Event) {
	select {
	case p.queue <- event:
	default:
		log.Warn().Str("event_id", event.ID).Msg("NATS queue full, dropping timer event")
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case event := <-p.queue:
			p.publish(event)
		}
	}
}

func (p *Publisher) publish(event racetimer.Event) {
	msg, err := BuildMessage(p.config.SubjectPrefix, p.instanceID, event)
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to build NATS message")
		return
	}

	if err := p.send(msg); err != nil {
		log.Warn().
			Err(err).
			Str("subject", msg.Subject).
			Str("event_id", event.ID).
			Msg("dropping timer event, NATS publish failed")
	}
}

// Close stops the worker and drains the connection. Events still queued are
// dropped.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()

		if p.nc == nil {
			return
		}
		if err := p.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed, closing")
			p.nc.Close()
		}
	})
}

// Subject returns the subject an event type is published on
func Subject(prefix string, eventType racetimer.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, eventType)
}

// BuildMessage wraps an event in the JSON envelope with routing headers.
// Update events carry the snapshot as payload, fault events carry {"error": ...}.
func BuildMessage(prefix, instanceID string, event racetimer.Event) (*nats.Msg, error) {
	var (
		payload []byte
		err     error
	)
	if event.Snapshot != nil {
		payload, err = json.Marshal(event.Snapshot)
	} else {
		payload, err = json.Marshal(map[string]string{"error": event.Error})
	}
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	data, err := json.Marshal(Envelope{
		EventID:    event.ID,
		EventType:  string(event.Type),
		InstanceID: instanceID,
		Timestamp:  event.Timestamp.UTC(),
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &nats.Msg{
		Subject: Subject(prefix, event.Type),
		Data:    data,
		Header: nats.Header{
			"Event-Type":  []string{string(event.Type)},
			"Event-ID":    []string{event.ID},
			"Instance-ID": []string{instanceID},
		},
	}, nil
}
