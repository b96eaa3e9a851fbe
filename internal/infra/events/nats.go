// Package events publishes room status changes to NATS for other services.
package events

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/osa030/voicebox/internal/infra/logger"
)

// Config contains NATS connection configuration.
type Config struct {
	URL           string
	Subject       string // Base subject; messages go to <Subject>.<room>
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "voicebox.status",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Message is the envelope published for every event.
type Message struct {
	EventType string          `json:"event_type"`
	RoomID    string          `json:"room_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	NodeID    string          `json:"node_id"`
	MessageID string          `json:"message_id"` // For deduplication
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher publishes events to NATS.
type Publisher struct {
	conn    conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// Connect connects to NATS and returns a publisher.
func Connect(cfg Config) (*Publisher, error) {
	log := logger.Component("nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("voicebox"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Msgf("nats reconnected: url=%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to nats at %s", cfg.URL)
	}

	log.Info().Msgf("nats connected: url=%s subject=%s", nc.ConnectedUrl(), cfg.Subject)
	return newPublisher(nc, cfg.Subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	return &Publisher{
		conn:    c,
		subject: subject,
		nodeID:  generateNodeID(),
		logger:  logger.Component("nats"),
	}
}

// Publish sends payload as an event about roomID.
func (p *Publisher) Publish(roomID, eventType string, payload any) error {
	data, err := p.marshal(roomID, eventType, payload)
	if err != nil {
		return err
	}

	subject := p.subject + "." + roomID
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", subject)
	}
	p.logger.Debug().Msgf("event published: subject=%s type=%s", subject, eventType)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

func (p *Publisher) marshal(roomID, eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	msg := Message{
		EventType: eventType,
		RoomID:    roomID,
		Payload:   raw,
		Timestamp: time.Now(),
		NodeID:    p.nodeID,
		MessageID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal message")
	}
	return data, nil
}

// Unmarshal parses a published message.
func Unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal nats message")
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "voicebox"
	}
	return host + "-" + uuid.NewString()[:8]
}
