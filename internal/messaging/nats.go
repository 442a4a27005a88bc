// Package messaging publishes match lifecycle events over NATS for the
// external notification sink. Delivery to devices is out of scope; this
// service only emits the events. When NATS is not configured the publisher
// degrades to a no-op.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns emitted by the matchserver.
const (
	SubjectMatchFound   = "match.found"    // + .<user_id>
	SubjectSessionEnded = "session.ended"  // + .<user_id>
	SubjectReportFiled  = "report.filed"
)

// MatchFoundEvent notifies a user that a session has been formed for them.
type MatchFoundEvent struct {
	SessionID string `json:"session_id"`
	PartnerID string `json:"partner_id"`
	Channel   string `json:"channel"`
}

// SessionEndedEvent notifies a user that their session has ended.
type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// ReportFiledEvent signals moderation tooling that a report came in.
type ReportFiledEvent struct {
	ReporterID string `json:"reporter_id"`
	ReportedID string `json:"reported_id"`
	SessionID  string `json:"session_id,omitempty"`
	Reason     string `json:"reason"`
	Restricted bool   `json:"restricted"` // whether this report triggered a restriction
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	MatchFound(userID string, ev MatchFoundEvent) error
	SessionEnded(userID string, ev SessionEndedEvent) error
	ReportFiled(ev ReportFiledEvent) error
	Close()
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "mytrabzon-match",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSPublisher is a Publisher backed by a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS and returns a ready publisher.
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

// MatchFound publishes a match notification for one user.
func (p *NATSPublisher) MatchFound(userID string, ev MatchFoundEvent) error {
	return p.publish(SubjectMatchFound+"."+userID, ev)
}

// SessionEnded publishes a session-end notification for one user.
func (p *NATSPublisher) SessionEnded(userID string, ev SessionEndedEvent) error {
	return p.publish(SubjectSessionEnded+"."+userID, ev)
}

// ReportFiled publishes a report event for moderation tooling.
func (p *NATSPublisher) ReportFiled(ev ReportFiledEvent) error {
	return p.publish(SubjectReportFiled, ev)
}

func (p *NATSPublisher) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("nats marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("[nats] drain: %v", err)
	}
}

// NopPublisher discards all events; used when NATS is not configured.
type NopPublisher struct{}

func (NopPublisher) MatchFound(string, MatchFoundEvent) error     { return nil }
func (NopPublisher) SessionEnded(string, SessionEndedEvent) error { return nil }
func (NopPublisher) ReportFiled(ReportFiledEvent) error           { return nil }
func (NopPublisher) Close()                                       {}
