// Package notify publishes session auth-change events to NATS so other
// processes can resynchronize.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"git.sr.ht/~jakintosh/renew/pkg/session"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the payload published for every event.
type Message struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Type          string    `json:"type"`
	Seq           uint64    `json:"seq"`
	Reason        string    `json:"reason"`
	Authenticated bool      `json:"authenticated"`
	At            time.Time `json:"at"`
}

type Forwarder struct {
	pub     Publisher
	subject string
	source  string
	logger  *slog.Logger
}

func NewForwarder(
	pub Publisher,
	subject string,
	logger *slog.Logger,
) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Forwarder{
		pub:     pub,
		subject: subject,
		source:  fmt.Sprintf("%s/%d", host, os.Getpid()),
		logger:  logger,
	}
}

// Attach forwards every event of m until the returned function is called.
func (f *Forwarder) Attach(m *session.Manager) (detach func()) {
	return m.Subscribe(f.Handle)
}

// Handle publishes one event. Failures are logged; the session is never
// affected by the bus being down.
func (f *Forwarder) Handle(event session.Event) {
	data, err := json.Marshal(Message{
		ID:            uuid.NewString(),
		Source:        f.source,
		Type:          event.Type,
		Seq:           event.Seq,
		Reason:        event.Reason,
		Authenticated: event.Authenticated,
		At:            event.At,
	})
	if err != nil {
		f.logger.Error("couldn't encode auth event", "error", err)
		return
	}

	if err := f.pub.Publish(f.subject, data); err != nil {
		f.logger.Warn("couldn't publish auth event", "subject", f.subject, "error", err)
		return
	}
	f.logger.Debug("published auth event", "subject", f.subject, "reason", event.Reason)
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("renew"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}
