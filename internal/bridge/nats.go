package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject used when none is configured.
const DefaultSubject = "relaychat.broadcast"

const flushTimeout = 2 * time.Second

// NATS is a Relay backed by core NATS publish/subscribe.
type NATS struct {
	nc      *nats.Conn
	subject string
	origin  string
	logger  *slog.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

var _ Relay = (*NATS)(nil)

// Connect dials the NATS server at url. Broadcasts travel on subject.
func Connect(url, subject string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}

	origin := uuid.NewString()
	logger = logger.With("component", "bridge", "instance", origin)

	nc, err := nats.Connect(url,
		nats.Name("relaychat-"+origin),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
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
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("nats relay connected", "url", url, "subject", subject)
	return &NATS{
		nc:      nc,
		subject: subject,
		origin:  origin,
		logger:  logger,
	}, nil
}

// Origin returns this instance's identifier as carried in published events.
func (n *NATS) Origin() string {
	return n.origin
}

// Publish sends the broadcast to every peer subscribed on the subject.
func (n *NATS) Publish(room, sender, text string) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(Event{
		Origin: n.origin,
		Room:   room,
		Sender: sender,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe registers fn for events from other instances. Malformed
// payloads are logged and dropped.
func (n *NATS) Subscribe(fn func(Event)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}

	sub, err := n.nc.Subscribe(n.subject, func(m *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			n.logger.Warn("dropping malformed relay event", "error", err)
			return
		}
		if ev.Origin == n.origin {
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.subject, err)
	}
	n.subs = append(n.subs, sub)

	if err := n.nc.FlushTimeout(flushTimeout); err != nil {
		n.logger.Warn("nats flush after subscribe failed", "error", err)
	}
	return nil
}

// Close unsubscribes and closes the connection. It is safe to call more
// than once.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	n.nc.Close()
	n.logger.Info("nats relay closed")
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (n *NATS) IsConnected() bool {
	return n.nc != nil && n.nc.IsConnected()
}
