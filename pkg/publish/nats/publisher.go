// Package nats publishes start sequence state changes and snapshots to NATS.
package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/racestart-manager-go/log"
	"github.com/mpapenbr/racestart-manager-go/pkg/engine"
)

const (
	DefaultPrefix   = "rsm"
	subjectState    = "state"
	subjectSnapshot = "snapshot"
)

type (
	// Conn is the part of *nats.Conn used for publishing.
	Conn interface {
		Publish(subj string, data []byte) error
	}

	Publisher struct {
		conn      Conn
		prefix    string
		source    string
		snapshots bool
		l         *log.Logger
	}
	Option func(*Publisher)

	// Message is the payload of every published message.
	Message[T any] struct {
		Source string    `json:"source"`
		Sent   time.Time `json:"sent"`
		Data   T         `json:"data"`
	}
)

var _ engine.Observer = (*Publisher)(nil)

func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = prefix
	}
}

// WithSnapshots enables publishing every snapshot, not only state changes.
func WithSnapshots(enabled bool) Option {
	return func(p *Publisher) {
		p.snapshots = enabled
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.l = l
	}
}

func NewPublisher(conn Conn, opts ...Option) *Publisher {
	ret := &Publisher{
		conn:   conn,
		prefix: DefaultPrefix,
		source: uuid.New().String(),
		l:      log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// StateSubject returns the subject state changes of a race are published on.
func (p *Publisher) StateSubject(raceID int) string {
	return fmt.Sprintf("%s.%s.%d", p.prefix, subjectState, raceID)
}

func (p *Publisher) SnapshotSubject() string {
	return fmt.Sprintf("%s.%s", p.prefix, subjectSnapshot)
}

// OnSnapshot publishes the state changes of s and, if enabled, s itself.
// Errors are logged only.
func (p *Publisher) OnSnapshot(s *engine.Snapshot) {
	for i := range s.Changes {
		publish(p, p.StateSubject(s.Changes[i].RaceID), s.Changes[i], s.Now)
	}
	if p.snapshots {
		publish(p, p.SnapshotSubject(), s, s.Now)
	}
}

func publish[T any](p *Publisher, subject string, data T, sent time.Time) {
	payload, err := json.Marshal(Message[T]{Source: p.source, Sent: sent, Data: data})
	if err != nil {
		p.l.Error("could not marshal message",
			log.String("subject", subject), log.ErrorField(err))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.l.Warn("could not publish message",
			log.String("subject", subject), log.ErrorField(err))
		return
	}
	p.l.Debug("published", log.String("subject", subject), log.Int("size", len(payload)))
}

// Connect opens a NATS connection which logs connection state changes with l.
func Connect(url string, l *log.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("rsm"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			l.Warn("NATS disconnected", log.ErrorField(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("NATS reconnected", log.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			l.Error("NATS error", log.ErrorField(err))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}
