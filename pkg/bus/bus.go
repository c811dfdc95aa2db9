package bus

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/nats-io/nats.go"
)

// Bus wraps a core NATS connection for publishing and consuming catalog
// events as JSON.
type Bus struct {
	conn *nats.Conn
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(subj string, v any) error {
	if b == nil || b.conn == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) Close() error {
	return s.sub.Drain()
}

// Subscribe joins the given queue group on subj and invokes fn for each
// message. Members of the same group share the subject's traffic.
func (b *Bus) Subscribe(subj, queue string, fn func(subject string, data []byte)) (io.Closer, error) {
	if b == nil || b.conn == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	}

	sub, err := b.conn.QueueSubscribe(subj, queue, handler)
	if err != nil {
		return nil, err
	}
	return &subscription{sub: sub}, nil
}
