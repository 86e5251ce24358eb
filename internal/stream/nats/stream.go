// Package nats carries the progress stream over a NATS subject, for
// deployments where the backend worker runs in a separate process.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/stream"
)

// Stream publishes and subscribes JSON-encoded snapshots on one subject.
// NATS preserves per-publisher emission order; redeliveries and anything the
// transport reorders are corrected downstream through Status.Seq.
type Stream struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials the NATS server and returns a Stream on the given subject.
// An empty subject defaults to stream.Subject. Reconnection is handled by
// the NATS client itself; there is no additional retry layer.
func Connect(url, subject string, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = stream.Subject
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Stream{nc: nc, subject: subject, logger: logger}, nil
}

// Publish emits one snapshot on the subject.
func (s *Stream) Publish(_ context.Context, st fetch.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// Subscribe registers h on the subject. Undecodable payloads are dropped
// with a warning; the stream has no business interpreting them.
func (s *Stream) Subscribe(ctx context.Context, h stream.Handler) (func(), error) {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var st fetch.Status
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			s.logger.Warn("dropping undecodable progress payload", zap.Error(err))
			return
		}
		h(st)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", s.subject, err)
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

// Connected reports whether the underlying connection is up, so the
// listener can surface a lost subscription instead of hiding it.
func (s *Stream) Connected() bool {
	return s.nc != nil && s.nc.Status() == nats.CONNECTED
}

// Close drains and closes the connection.
func (s *Stream) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
