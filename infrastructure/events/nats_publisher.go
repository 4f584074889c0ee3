// Package events mirrors job progress events to a NATS subject tree.
//
// Each event is published as JSON to
//
//	<prefix>.<job_id>.<type>
//
// so subscribers can follow a single job with "<prefix>.<job_id>.>" or every
// completion with "<prefix>.*.done".
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "grading.jobs"

// NATSPublisher implements ports.EventPublisher over a core NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

var _ ports.EventPublisher = (*NATSPublisher)(nil)

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("grade-engine"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	p, err := NewNATSPublisher(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	logger.Info("connected to nats", zap.String("url", url), zap.String("prefix", p.prefix))
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close flushes but does not
// close a connection it did not open.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("%w: nats connection is required", domain.ErrInvalidConfiguration)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if strings.ContainsAny(prefix, " *>\t") {
		return nil, fmt.Errorf("%w: invalid subject prefix %q", domain.ErrInvalidConfiguration, prefix)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject ev is published to.
func (p *NATSPublisher) Subject(ev domain.Event) string {
	return p.prefix + "." + token(ev.JobID) + "." + token(string(ev.Type))
}

// Publish implements ports.EventPublisher. Failures are returned as
// *ports.PublishError.
func (p *NATSPublisher) Publish(ctx context.Context, ev domain.Event) error {
	subject := p.Subject(ev)
	if err := ctx.Err(); err != nil {
		return ports.NewPublishError(subject, err)
	}
	if !p.nc.IsConnected() && !p.nc.IsReconnecting() {
		return ports.NewPublishError(subject, ports.ErrNotConnected)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return ports.NewPublishError(subject, fmt.Errorf("marshal event: %w", err))
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return p.publishError(subject, err)
	}
	return nil
}

// publishError wraps a client error. A full reconnect buffer means the
// client is between reconnect attempts, so the retry hint is the
// connection's reconnect wait.
func (p *NATSPublisher) publishError(subject string, err error) *ports.PublishError {
	perr := ports.NewPublishError(subject, classify(err))
	if errors.Is(err, nats.ErrReconnectBufExceeded) && p.nc.Opts.ReconnectWait > 0 {
		wait := p.nc.Opts.ReconnectWait
		perr.RetryAfter = &wait
	}
	return perr
}

// classify tags transient client errors with the port error the retry
// policy understands.
func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return fmt.Errorf("%w: %w", ports.ErrNotConnected, err)
	case errors.Is(err, nats.ErrReconnectBufExceeded):
		return fmt.Errorf("%w: %w", ports.ErrServiceUnavailable, err)
	case errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	}
	return err
}

// Close flushes buffered events and closes the connection when the
// publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Warn("nats flush on close failed", zap.Error(err))
	}
	if p.owned {
		p.nc.Close()
	}
	return nil
}

// token keeps a value to one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Nop discards every event. It is used when no bus is configured.
type Nop struct{}

// Publish implements ports.EventPublisher.
func (Nop) Publish(context.Context, domain.Event) error { return nil }

// Close implements ports.EventPublisher.
func (Nop) Close() error { return nil }

var _ ports.EventPublisher = Nop{}
