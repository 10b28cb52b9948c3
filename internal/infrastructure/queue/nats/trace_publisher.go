package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/finbotics/business-assistant/internal/core/domain"
	"github.com/finbotics/business-assistant/internal/core/ports"
	"github.com/finbotics/business-assistant/internal/infrastructure/resilience"
)

// TracePublisher decorates a durable trace sink with a NATS fan-out so
// downstream consumers (audit, analytics) see traces as they happen. The
// database write is authoritative; a failed publish never fails the turn.
type TracePublisher struct {
	inner   ports.TraceSink
	conn    *nats.Conn
	subject string
	runner  *resilience.Runner
	logger  *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	Runner               *resilience.Runner
	Logger               *slog.Logger
}

func NewTracePublisher(url, subject string, inner ports.TraceSink, options Options) (*TracePublisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("business-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &TracePublisher{
		inner:   inner,
		conn:    conn,
		subject: subject,
		runner:  options.Runner,
		logger:  logger,
	}, nil
}

func (p *TracePublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *TracePublisher) Record(ctx context.Context, trace *domain.ExecutionTrace) error {
	if err := p.inner.Record(ctx, trace); err != nil {
		return err
	}

	payload, err := json.Marshal(trace)
	if err != nil {
		p.logger.Error("trace_marshal_failed", "trace_id", trace.TraceID, "error", err)
		return nil
	}

	publish := func(context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.runner != nil {
		err = p.runner.Do(ctx, "nats_publish", publish, classifyNATSError)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		p.logger.Warn("trace_publish_failed", "trace_id", trace.TraceID, "error", err)
	}
	return nil
}

func (p *TracePublisher) LatestActionTrace(ctx context.Context, userID string, action domain.Action) (*domain.ExecutionTrace, error) {
	return p.inner.LatestActionTrace(ctx, userID, action)
}

func classifyNATSError(err error) resilience.Verdict {
	if err == nil {
		return resilience.Verdict{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrConnectionDraining) {
		return resilience.Verdict{Retryable: false, RecordFailure: true}
	}
	return resilience.Verdict{Retryable: true, RecordFailure: true}
}
