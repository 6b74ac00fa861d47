package projector

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/nyan-ucsp/nan-ayeyar-sub000/internal/kafka"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/redisx"
)

const (
	OutcomeApplied   = "applied"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// StatusCache is satisfied by *redisx.OrderCache.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, e redisx.StatusEntry) (bool, error)
	Claim(ctx context.Context, service, eventID string) (bool, error)
	Release(ctx context.Context, service, eventID string) error
}

type Metrics interface {
	EventProjected(outcome string)
}

// Service keeps the Redis status cache in line with order events so every
// API replica serves the same display status. Nothing here feeds stock or
// transition decisions.
type Service struct {
	Cache       StatusCache
	Metrics     Metrics
	Log         *zap.Logger
	ServiceName string
}

// HandleEvent dipasang sebagai handler consumer untuk order.created dan
// order.status.changed. Returning an error leaves the offset uncommitted.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.log().Warn("skipping malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		s.observe(OutcomeMalformed)
		return nil
	}
	if t, ok := kafkax.Header(m, orders.HeaderEventType); ok && t != env.EventType {
		s.log().Warn("event type header mismatch", zap.String("header", t), zap.String("envelope", env.EventType))
	}

	// 2) decode payload
	var (
		orderID string
		entry   redisx.StatusEntry
	)
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return s.malformed(env, err)
		}
		orderID, entry = p.OrderID, redisx.StatusEntry{Status: p.Status, UpdatedAt: p.CreatedAt}
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return s.malformed(env, err)
		}
		orderID, entry = p.OrderID, redisx.StatusEntry{Status: p.To, UpdatedAt: p.UpdatedAt}
	default:
		s.observe(OutcomeIgnored)
		return nil
	}
	if orderID == "" || entry.Status == "" || entry.UpdatedAt.IsZero() {
		return s.malformed(env, nil)
	}

	// 3) dedup via Redis (pakai event_id)
	first, err := s.Cache.Claim(ctx, s.ServiceName, env.EventID)
	if err != nil {
		s.observe(OutcomeFailed)
		return err
	}
	if !first {
		s.observe(OutcomeDuplicate)
		return nil
	}

	// 4) apply, newest updated_at wins
	changed, err := s.Cache.SetStatus(ctx, orderID, entry)
	if err != nil {
		if rerr := s.Cache.Release(ctx, s.ServiceName, env.EventID); rerr != nil {
			s.log().Warn("dedup release failed", zap.String("event_id", env.EventID), zap.Error(rerr))
		}
		s.observe(OutcomeFailed)
		return err
	}
	outcome := OutcomeApplied
	if !changed {
		outcome = OutcomeStale
	}
	s.observe(outcome)
	s.log().Debug("status projected",
		zap.String("order_id", orderID),
		zap.String("status", entry.Status),
		zap.Time("updated_at", entry.UpdatedAt.In(time.UTC)),
		zap.String("outcome", outcome))
	return nil
}

func (s *Service) malformed(env orders.Envelope, err error) error {
	s.log().Warn("skipping malformed payload",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.Error(err))
	s.observe(OutcomeMalformed)
	return nil
}

func (s *Service) observe(outcome string) {
	if s.Metrics != nil {
		s.Metrics.EventProjected(outcome)
	}
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
