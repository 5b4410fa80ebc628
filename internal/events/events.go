// Package events carries "something changed" notifications for a cash
// session. Payloads identify the session only; subscribers re-pull state
// instead of applying the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindMovementInserted Kind = "movement_inserted"
	KindSessionUpdated   Kind = "session_updated"
)

type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"at"`
}

// Channel is the pub/sub channel for one session.
func Channel(sessionID uuid.UUID) string {
	return "cash:session:" + sessionID.String()
}

// Publisher is called by the service after a write has committed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscription is an active feed for one session.
type Subscription interface {
	Close() error
}

// ── Redis publisher ───────────────────────────────────────────────────────────

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(e.SessionID), data).Err()
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// ── Redis feed ────────────────────────────────────────────────────────────────

// RedisFeed subscribes to session channels.
type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}

// Subscribe delivers every event for sessionID to fn, in order, from one goroutine.
// Malformed payloads are logged and skipped.
func (f *RedisFeed) Subscribe(ctx context.Context, sessionID uuid.UUID, fn func(Event)) (Subscription, error) {
	ps := f.rdb.Subscribe(ctx, Channel(sessionID))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(sessionID), err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range ch {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("events: malformed payload")
				continue
			}
			fn(e)
		}
	}()
	return sub, nil
}
