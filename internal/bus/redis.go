// Package bus provides the optional, nil-safe Redis pub/sub fabric used to
// fan alert events and room broadcasts across multiple server instances.
// A process with no Redis configured runs in single-instance mode: every
// method on a nil or client-less Service is a no-op, exactly like the
// room manager and event store which function correctly with one process.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/breakpointhq/breakpoint/internal/logging"
	"github.com/breakpointhq/breakpoint/internal/metrics"
)

// PubSubPayload is the envelope carried over Redis between instances.
type PubSubPayload struct {
	RoomCode string          `json:"roomCode,omitempty"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection guarded by a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to redis pub/sub", zap.String("addr", addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// roomChannel and alertChannel name the two Redis channels this service
// multiplexes: one per room for game broadcasts, one global channel for
// alert fan-out (§4.I), since alerts are not scoped to any single room.
func roomChannel(roomCode string) string { return "breakpoint:room:" + roomCode }

const alertChannel = "breakpoint:alerts"

// PublishRoom broadcasts a frame-shaped event to every other instance
// subscribed to roomCode, for cross-instance room broadcast (§4.B, §4.G).
func (s *Service) PublishRoom(ctx context.Context, roomCode, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.publish(ctx, roomChannel(roomCode), PubSubPayload{RoomCode: roomCode, Event: event}, payload, senderID)
}

// PublishAlert broadcasts an alert-store event (new/claimed/dismissed) to
// every other instance's alert fan-out task (§4.I).
func (s *Service) PublishAlert(ctx context.Context, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.publish(ctx, alertChannel, PubSubPayload{Event: event}, payload, senderID)
}

func (s *Service) publish(ctx context.Context, channel string, envelope PubSubPayload, payload any, senderID string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}
		envelope.Payload = innerBytes
		envelope.SenderID = senderID

		data, err := json.Marshal(envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: dropping publish", zap.String("channel", channel))
			return nil
		}
		logging.Error(ctx, "redis publish failed", zap.String("channel", channel), zap.Error(err))
		return err
	}
	return nil
}

// SubscribeRoom starts a background goroutine relaying messages published by
// other instances to roomCode's channel. handler runs once per message.
func (s *Service) SubscribeRoom(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribe(ctx, roomChannel(roomCode), wg, handler)
}

// SubscribeAlerts starts a background goroutine relaying alert events
// published by other instances to the global alert channel.
func (s *Service) SubscribeAlerts(ctx context.Context, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	s.subscribe(ctx, alertChannel, wg, handler)
}

func (s *Service) subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		logging.Info(ctx, "subscribed to redis channel", zap.String("channel", channel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "redis subscription channel closed", zap.String("channel", channel))
					return
				}

				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "failed to unmarshal redis message", zap.Error(err))
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis set. Used to track which instance owns
// which room code when running a multi-instance deployment.
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: skipping set add", zap.String("key", key))
			return nil
		}
		logging.Error(ctx, "redis set add failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: skipping set rem", zap.String("key", key))
			return nil
		}
		logging.Error(ctx, "redis set rem failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: returning empty set members", zap.String("key", key))
			return nil, nil
		}
		logging.Error(ctx, "redis set members failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
