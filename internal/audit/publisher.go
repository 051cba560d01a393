// Package audit provides best-effort external replication of kicks,
// auth failures, and successful variable writes to Redis Streams.
// It is entirely optional: the hub's protocol behavior is unaffected
// whether or not a publisher is configured or reachable.
package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const auditStream = "hub:audit"

// Event is one thing worth replicating externally.
type Event struct {
	Kind      string // "kick", "auth_failure", "persistent_set"
	ClientID  string
	Reason    string
	Variable  string
	Value     float64
	Timestamp time.Time
}

// Publisher accepts audit events. Publish never blocks the caller on
// I/O failure and never returns an error: callers fire-and-forget.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// noop is used when no audit sink is configured.
type noop struct{}

func (noop) Publish(Event) {}
func (noop) Close() error  { return nil }

// redisPublisher replicates events into a capped Redis Stream,
// adapted from the teacher's sensor/command publisher: same
// ParseURL -> NewClient -> Ping construction and the same
// XAdd/MaxLen/Approx write shape, repointed at audit events.
type redisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// New returns a Publisher for redisURL, or a no-op Publisher if
// redisURL is empty. A non-empty URL that fails to connect logs a
// warning and also falls back to a no-op — a missing audit sink must
// never prevent the hub from starting.
func New(redisURL string, logger *zap.Logger) Publisher {
	if redisURL == "" {
		return noop{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid audit redis URL, audit publishing disabled", zap.Error(err))
		return noop{}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("audit redis connection failed, audit publishing disabled", zap.Error(err))
		_ = client.Close()
		return noop{}
	}

	logger.Info("connected to audit redis stream")
	return &redisPublisher{client: client, logger: logger}
}

func (p *redisPublisher) Publish(ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: auditStream,
			MaxLen: 100000,
			Approx: true,
			Values: map[string]interface{}{
				"kind":      ev.Kind,
				"client_id": ev.ClientID,
				"reason":    ev.Reason,
				"variable":  ev.Variable,
				"value":     ev.Value,
				"timestamp": ev.Timestamp.UnixNano(),
			},
		}).Err()
		if err != nil {
			p.logger.Warn("audit publish failed", zap.Error(err))
		}
	}()
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
