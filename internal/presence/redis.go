// Package presence mirrors per-user online status into Redis so sibling
// services (and other instances) can answer "is this user online" without
// touching the realtime registry. Strictly best effort: the broadcast path
// never waits on it.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Mirror is the seam the dispatcher talks to. A nil Mirror disables
// mirroring entirely.
type Mirror interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

type status struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

// RedisMirror writes presence keys of the form <prefix>:presence:<userID>.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger
}

func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration, log *zap.SugaredLogger) *RedisMirror {
	if prefix == "" {
		prefix = "ws"
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (m *RedisMirror) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

func (m *RedisMirror) set(ctx context.Context, userID, state string, ttl time.Duration) error {
	b, _ := json.Marshal(status{Status: state, LastSeen: time.Now().Unix()})
	if err := m.client.Set(ctx, m.key(userID), b, ttl).Err(); err != nil {
		m.log.Warnw("presence mirror write failed", "userId", userID, "status", state, "error", err)
		return err
	}
	return nil
}

func (m *RedisMirror) MarkOnline(ctx context.Context, userID string) error {
	return m.set(ctx, userID, "online", m.ttl)
}

func (m *RedisMirror) MarkOffline(ctx context.Context, userID string) error {
	return m.set(ctx, userID, "offline", 0)
}
