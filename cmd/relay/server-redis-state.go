package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matst80/tcprelay/internal/obs"
	"github.com/matst80/tcprelay/internal/relay"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "tcprelay:"
	activeSetKey  = keyPrefix + "active"
	totalKey      = keyPrefix + "stats:total"
	rejectedKey   = keyPrefix + "stats:rejected"
	endsKey       = keyPrefix + "stats:ends"
	redisOpBudget = 2 * time.Second
)

func sessionKey(id string) string  { return keyPrefix + "session:" + id }
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// redisStateStore implements StateStore using Redis so several relay instances
// share one view of active sessions and totals. Sessions owned by this instance
// are also kept locally; their keys are refreshed by startMaintenance.
type redisStateStore struct {
	client     *redis.Client
	mu         sync.Mutex
	local      map[string]sessionInfo
	closing    bool
	ready      bool
	instanceID string

	// maintenance configuration
	heartbeatInterval time.Duration
	redisKeyTTL       time.Duration
}

func newRedisStateStore(addr, password string, db int) (*redisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &redisStateStore{
		client:            rdb,
		local:             make(map[string]sessionInfo),
		instanceID:        fmt.Sprintf("tcprelay-%d", time.Now().UnixNano()),
		heartbeatInterval: 30 * time.Second,
		redisKeyTTL:       10 * time.Minute,
	}, nil
}

var _ StateStore = (*redisStateStore)(nil)

func (r *redisStateStore) setClosing(closing bool) { r.mu.Lock(); r.closing = closing; r.mu.Unlock() }
func (r *redisStateStore) setReady(ready bool)     { r.mu.Lock(); r.ready = ready; r.mu.Unlock() }
func (r *redisStateStore) isClosing() bool         { r.mu.Lock(); defer r.mu.Unlock(); return r.closing }
func (r *redisStateStore) isReady() bool           { r.mu.Lock(); defer r.mu.Unlock(); return r.ready }

func (r *redisStateStore) sessionStarted(info sessionInfo) error {
	r.mu.Lock()
	r.local[info.ID] = info
	r.mu.Unlock()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(info.ID), data, r.redisKeyTTL)
	pipe.Set(ctx, instanceKey(info.ID), r.instanceID, r.redisKeyTTL)
	pipe.SAdd(ctx, activeSetKey, info.ID)
	pipe.Incr(ctx, totalKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis session start failed: %w", err)
	}
	return nil
}

func (r *redisStateStore) sessionEnded(res relay.Result) {
	r.mu.Lock()
	delete(r.local, res.ID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(res.ID), instanceKey(res.ID))
	pipe.SRem(ctx, activeSetKey, res.ID)
	pipe.HIncrBy(ctx, endsKey, res.Reason.String(), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.session_end", obs.Fields{"err": err, "id": res.ID})
	}
}

func (r *redisStateStore) incrementRejected() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	if err := r.client.Incr(ctx, rejectedKey).Err(); err != nil {
		obs.Error("redis.rejected", obs.Fields{"err": err})
	}
}

// activeSessions lists every live session across instances. On Redis errors it
// falls back to the sessions owned by this instance.
func (r *redisStateStore) activeSessions() []sessionInfo {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		obs.Error("redis.active_sessions", obs.Fields{"err": err})
		return r.localSessions()
	}
	out := make(map[string]sessionInfo, len(ids))
	for _, id := range ids {
		val, err := r.client.Get(ctx, sessionKey(id)).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				obs.Error("redis.get_session", obs.Fields{"err": err, "id": id})
			}
			continue
		}
		var info sessionInfo
		if err := json.Unmarshal([]byte(val), &info); err != nil {
			obs.Error("redis.unmarshal_session", obs.Fields{"err": err, "id": id})
			continue
		}
		out[id] = info
	}
	return sortedSessions(out)
}

func (r *redisStateStore) localSessions() []sessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedSessions(r.local)
}

func (r *redisStateStore) getStats() (int, counters) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	c := counters{ends: make(map[string]int64)}
	pipe := r.client.Pipeline()
	active := pipe.SCard(ctx, activeSetKey)
	total := pipe.Get(ctx, totalKey)
	rejected := pipe.Get(ctx, rejectedKey)
	ends := pipe.HGetAll(ctx, endsKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		obs.Error("redis.stats", obs.Fields{"err": err})
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.local), c
	}
	c.total, _ = total.Int64()
	c.rejected, _ = rejected.Int64()
	for reason, v := range ends.Val() {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			c.ends[reason] = n
		}
	}
	return int(active.Val()), c
}

// startMaintenance launches periodic heartbeat + stale entry cleanup.
func (r *redisStateStore) startMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat()
			r.cleanupStale()
		}
	}
}

// heartbeat extends the key TTLs of sessions owned by this instance.
func (r *redisStateStore) heartbeat() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.local))
	for id := range r.local {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Expire(ctx, sessionKey(id), r.redisKeyTTL)
		pipe.Expire(ctx, instanceKey(id), r.redisKeyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.heartbeat", obs.Fields{"err": err, "sessions": len(ids)})
	}
}

// cleanupStale removes active-set members whose session key expired, which
// happens when an instance died without ending its sessions.
func (r *redisStateStore) cleanupStale() int {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpBudget)
	defer cancel()
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		obs.Error("redis.cleanup.members", obs.Fields{"err": err})
		return 0
	}
	removed := 0
	for _, id := range ids {
		n, err := r.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			obs.Error("redis.cleanup.exists", obs.Fields{"err": err, "id": id})
			continue
		}
		if n == 0 {
			if err := r.client.SRem(ctx, activeSetKey, id).Err(); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		obs.Info("redis.cleanup", obs.Fields{"removed": removed})
	}
	return removed
}

func (r *redisStateStore) Close() error { return r.client.Close() }
