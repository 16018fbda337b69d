package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chesley-web/siteops/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	LockKey    = "siteops:backup:lock"
	LastRunKey = "siteops:backup:last_run"
)

// ErrLocked is returned by Acquire when another run holds the lock.
var ErrLocked = errors.New("backup lock held by another run")

// RunRecord is the outcome of one backup run.
type RunRecord struct {
	RunID       string
	Timestamp   string
	Success     bool
	Error       string
	StoredBytes int64
	FinishedAt  time.Time
}

// RunLedger serialises backup runs and remembers the last outcome.
type RunLedger interface {
	Acquire(ctx context.Context, runID string) error
	Release(ctx context.Context, runID string) error
	Record(ctx context.Context, rec RunRecord) error
	Close() error
}

// NewRunLedger connects to Redis when locking is enabled, otherwise it
// returns a ledger that does nothing.
func NewRunLedger(ctx context.Context, cfg config.LockConfig) (RunLedger, error) {
	if !cfg.Enabled {
		return NopLedger{}, nil
	}
	client, err := newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisLedger(client, lockTTL(cfg)), nil
}

type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLedger) Acquire(ctx context.Context, runID string) error {
	ok, err := l.client.SetNX(ctx, LockKey, runID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis lock failed: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, LockKey).Result()
		return fmt.Errorf("%w (run %s)", ErrLocked, holder)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, runID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{LockKey}, runID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis unlock failed: %w", err)
	}
	return nil
}

func (l *RedisLedger) Record(ctx context.Context, rec RunRecord) error {
	status := "failed"
	if rec.Success {
		status = "success"
	}
	err := l.client.HSet(ctx, LastRunKey, map[string]interface{}{
		"run_id":       rec.RunID,
		"timestamp":    rec.Timestamp,
		"status":       status,
		"error":        rec.Error,
		"stored_bytes": strconv.FormatInt(rec.StoredBytes, 10),
		"finished_at":  rec.FinishedAt.UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis record failed: %w", err)
	}
	return nil
}

// LastRun reads the record written by Record. ok is false when none exists.
func (l *RedisLedger) LastRun(ctx context.Context) (rec RunRecord, ok bool, err error) {
	vals, err := l.client.HGetAll(ctx, LastRunKey).Result()
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("redis read failed: %w", err)
	}
	if len(vals) == 0 {
		return RunRecord{}, false, nil
	}
	rec = RunRecord{
		RunID:     vals["run_id"],
		Timestamp: vals["timestamp"],
		Success:   vals["status"] == "success",
		Error:     vals["error"],
	}
	rec.StoredBytes, _ = strconv.ParseInt(vals["stored_bytes"], 10, 64)
	rec.FinishedAt, _ = time.Parse(time.RFC3339, vals["finished_at"])
	return rec, true, nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

type NopLedger struct{}

func (NopLedger) Acquire(context.Context, string) error { return nil }
func (NopLedger) Release(context.Context, string) error { return nil }
func (NopLedger) Record(context.Context, RunRecord) error { return nil }
func (NopLedger) Close() error { return nil }

var (
	_ RunLedger = (*RedisLedger)(nil)
	_ RunLedger = NopLedger{}
)
