package server

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/estuarylab/knowledged/internal/indexer"
)

const runLockTTL = 30 * time.Minute

type indexRunner interface {
	Run(ctx context.Context) (indexer.Stats, error)
}

// RunLock serializes scheduled runs across replicas. Acquire binds the lock
// to a caller token; Release only frees the lock while that token still
// holds it, so a run that outlives the TTL cannot free a successor's lock.
type RunLock interface {
	Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, token string) error
}

// Scheduler fires indexer runs on a cron. Without a lock, mutual exclusion
// degrades to per-process.
type Scheduler struct {
	Driver indexRunner
	Cron   string
	Stop   chan struct{}
	Lock   RunLock
	Logger *log.Logger

	lastRun *time.Time
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !isDue(s.Cron, s.lastRun) {
		return
	}
	ctx := context.Background()

	if s.Lock != nil {
		token := uuid.NewString()
		ok, err := s.Lock.Acquire(ctx, token, runLockTTL)
		if err != nil {
			s.Logger.Printf("warn: run lock: %v", err)
		}
		if !ok {
			return
		}
		defer func() {
			if err := s.Lock.Release(ctx, token); err != nil {
				s.Logger.Printf("warn: release run lock: %v", err)
			}
		}()
	}

	now := time.Now()
	s.lastRun = &now
	stats, err := s.Driver.Run(ctx)
	if err != nil {
		s.Logger.Printf("scheduled run failed: %v", err)
		return
	}
	s.Logger.Printf("scheduled run done chunks=%d watermark=%s", stats.Chunks, stats.Watermark.Format(time.RFC3339))
}

type redisRunLock struct {
	rdb *redis.Client
	key string
}

// NewRedisRunLock builds a RunLock over redis SETNX with a token-checked
// release.
func NewRedisRunLock(rdb *redis.Client) RunLock {
	return &redisRunLock{rdb: rdb, key: "knowledged:indexer:lock"}
}

func (l *redisRunLock) Acquire(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, token, ttl).Result()
}

var unlockScript = redis.NewScript(
	`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

func (l *redisRunLock) Release(ctx context.Context, token string) error {
	return unlockScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
}

// isDue reports whether a run should fire now given the last run time.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
