package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"leadflow/config"
)

// EnrollmentLocker enforces per-enrollment single-flight: two workers must
// never process the same enrollment concurrently.
type EnrollmentLocker interface {
	TryLock(ctx context.Context, enrollmentID uint, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, enrollmentID uint) error
}

// NewLocker returns a redis-backed locker when redis is enabled, otherwise an
// in-process one (sufficient for a single worker instance).
func NewLocker(cfg config.RedisConfig) EnrollmentLocker {
	if cfg.Enabled {
		return NewRedisLocker(cfg)
	}
	return NewLocalLocker()
}

// RedisLocker claims enrollments with SET NX/TTL so multiple worker processes
// can share one sweep safely.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(cfg config.RedisConfig) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func lockKey(enrollmentID uint) string {
	return fmt.Sprintf("leadflow:enrollment-lock:%d", enrollmentID)
}

func (l *RedisLocker) TryLock(ctx context.Context, enrollmentID uint, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, lockKey(enrollmentID), 1, ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, enrollmentID uint) error {
	return l.client.Del(ctx, lockKey(enrollmentID)).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// LocalLocker is the in-process fallback when redis is disabled.
type LocalLocker struct {
	mu   sync.Mutex
	held map[uint]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[uint]time.Time)}
}

func (l *LocalLocker) TryLock(_ context.Context, enrollmentID uint, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.held[enrollmentID]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.held[enrollmentID] = time.Now().Add(ttl)
	return true, nil
}

func (l *LocalLocker) Unlock(_ context.Context, enrollmentID uint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, enrollmentID)
	return nil
}
