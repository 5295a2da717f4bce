package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/ivan-cavero/Ignis/internal/domain"
	"github.com/ivan-cavero/Ignis/pkg/logger"
)

// DefaultRedisKey is the key dispatchers compete for.
const DefaultRedisKey = "ignis:runlock"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a leased lock shared by dispatchers on different hosts. The lease
// is refreshed in the background at a third of its TTL.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
	logger *slog.Logger

	mu     sync.Mutex
	stop   context.CancelFunc
	done   chan struct{}
	lostCh chan struct{}
	lost   sync.Once
}

// NewRedis returns a lock on key using client.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration, log *slog.Logger) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	host, _ := os.Hostname()
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
		logger: log,
		lostCh: make(chan struct{}),
	}
}

// NewRedisFromAddr connects to addr and verifies the server is reachable.
func NewRedisFromAddr(ctx context.Context, addr, password string, db int, ttl time.Duration, log *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect run lock redis: %w", err)
	}
	return NewRedis(client, DefaultRedisKey, ttl, log), nil
}

// Token identifies this holder in the lock value.
func (r *Redis) Token() string { return r.token }

// Lost is closed when the lease could not be refreshed.
func (r *Redis) Lost() <-chan struct{} { return r.lostCh }

// Acquire claims the key with SET NX and starts the refresh loop.
func (r *Redis) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return nil
	}
	ok, err := r.client.SetNX(ctx, r.key, r.token, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		owner, _ := r.client.Get(ctx, r.key).Result()
		return fmt.Errorf("%w: %s held by %s", domain.ErrLockContention, r.key, owner)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	r.stop = cancel
	r.done = make(chan struct{})
	go r.refresh(loopCtx, r.done)
	return nil
}

func (r *Redis) refresh(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, r.ttl/3)
			n, err := refreshScript.Run(opCtx, r.client, []string{r.key}, r.token, r.ttl.Milliseconds()).Int()
			cancel()
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			if err != nil {
				r.logger.Warn("run lock refresh failed", "key", r.key, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Error("run lock lease lost", "key", r.key)
				r.lost.Do(func() { close(r.lostCh) })
				return
			}
		}
	}
}

// Release stops refreshing and deletes the key if it still holds our token.
func (r *Redis) Release() error {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

// Close releases the lock and closes the client.
func (r *Redis) Close() error {
	return errors.Join(r.Release(), r.client.Close())
}
