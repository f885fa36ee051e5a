// Package lock provides the cross-process job-exclusivity primitive. Each
// logical job name maps to a Redis lease: at most one holder at a time, a
// heartbeat extends the lease while the holder works, and a crash simply
// lets the lease expire so the next invocation can proceed.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when another instance holds the job lock and the
// bounded acquire wait elapsed. Callers treat this as "another instance is
// running" and exit cleanly rather than erroring.
var ErrLockHeld = errors.New("job lock held by another instance")

const (
	// DefaultLeaseTTL is how long a lease survives without renewal. A
	// crashed holder blocks other instances for at most this long.
	DefaultLeaseTTL = 60 * time.Second

	// DefaultAcquireWait bounds how long Acquire retries before giving up
	// with ErrLockHeld.
	DefaultAcquireWait = 10 * time.Second

	acquireRetryInterval = 500 * time.Millisecond
)

// releaseScript deletes the lease only if it still carries our token, so a
// holder whose lease expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Client is the Redis surface the lock service uses. *redis.Client
// satisfies it; tests substitute a fake.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Service acquires and releases named job leases.
type Service struct {
	client      Client
	leaseTTL    time.Duration
	acquireWait time.Duration
	log         zerolog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithLeaseTTL overrides the lease duration.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Service) { s.leaseTTL = ttl }
}

// WithAcquireWait overrides the bounded acquire wait.
func WithAcquireWait(wait time.Duration) Option {
	return func(s *Service) { s.acquireWait = wait }
}

// NewService creates a lock service on a Redis client.
func NewService(client Client, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		client:      client,
		leaseTTL:    DefaultLeaseTTL,
		acquireWait: DefaultAcquireWait,
		log:         log.With().Str("component", "job_lock").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle represents one held lease.
type Handle struct {
	job        string
	key        string
	token      string
	acquiredAt time.Time

	svc         *Service
	stopRenew   chan struct{}
	renewDone   chan struct{}
	releaseOnce sync.Once
}

// Job returns the job name the handle locks.
func (h *Handle) Job() string { return h.job }

// HolderID returns the unique token identifying this holder.
func (h *Handle) HolderID() string { return h.token }

// AcquiredAt returns when the lease was taken.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// Acquire takes the lease for a job name, retrying until the bounded wait
// elapses. Returns ErrLockHeld if another holder keeps the lease throughout.
func (s *Service) Acquire(ctx context.Context, job string) (*Handle, error) {
	if job == "" {
		return nil, fmt.Errorf("job name is required")
	}

	key := "stratum:joblock:" + job
	token := holderToken()
	deadline := time.Now().Add(s.acquireWait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, s.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", job, err)
		}
		if ok {
			h := &Handle{
				job:        job,
				key:        key,
				token:      token,
				acquiredAt: time.Now().UTC(),
				svc:        s,
				stopRenew:  make(chan struct{}),
				renewDone:  make(chan struct{}),
			}
			go h.renewLoop()

			s.log.Info().Str("job", job).Str("holder", token).Msg("Job lock acquired")
			return h, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

// WithLock runs fn while holding the job lease and guarantees release on
// every exit path, including panics.
func (s *Service) WithLock(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	handle, err := s.Acquire(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.Release(releaseCtx); err != nil {
			s.log.Warn().Err(err).Str("job", job).Msg("Failed to release job lock")
		}
	}()

	return fn(ctx)
}

// Release stops lease renewal and deletes the lease if this handle still
// owns it. Releasing twice is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.releaseOnce.Do(func() {
		close(h.stopRenew)
		<-h.renewDone

		_, err = releaseScript.Run(ctx, h.svc.client, []string{h.key}, h.token).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			err = fmt.Errorf("failed to release lock %s: %w", h.job, err)
			return
		}
		err = nil

		h.svc.log.Info().
			Str("job", h.job).
			Str("holder", h.token).
			Dur("held", time.Since(h.acquiredAt)).
			Msg("Job lock released")
	})
	return err
}

// renewLoop extends the lease at a third of its TTL until released. A lost
// lease (expired or taken over) stops renewal; the holder's subsequent
// Release becomes a no-op on someone else's lock thanks to the token check.
func (h *Handle) renewLoop() {
	defer close(h.renewDone)

	interval := h.svc.leaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopRenew:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			renewed, err := renewScript.Run(ctx, h.svc.client, []string{h.key},
				h.token, h.svc.leaseTTL.Milliseconds()).Int()
			cancel()

			if err != nil {
				h.svc.log.Warn().Err(err).Str("job", h.job).Msg("Lease renewal failed")
				continue
			}
			if renewed == 0 {
				h.svc.log.Error().Str("job", h.job).Str("holder", h.token).
					Msg("Lease lost; stopping renewal")
				return
			}
		}
	}
}

// holderToken builds a unique holder identity: host plus a UUID, so logs
// show where a stuck lease lives.
func holderToken() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()
}
