package acp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentflow/acpctl/domain"
)

// ErrAlreadyProcessing is returned by AdvisoryLock.Acquire when another
// caller already holds the lock for the same (agent, task) pair (original
// spec §4.5: "agent already processing message send for task").
var ErrAlreadyProcessing = domain.ClientError("agent already processing message send for task")

// AdvisoryLock is the optional cross-request mutex serializing
// message/send (or its stream) per (agent, task) (original spec §4.5,
// §5 "The advisory lock... is the only cross-request mutex and is held
// for the minimum window required").
type AdvisoryLock interface {
	// Acquire makes a single attempt to take the lock for (agentID, taskID)
	// and returns a release function. It returns ErrAlreadyProcessing
	// immediately, without waiting, when the lock is held
	// (original spec §4.5: "Failure to acquire must surface as a
	// client-visible error... not an indefinite wait").
	Acquire(ctx context.Context, agentID, taskID string) (release func(context.Context), err error)
}

// NoopLock is the default AdvisoryLock: it never blocks or denies,
// matching original spec §9's "the default should be the no-lock path"
// (original spec §4.5, §9 "Advisory locking placement").
type NoopLock struct{}

// Acquire implements AdvisoryLock by granting immediately with a no-op
// release.
func (NoopLock) Acquire(context.Context, string, string) (func(context.Context), error) {
	return func(context.Context) {}, nil
}

// RedisLock implements AdvisoryLock with a Redis SETNX mutex, the opt-in
// path for environments that need strict single-writer semantics per
// (agent, task) (original spec §4.5: "an optional mutex... may be
// acquired"). Grounded on the redis/go-redis/v9 client the teacher already
// depends on for Pulse streams (features/stream/pulse/clients/pulse).
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock builds a RedisLock. ttl bounds how long a held lock
// survives a crashed holder before Redis expires the key on its own; it
// should comfortably exceed the longest expected message/send stream.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

func lockKey(agentID, taskID string) string {
	sum := sha256.Sum256([]byte(agentID + ":" + taskID))
	return "acp:lock:" + hex.EncodeToString(sum[:16])
}

// Acquire attempts a single non-blocking SETNX; the caller sees
// ErrAlreadyProcessing immediately rather than waiting, per original
// spec §4.5.
func (l *RedisLock) Acquire(ctx context.Context, agentID, taskID string) (func(context.Context), error) {
	key := lockKey(agentID, taskID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, domain.ServiceError(err, "acp: acquire advisory lock")
	}
	if !ok {
		return nil, ErrAlreadyProcessing
	}
	release := func(releaseCtx context.Context) {
		// Only release the key if it still holds our token, so a lock
		// that expired and was reacquired by someone else isn't dropped
		// out from under them.
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`)
		_ = script.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
