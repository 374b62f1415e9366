package mongostore

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/agentflow/acpctl/domain"
)

// retryBase, retryMax and jitterMax implement the backoff schedule from
// original spec §4.2: delay = base * 2^attempt, plus jitter uniform in
// [0, jitterMax), for up to retryMax retries (retryMax+1 total attempts).
const (
	retryBase  = 100 * time.Millisecond
	retryMax   = 3
	jitterMax  = 100 * time.Millisecond
)

// withRetry runs op, retrying on transient errors per the backoff schedule.
// It returns the raw, untranslated error from the last attempt so callers
// can still map duplicate-key and not-found errors to their proper Kind;
// only a context cancellation during backoff is wrapped here. Only C2 (the
// Mongo repository) retries; C4's dual-backend wrapper treats whatever
// withRetry ultimately returns as final.
func withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) || attempt == retryMax {
			return lastErr
		}
		delay := time.Duration(float64(retryBase) * math.Pow(2, float64(attempt)))
		delay += time.Duration(rand.Int63n(int64(jitterMax)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ServiceError(ctx.Err(), "mongostore: context canceled during retry backoff")
		}
	}
	return lastErr
}

// isTransient reports whether err is worth retrying: network errors and
// context deadline exceeded on the dialer. NotFound, duplicate-key and
// validation errors are never transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongodriver.IsDuplicateKeyError(err) || errors.Is(err, mongodriver.ErrNoDocuments) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
