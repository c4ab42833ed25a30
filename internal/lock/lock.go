package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"

	apperrors "kyc-backup/internal/errors"
)

const (
	namePrefix = "kyc-restore-"
	maxNameLen = 40
	retryDelay = 250 * time.Millisecond
)

// Releaser releases a held lock
type Releaser interface {
	Release()
}

// Name returns the machine-wide mutex name for restores into database
func Name(database string) string {
	var b strings.Builder
	b.WriteString(namePrefix)
	for _, r := range database {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	name := b.String()
	if len(name) <= maxNameLen && name == namePrefix+database {
		return name
	}

	// lossy or long names get a hash suffix so distinct databases never share a lock
	sum := sha256.Sum256([]byte(database))
	suffix := hex.EncodeToString(sum[:])[:8]
	if keep := maxNameLen - len(suffix) - 1; len(name) > keep {
		name = name[:keep]
	}
	return name + "-" + suffix
}

// Acquire blocks until the restore lock for database is held, timeout
// elapses, or ctx is done. A zero timeout waits indefinitely.
func Acquire(ctx context.Context, database string, timeout time.Duration) (Releaser, error) {
	cancel := make(chan struct{})
	stop := context.AfterFunc(ctx, func() { close(cancel) })
	defer stop()

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    Name(database),
		Clock:   clock.WallClock,
		Delay:   retryDelay,
		Timeout: timeout,
		Cancel:  cancel,
	})
	switch {
	case err == nil:
		return releaser, nil
	case errors.Is(err, mutex.ErrCancelled):
		return nil, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "cancelled while waiting for the restore lock", ctx.Err())
	case errors.Is(err, mutex.ErrTimeout):
		return nil, apperrors.NewAppError(apperrors.ErrorTypeTimeout,
			fmt.Sprintf("another restore into %s is running", database), err).
			WithContext("lock", Name(database))
	default:
		return nil, apperrors.NewAppError(apperrors.ErrorTypeUnknown, "failed to acquire the restore lock", err)
	}
}
