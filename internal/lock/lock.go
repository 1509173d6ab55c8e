// Package lock provides the per (post, platform) mutual exclusion that keeps
// attempt N+1 from starting before attempt N is recorded.
package lock

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func
	// releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func PairKey(postID int64, platform string) string {
	return fmt.Sprintf("publish:%d:%s", postID, platform)
}
