package distlock

import (
	"context"
	"sync"
)

var localHeld sync.Map // key -> *LocalLock

// LocalLock implements DistLock within a single process. Locks created with
// the same key exclude each other.
type LocalLock struct {
	key string
}

// NewLocalLock creates an in-process lock for key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire takes the key if no other LocalLock holds it.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, loaded := localHeld.LoadOrStore(l.key, l)
	return !loaded, nil
}

// Release frees the key if l is the holder.
func (l *LocalLock) Release(ctx context.Context) error {
	localHeld.CompareAndDelete(l.key, l)
	return nil
}
