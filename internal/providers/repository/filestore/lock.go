package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"
)

const lockSuffix = ".lock"

// errLockHeld marks a sharing violation: another writer holds the advisory
// lock for the document.
var errLockHeld = errors.New("secrets document is exclusively locked")

// acquireLock takes the advisory write lock for the document, retrying on
// contention up to the configured ceiling. The returned func releases it.
func (r *FileSecretsRepository) acquireLock(ctx context.Context, path string) (func(), error) {
	lockPath := path + lockSuffix

	var handle *os.File
	err := r.withRetry(ctx, func() error {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return errLockHeld
			}
			return err
		}
		handle = file
		return nil
	})
	if err != nil {
		return nil, err
	}

	release := func() {
		_ = handle.Close()
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log.Error(err, "failed to release secrets lock", "lock", lockPath)
		}
	}
	return release, nil
}

func lockHeld(path string) bool {
	_, err := os.Stat(path + lockSuffix)
	return err == nil
}

// withRetry runs fn, retrying sharing violations on a fixed delay until the
// wall-clock ceiling is exceeded. Non-contention failures surface
// immediately.
func (r *FileSecretsRepository) withRetry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(r.retryCeiling)
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isContention(err) {
			return internalError("secrets storage operation failed", err)
		}
		if time.Now().After(deadline) {
			return contentionError("secrets storage is exclusively locked and the retry ceiling was exceeded", err)
		}

		select {
		case <-ctx.Done():
			return contentionError("secrets storage operation canceled while waiting for the lock", ctx.Err())
		case <-time.After(r.retryInterval):
		}
	}
}

func isContention(err error) bool {
	if errors.Is(err, errLockHeld) {
		return true
	}
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY)
}
