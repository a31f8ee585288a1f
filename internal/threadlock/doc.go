// Package threadlock serializes work per conversation thread.
//
//	unlock, err := locks.Lock(ctx, threadID)
//	if err != nil {
//	    return err // ctx cancelled or timed out while waiting
//	}
//	defer unlock()
//
// Different keys never block each other. The lock is process-local.
package threadlock
