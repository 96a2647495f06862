package services

import (
	"context"
	"sync"
)

// RemoteStatus is the state of the remote leg of a local mutation.
type RemoteStatus int

const (
	// RemotePending: the remote call has been scheduled and has not finished.
	RemotePending RemoteStatus = iota
	// RemoteSkipped: no remote call was made (anonymous session or no server id).
	RemoteSkipped
	// RemoteQueued: handed to a durable queue; completion is not observed here.
	RemoteQueued
	RemoteSynced
	RemoteFailed
)

func (s RemoteStatus) String() string {
	switch s {
	case RemotePending:
		return "pending"
	case RemoteSkipped:
		return "skipped"
	case RemoteQueued:
		return "queued"
	case RemoteSynced:
		return "synced"
	case RemoteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether the status will not change any more.
func (s RemoteStatus) Final() bool {
	return s != RemotePending
}

// Receipt is returned by every mutation once the local write is durable. It
// exposes the detached remote leg; callers are free to ignore it.
type Receipt struct {
	LocalID int64

	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	status RemoteStatus
	err    error
}

func newReceipt(localID int64) *Receipt {
	return &Receipt{LocalID: localID, done: make(chan struct{}), status: RemotePending}
}

func resolvedReceipt(localID int64, status RemoteStatus, err error) *Receipt {
	r := newReceipt(localID)
	r.resolve(status, err)
	return r
}

// resolve records the final remote outcome. Only the first call has effect.
func (r *Receipt) resolve(status RemoteStatus, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.status = status
		r.err = err
		r.mu.Unlock()
		close(r.done)
	})
}

// Committed is always true: a receipt only exists for a durable local write.
func (r *Receipt) Committed() bool { return r != nil }

// Done is closed when the remote leg reaches a final status.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Status returns the current remote status without blocking.
func (r *Receipt) Status() RemoteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the remote failure, if any.
func (r *Receipt) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the remote leg finishes or ctx ends. On ctx expiry it
// returns RemotePending and ctx.Err(); the remote leg keeps running.
func (r *Receipt) Wait(ctx context.Context) (RemoteStatus, error) {
	select {
	case <-r.done:
		return r.Status(), r.Err()
	case <-ctx.Done():
		return RemotePending, ctx.Err()
	}
}
