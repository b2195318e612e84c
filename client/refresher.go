package client

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const refreshKey = "access-token"

// RefreshFunc mints a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// Refresher guarantees that at most one refresh is in flight at any instant.
// Callers arriving while a refresh runs wait for, and share, its outcome. Once
// it settles the next caller starts a fresh one.
type Refresher struct {
	group   singleflight.Group
	calls   atomic.Int64
	waiting atomic.Int64
}

// Run invokes fn unless a refresh is already in flight, in which case it waits
// for that one. fn runs detached from ctx cancellation; ctx only bounds how
// long this caller waits.
func (r *Refresher) Run(ctx context.Context, fn RefreshFunc) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		r.calls.Add(1)
		return fn(detached)
	})

	r.waiting.Add(1)
	defer r.waiting.Add(-1)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Waiting returns how many callers are currently blocked in Run.
func (r *Refresher) Waiting() int64 {
	return r.waiting.Load()
}

// Calls returns how many times a refresh function has actually been invoked.
func (r *Refresher) Calls() int64 {
	return r.calls.Load()
}
