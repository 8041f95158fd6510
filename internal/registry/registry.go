// Package registry tracks the live calls of the process.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/frontdesk/internal/call"
	"github.com/sebas/frontdesk/internal/intent"
	"github.com/sebas/frontdesk/internal/store"
)

// Registry errors
var (
	ErrNotFound  = errors.New("call not found")
	ErrDuplicate = errors.New("call already registered")
)

const (
	// DefaultMaxCallDuration ends calls that outlive every sane conversation.
	DefaultMaxCallDuration = 2 * time.Hour
	// CleanupInterval is how often overdue calls are looked for.
	CleanupInterval = 10 * time.Second
)

// Registry is a process-wide map of live calls keyed by Call-ID. Entries
// expire after the maximum call duration and expired calls are hung up.
type Registry struct {
	calls *store.TTLStore[string, *call.Call]
	ttl   time.Duration
	wg    sync.WaitGroup
}

var _ call.Registry = (*Registry)(nil)

// New creates a registry. A non-positive maxDuration uses the default.
func New(maxDuration time.Duration) *Registry {
	return newRegistry(maxDuration, CleanupInterval)
}

func newRegistry(maxDuration, interval time.Duration) *Registry {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxCallDuration
	}
	r := &Registry{ttl: maxDuration}
	r.calls = store.NewTTLStore[string, *call.Call](interval, r.onExpired)
	return r
}

func (r *Registry) onExpired(id string, c *call.Call) {
	slog.Warn("[Registry] Call exceeded maximum duration", "call_id", id, "max_duration", r.ttl)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Hangup(ctx, call.ReasonMaxDuration); err != nil && !errors.Is(err, call.ErrTerminated) {
			slog.Error("[Registry] Failed to end overdue call", "call_id", id, "error", err)
		}
	}()
}

// Add implements call.Registry.
func (r *Registry) Add(c *call.Call) error {
	if !r.calls.SetIfAbsent(c.ID(), c, r.ttl) {
		return ErrDuplicate
	}
	slog.Debug("[Registry] Call added", "call_id", c.ID(), "active", r.calls.Len())
	return nil
}

// Remove implements call.Registry.
func (r *Registry) Remove(id string) {
	if _, ok := r.calls.Delete(id); ok {
		slog.Debug("[Registry] Call removed", "call_id", id, "active", r.calls.Len())
	}
}

// Get returns the call with id.
func (r *Registry) Get(id string) (*call.Call, error) {
	c, ok := r.calls.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Info returns the snapshot of the call with id.
func (r *Registry) Info(id string) (call.Info, error) {
	c, err := r.Get(id)
	if err != nil {
		return call.Info{}, err
	}
	return c.Info(), nil
}

// List returns snapshots of all live calls, oldest first.
func (r *Registry) List() []call.Info {
	calls := r.calls.Values()
	out := make([]call.Info, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of live calls.
func (r *Registry) Count() int {
	return r.calls.Len()
}

// Transfer asks the call with id to transfer to dept.
func (r *Registry) Transfer(ctx context.Context, id string, dept intent.Department) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	return c.RequestTransfer(ctx, dept)
}

// Hangup ends the call with id.
func (r *Registry) Hangup(ctx context.Context, id string) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	return c.Hangup(ctx, call.ReasonOperatorHangup)
}

// HangupAll ends every live call and waits for their actors to exit or for
// ctx to expire.
func (r *Registry) HangupAll(ctx context.Context) error {
	calls := r.calls.Values()
	if len(calls) == 0 {
		return nil
	}
	slog.Info("[Registry] Ending live calls", "count", len(calls))
	for _, c := range calls {
		if err := c.Hangup(ctx, call.ReasonShutdown); err != nil && !errors.Is(err, call.ErrTerminated) {
			slog.Warn("[Registry] Failed to end call", "call_id", c.ID(), "error", err)
		}
	}
	for _, c := range calls {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops expiry and waits for overdue hangups in flight.
func (r *Registry) Close() {
	r.calls.Close()
	r.wg.Wait()
}
