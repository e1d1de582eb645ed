// Package coordinator runs read, apply and conditional write as one unit,
// retrying the whole pass when another writer wins the race.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/patch"
	"gihan9a/docpatch/internal/store"
)

var (
	// ErrPreconditionFailed is returned when the caller's expected version
	// does not match the stored one. It is never retried.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConcurrentModification is returned when every attempt lost its
	// conditional write to another writer.
	ErrConcurrentModification = errors.New("concurrent modification")
)

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 10 * time.Millisecond
	DefaultMaxBackoff     = 250 * time.Millisecond
)

type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// Request is one patch request against a single document.
type Request struct {
	ID              string
	Patch           patch.Patch
	ExpectedVersion *int64
}

// Result describes a committed write.
type Result struct {
	Document        *document.Document
	PreviousVersion int64
	Inverse         patch.Patch
	Attempts        int
	Changed         bool
}

// Commit is passed to commit hooks after a successful write. Previous is nil
// when the write created the document. Patch is nil for wholesale writes.
type Commit struct {
	Previous *document.Document
	Current  *document.Document
	Patch    patch.Patch
}

type CommitHook func(ctx context.Context, c Commit)

// Mutation computes the successor of current together with the patch that
// undoes it. current has version 0 and a null root when the document does
// not exist yet.
type Mutation func(current *document.Document) (next *document.Document, inverse patch.Patch, err error)

type Coordinator struct {
	store store.Store
	opts  Options
	log   *slog.Logger

	mu    sync.RWMutex
	hooks []CommitHook
}

func New(s store.Store, opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.InitialBackoff)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store: s,
		opts:  opts,
		log:   log.With("component", "coordinator"),
	}
}

// OnCommit registers a hook run after every successful write, on the
// goroutine that made the write.
func (c *Coordinator) OnCommit(h CommitHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Get returns the latest committed version of id.
func (c *Coordinator) Get(ctx context.Context, id string) (*document.Document, error) {
	return c.store.Read(ctx, id)
}

// Apply runs req.Patch against the current document. Apply-time failures
// are returned as *patch.OperationError and never retried. A missing
// document is store.ErrNotFound unless the caller expects version 0, in
// which case the patch is applied to a null root.
func (c *Coordinator) Apply(ctx context.Context, req Request) (*Result, error) {
	return c.update(ctx, req.ID, req.ExpectedVersion, func(cur *document.Document) (*document.Document, patch.Patch, error) {
		if err := requireExisting(cur, req.ExpectedVersion); err != nil {
			return nil, nil, err
		}
		return patch.ApplyWithInverse(cur, req.Patch)
	}, req.Patch)
}

// Update runs fn under the bounded retry loop. fn may be called more than
// once and must not have side effects.
func (c *Coordinator) Update(ctx context.Context, id string, expected *int64, fn Mutation) (*Result, error) {
	return c.update(ctx, id, expected, fn, nil)
}

// Put creates id or replaces its whole root.
func (c *Coordinator) Put(ctx context.Context, id string, root *document.Node, expected *int64) (*Result, error) {
	return c.update(ctx, id, expected, func(cur *document.Document) (*document.Document, patch.Patch, error) {
		return cur.Next(root), replaceRoot(cur.Root), nil
	}, nil)
}

func (c *Coordinator) update(ctx context.Context, id string, expected *int64, fn Mutation, forward patch.Patch) (*Result, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty document id", patch.ErrMalformedPatch)
	}
	log := c.log.With("id", id)
	b := c.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur, existed, err := c.read(ctx, id)
		if err != nil {
			return nil, err
		}
		if expected != nil && *expected != cur.Version {
			return nil, fmt.Errorf("%w: %q is at version %d, expected %d", ErrPreconditionFailed, id, cur.Version, *expected)
		}

		next, inverse, err := fn(cur)
		if err != nil {
			return nil, err
		}

		// Nothing may be written once the caller has gone away.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err = c.store.ConditionalWrite(ctx, id, cur.Version, next)
		if err == nil {
			res := &Result{
				Document:        next,
				PreviousVersion: cur.Version,
				Inverse:         inverse,
				Attempts:        attempt,
				Changed:         !existed || !document.Equal(cur.Root, next.Root),
			}
			commit := Commit{Current: next, Patch: forward}
			if existed {
				commit.Previous = cur
			}
			c.notify(ctx, commit)
			log.Debug("committed", "version", next.Version, "attempts", attempt)
			return res, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}

		if attempt >= c.opts.MaxAttempts {
			log.Warn("giving up after repeated conflicts", "attempts", attempt)
			return nil, fmt.Errorf("%w: %q lost %d conditional writes", ErrConcurrentModification, id, attempt)
		}
		wait := b.NextBackOff()
		log.Debug("version conflict, retrying", "attempt", attempt, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Coordinator) read(ctx context.Context, id string) (*document.Document, bool, error) {
	cur, err := c.store.Read(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &document.Document{ID: id, Root: document.Null()}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cur, true, nil
}

func (c *Coordinator) notify(ctx context.Context, commit Commit) {
	c.mu.RLock()
	hooks := c.hooks
	c.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, commit)
	}
}

func (c *Coordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// requireExisting rejects a missing document unless the caller asked for
// creation by expecting version 0.
func requireExisting(cur *document.Document, expected *int64) error {
	if cur.Version == 0 && expected == nil {
		return fmt.Errorf("%w: %q", store.ErrNotFound, cur.ID)
	}
	return nil
}

func replaceRoot(old *document.Node) patch.Patch {
	return patch.Patch{{Op: patch.Replace, Value: old}}
}
