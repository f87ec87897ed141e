// Package cache implements per-view TTL caching of backend query results
// with stale-on-error fallback.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/reactive"
)

// Entry is the cached result of one view. Nil Data means nothing is cached.
type Entry[T any] struct {
	Data      []T
	FetchedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the entry can be served without a remote call.
func (e Entry[T]) Fresh(now time.Time) bool {
	return e.Data != nil && now.Sub(e.FetchedAt) < e.TTL
}

// Loader runs the remote query of a view on behalf of u.
type Loader[T any] func(ctx context.Context, u model.User) ([]T, error)

// SessionSource exposes the signed-in user.
type SessionSource interface {
	CurrentUser() (model.User, bool)
}

// Option customises a View.
type Option func(*options)

type options struct {
	log      *zap.Logger
	now      func() time.Time
	onResult func(view string, err error)
}

// WithLogger sets the logger used for stale-fallback warnings.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithResultHook is called after every remote attempt with its error (nil on success).
func WithResultHook(fn func(view string, err error)) Option {
	return func(o *options) { o.onResult = fn }
}

// View caches the result of a single remote query.
type View[T any] struct {
	name string
	load Loader[T]
	sess SessionSource
	opt  options

	mu    sync.Mutex
	entry Entry[T]
	gen   uint64

	// pub orders publishes against Clear so a cleared view never shows
	// data from an older generation.
	pub sync.Mutex
	sf  singleflight.Group
	out *reactive.Container[[]T]
}

// NewView builds a View named name with the given TTL.
func NewView[T any](name string, ttl time.Duration, sess SessionSource, load Loader[T], opts ...Option) *View[T] {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &View[T]{
		name:  name,
		load:  load,
		sess:  sess,
		opt:   o,
		entry: Entry[T]{TTL: ttl},
		out:   reactive.New[[]T](nil),
	}
}

// Name returns the view name.
func (v *View[T]) Name() string { return v.name }

// Container returns the observable holding the last published data.
func (v *View[T]) Container() *reactive.Container[[]T] { return v.out }

// Snapshot returns a copy of the current entry.
func (v *View[T]) Snapshot() Entry[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entry
}

// Fetch returns the view data, from cache when fresh and force is false.
// On remote failure previously cached data is returned even if expired.
func (v *View[T]) Fetch(ctx context.Context, force bool) ([]T, error) {
	if !force {
		v.mu.Lock()
		e, gen := v.entry, v.gen
		v.mu.Unlock()
		if e.Fresh(v.opt.now()) {
			v.publish(gen, e.Data)
			return e.Data, nil
		}
	}

	u, ok := v.sess.CurrentUser()
	if !ok {
		return nil, errs.ErrAuthRequired
	}

	v.mu.Lock()
	gen := v.gen
	v.mu.Unlock()

	key := strconv.FormatUint(gen, 10) + "/" + u.ID
	// The load outlives a cancelled caller so the result still lands in cache.
	ch := v.sf.DoChan(key, func() (any, error) {
		return v.loadAndStore(context.WithoutCancel(ctx), u, gen)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if v.opt.onResult != nil {
		v.opt.onResult(v.name, res.Err)
	}
	if res.Err == nil {
		return res.Val.([]T), nil
	}

	v.mu.Lock()
	stale, cur := v.entry.Data, v.gen
	v.mu.Unlock()
	if stale != nil {
		v.opt.log.Warn("serving stale cache after fetch error",
			zap.String("view", v.name), zap.Error(res.Err))
		v.publish(cur, stale)
		return stale, nil
	}
	return nil, res.Err
}

func (v *View[T]) loadAndStore(ctx context.Context, u model.User, gen uint64) ([]T, error) {
	data, err := v.load(ctx, u)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []T{}
	}

	v.mu.Lock()
	if v.gen != gen {
		// cleared while loading; do not resurrect
		v.mu.Unlock()
		return data, nil
	}
	v.entry.Data = data
	v.entry.FetchedAt = v.opt.now()
	v.mu.Unlock()

	v.publish(gen, data)
	return data, nil
}

// publish sets the container unless the view was cleared after gen.
func (v *View[T]) publish(gen uint64, data []T) {
	v.pub.Lock()
	defer v.pub.Unlock()
	v.mu.Lock()
	cur := v.gen
	v.mu.Unlock()
	if cur != gen {
		return
	}
	v.out.Set(data)
}

// Invalidate marks the entry stale while keeping its data for fallback.
func (v *View[T]) Invalidate() {
	v.mu.Lock()
	v.entry.FetchedAt = time.Time{}
	v.mu.Unlock()
}

// Clear drops cached data and discards results of loads already in flight.
func (v *View[T]) Clear() {
	v.pub.Lock()
	defer v.pub.Unlock()
	v.mu.Lock()
	v.entry.Data = nil
	v.entry.FetchedAt = time.Time{}
	v.gen++
	v.mu.Unlock()
	v.out.Set(nil)
}
