package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
)

type fakeSession struct {
	u  model.User
	ok bool
}

func (f fakeSession) CurrentUser() (model.User, bool) { return f.u, f.ok }

var signedIn = fakeSession{u: model.User{ID: "u1"}, ok: true}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type countingLoader struct {
	calls atomic.Int32
	data  []string
	err   error
}

func (l *countingLoader) load(context.Context, model.User) ([]string, error) {
	l.calls.Add(1)
	return l.data, l.err
}

func newTestView(t *testing.T, l *countingLoader, c *clock, sess SessionSource) *View[string] {
	t.Helper()
	return NewView("customers", time.Minute, sess, l.load,
		WithClock(c.now), WithLogger(zaptest.NewLogger(t)))
}

func TestFetch_FreshHitSkipsRemote(t *testing.T) {
	l := &countingLoader{data: []string{"a"}}
	c := &clock{t: time.Unix(1000, 0)}
	v := newTestView(t, l, c, signedIn)

	got, err := v.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)

	c.advance(30 * time.Second)
	got, err = v.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
	require.EqualValues(t, 1, l.calls.Load())
	require.Equal(t, []string{"a"}, v.Container().Get())
}

func TestFetch_ExpiredAndForced(t *testing.T) {
	l := &countingLoader{data: []string{"a"}}
	c := &clock{t: time.Unix(1000, 0)}
	v := newTestView(t, l, c, signedIn)

	_, _ = v.Fetch(context.Background(), false)
	c.advance(time.Minute)
	_, _ = v.Fetch(context.Background(), false)
	require.EqualValues(t, 2, l.calls.Load())

	_, _ = v.Fetch(context.Background(), true)
	require.EqualValues(t, 3, l.calls.Load())
}

func TestFetch_InvalidateForcesRemote(t *testing.T) {
	l := &countingLoader{data: []string{"a"}}
	c := &clock{t: time.Unix(1000, 0)}
	v := newTestView(t, l, c, signedIn)

	_, _ = v.Fetch(context.Background(), false)
	v.Invalidate()
	require.Equal(t, []string{"a"}, v.Snapshot().Data)
	_, _ = v.Fetch(context.Background(), false)
	require.EqualValues(t, 2, l.calls.Load())
}

func TestFetch_EmptyResultIsCached(t *testing.T) {
	l := &countingLoader{}
	c := &clock{t: time.Unix(1000, 0)}
	v := newTestView(t, l, c, signedIn)

	got, err := v.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	_, _ = v.Fetch(context.Background(), false)
	require.EqualValues(t, 1, l.calls.Load())
}

func TestFetch_StaleOnError(t *testing.T) {
	l := &countingLoader{data: []string{"a"}}
	c := &clock{t: time.Unix(1000, 0)}
	var hookErr error
	v := NewView("messages", time.Second, signedIn, l.load,
		WithClock(c.now),
		WithLogger(zaptest.NewLogger(t)),
		WithResultHook(func(_ string, err error) { hookErr = err }))

	_, err := v.Fetch(context.Background(), false)
	require.NoError(t, err)

	c.advance(time.Hour)
	l.err = &errs.UpstreamError{Status: 500}
	got, err := v.Fetch(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
	require.ErrorIs(t, hookErr, errs.ErrUpstream)
}

func TestFetch_ErrorWithoutPriorData(t *testing.T) {
	l := &countingLoader{err: &errs.NetworkError{Op: "get", Err: errors.New("refused")}}
	c := &clock{t: time.Unix(1000, 0)}
	v := newTestView(t, l, c, signedIn)

	_, err := v.Fetch(context.Background(), false)
	require.ErrorIs(t, err, errs.ErrNetwork)
}

func TestFetch_RequiresSession(t *testing.T) {
	l := &countingLoader{data: []string{"a"}}
	v := newTestView(t, l, &clock{}, fakeSession{})

	_, err := v.Fetch(context.Background(), false)
	require.ErrorIs(t, err, errs.ErrAuthRequired)
	require.Zero(t, l.calls.Load())
}

func TestFetch_ConcurrentCallsShareOneLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	load := func(context.Context, model.User) ([]string, error) {
		calls.Add(1)
		<-release
		return []string{"x"}, nil
	}
	v := NewView("users", time.Minute, signedIn, load)

	var wg sync.WaitGroup
	results := make([][]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = v.Fetch(context.Background(), false)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		require.Equal(t, []string{"x"}, r)
	}
}

func TestClear_DiscardsInFlightLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(context.Context, model.User) ([]string, error) {
		close(started)
		<-release
		return []string{"old"}, nil
	}
	v := NewView("hourLogs", time.Minute, signedIn, load)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = v.Fetch(context.Background(), false)
	}()
	<-started
	v.Clear()
	close(release)
	<-done

	require.Nil(t, v.Snapshot().Data)
	require.Nil(t, v.Container().Get())
}

func TestClear_ContainerNeverAheadOfEntry(t *testing.T) {
	l := &countingLoader{data: []string{"row"}}
	v := NewView("hourLogs", time.Minute, signedIn, l.load)

	var bad atomic.Int32
	unsub := v.Container().Subscribe(func(rows []string) {
		if rows != nil && v.Snapshot().Data == nil {
			bad.Add(1)
		}
	})
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_, _ = v.Fetch(context.Background(), true)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v.Clear()
			}
		}()
	}
	wg.Wait()
	v.Clear()

	require.Zero(t, bad.Load())
	require.Nil(t, v.Container().Get())
}

func TestFetch_CallerCancelDoesNotAbortLoad(t *testing.T) {
	release := make(chan struct{})
	loaded := make(chan struct{})
	load := func(ctx context.Context, _ model.User) ([]string, error) {
		<-release
		defer close(loaded)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []string{"late"}, nil
	}
	v := NewView("customers", time.Minute, signedIn, load)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := v.Fetch(ctx, false)
		errCh <- err
	}()
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	<-loaded
	require.Eventually(t, func() bool {
		return len(v.Snapshot().Data) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEntry_Fresh(t *testing.T) {
	now := time.Unix(100, 0)
	require.False(t, Entry[int]{TTL: time.Hour}.Fresh(now))
	require.True(t, Entry[int]{Data: []int{}, FetchedAt: now, TTL: time.Hour}.Fresh(now))
	require.False(t, Entry[int]{Data: []int{1}, FetchedAt: now.Add(-time.Hour), TTL: time.Hour}.Fresh(now))
}
