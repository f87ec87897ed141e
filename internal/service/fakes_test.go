package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/reactive"
	"github.com/and161185/timesync/internal/repository"
)

type listCall struct {
	Collection string
	Query      repository.ListQuery
}

// fakeRecords serves canned JSON per collection and records calls.
type fakeRecords struct {
	mu      sync.Mutex
	lists   map[string][]any
	listErr map[string]error
	one     map[string]any
	oneErr  error
	mutErr  error

	listCalls []listCall
	created   []any
	updated   map[string]any
	deleted   []string
	getOnes   atomic.Int32
	gate      chan struct{} // when set, GetFullList blocks until closed
}

var _ repository.CollectionRepository = (*fakeRecords)(nil)

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		lists:   map[string][]any{},
		listErr: map[string]error{},
		one:     map[string]any{},
		updated: map[string]any{},
	}
}

func (f *fakeRecords) setList(coll string, items ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[coll] = items
}

func (f *fakeRecords) setListErr(coll string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr[coll] = err
}

func (f *fakeRecords) callsFor(coll string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.listCalls {
		if c.Collection == coll {
			n++
		}
	}
	return n
}

func (f *fakeRecords) lastQuery(coll string) repository.ListQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.listCalls) - 1; i >= 0; i-- {
		if f.listCalls[i].Collection == coll {
			return f.listCalls[i].Query
		}
	}
	return repository.ListQuery{}
}

func (f *fakeRecords) GetFullList(_ context.Context, coll string, q repository.ListQuery) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, listCall{coll, q})
	gate := f.gate
	items, err := f.lists[coll], f.listErr[coll]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, _ := json.Marshal(it)
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeRecords) GetOne(_ context.Context, coll, id string, _ repository.ListQuery) (json.RawMessage, error) {
	f.getOnes.Add(1)
	if f.oneErr != nil {
		return nil, f.oneErr
	}
	f.mu.Lock()
	v, ok := f.one[coll+"/"+id]
	f.mu.Unlock()
	if !ok {
		return nil, &errs.UpstreamError{Status: 404}
	}
	return json.Marshal(v)
}

func (f *fakeRecords) Create(_ context.Context, coll string, body any, _ repository.ListQuery) (json.RawMessage, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	f.mu.Lock()
	f.created = append(f.created, body)
	f.mu.Unlock()
	var m map[string]any
	b, _ := json.Marshal(body)
	_ = json.Unmarshal(b, &m)
	m["id"] = coll + "-new"
	return json.Marshal(m)
}

func (f *fakeRecords) Update(_ context.Context, coll, id string, body any, _ repository.ListQuery) (json.RawMessage, error) {
	if f.mutErr != nil {
		return nil, f.mutErr
	}
	f.mu.Lock()
	f.updated[coll+"/"+id] = body
	f.mu.Unlock()
	var m map[string]any
	b, _ := json.Marshal(body)
	_ = json.Unmarshal(b, &m)
	m["id"] = id
	return json.Marshal(m)
}

func (f *fakeRecords) Delete(_ context.Context, coll, id string) error {
	if f.mutErr != nil {
		return f.mutErr
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, coll+"/"+id)
	f.mu.Unlock()
	return nil
}

type fakeAuth struct {
	res        repository.AuthResult
	err        error
	refreshRes repository.AuthResult
	refreshErr error
	calls      atomic.Int32
	refreshes  atomic.Int32
	gate       chan struct{}
}

var _ repository.AuthRepository = (*fakeAuth)(nil)

func (f *fakeAuth) AuthWithPassword(context.Context, string, string) (repository.AuthResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.res, f.err
}

func (f *fakeAuth) AuthRefresh(context.Context) (repository.AuthResult, error) {
	f.refreshes.Add(1)
	return f.refreshRes, f.refreshErr
}

// fixedSession is a SessionProvider driven directly by tests.
type fixedSession struct {
	c *reactive.Container[Session]
}

func newFixedSession(u *model.User) *fixedSession {
	f := &fixedSession{c: reactive.New(Session{})}
	f.switchTo(u)
	return f
}

func (f *fixedSession) switchTo(u *model.User) {
	if u == nil {
		f.c.Set(Session{})
		return
	}
	f.c.Set(Session{State: StateAuthenticated, User: u, Token: "tok"})
}

func (f *fixedSession) CurrentUser() (model.User, bool) {
	s := f.c.Get()
	if !s.IsAuthenticated() {
		return model.User{}, false
	}
	return *s.User, true
}

func (f *fixedSession) Session() *reactive.Container[Session] { return f.c }
