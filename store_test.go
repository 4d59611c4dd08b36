package clausedesk

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotificationsAPI struct {
	mu        sync.Mutex
	list      *NotificationList
	listErr   error
	markErr   error
	marked    []int64
	markedAll int
	listCalls int
	// listFn, when set, replaces the canned response. call is 1-based.
	listFn func(ctx context.Context, call int) (*NotificationList, error)
}

func (f *fakeNotificationsAPI) List(ctx context.Context) (*NotificationList, error) {
	f.mu.Lock()
	f.listCalls++
	call, fn, list, err := f.listCalls, f.listFn, f.list, f.listErr
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (f *fakeNotificationsAPI) MarkRead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return f.markErr
}

func (f *fakeNotificationsAPI) MarkAllRead(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedAll++
	return f.markErr
}

func (f *fakeNotificationsAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func note(id int64, read bool) Notification {
	return Notification{
		ID:        id,
		Title:     "Contract update",
		Message:   "Clause changed",
		Kind:      KindInfo,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		Read:      read,
	}
}

func countUnread(ns []Notification) int {
	n := 0
	for _, x := range ns {
		if !x.Read {
			n++
		}
	}
	return n
}

func ids(ns []Notification) []int64 {
	out := make([]int64, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestStoreRefreshAppliesBaseline(t *testing.T) {
	api := &fakeNotificationsAPI{list: &NotificationList{
		Notifications: []Notification{note(3, false), note(2, true), note(1, false)},
		UnreadCount:   2,
	}}
	s := NewStore(api, zerolog.Nop())
	assert.False(t, s.Loaded())

	require.NoError(t, s.Refresh(context.Background()))
	assert.True(t, s.Loaded())
	assert.Equal(t, []int64{3, 2, 1}, ids(s.Notifications()))
	assert.Equal(t, 2, s.UnreadCount())
}

func TestStoreRefreshRecountsInconsistentBaseline(t *testing.T) {
	api := &fakeNotificationsAPI{list: &NotificationList{
		Notifications: []Notification{note(2, false), note(1, false), note(2, true)},
		UnreadCount:   7,
	}}
	s := NewStore(api, zerolog.Nop())

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []int64{2, 1}, ids(s.Notifications()), "duplicates keep the first entry")
	assert.Equal(t, 2, s.UnreadCount())
}

func TestStoreRefreshFailureKeepsState(t *testing.T) {
	api := &fakeNotificationsAPI{listErr: &APIError{Status: 503, Message: "unavailable"}}
	s := NewStore(api, zerolog.Nop())
	s.HandleNotification(note(1, false))

	err := s.Refresh(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)
	assert.Equal(t, 1, s.UnreadCount())
	assert.False(t, s.Loaded())
}

func TestStorePushIncrementsUnread(t *testing.T) {
	api := &fakeNotificationsAPI{list: &NotificationList{
		Notifications: []Notification{note(3, false), note(2, false), note(1, false)},
		UnreadCount:   3,
	}}
	s := NewStore(api, zerolog.Nop())
	require.NoError(t, s.Refresh(context.Background()))
	var toasts []int64
	s.OnInsert(func(n Notification) { toasts = append(toasts, n.ID) })

	assert.True(t, s.HandleNotification(note(4, false)))

	assert.Equal(t, 4, s.UnreadCount())
	assert.Equal(t, int64(4), s.Notifications()[0].ID)
	assert.Equal(t, []int64{4}, toasts)
}

func TestStorePushIsIdempotent(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	toasts := 0
	s.OnInsert(func(Notification) { toasts++ })

	assert.True(t, s.HandleNotification(note(9, false)))
	assert.False(t, s.HandleNotification(note(9, false)))
	assert.False(t, s.HandleNotification(note(9, true)))

	assert.Len(t, s.Notifications(), 1)
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 1, toasts)
}

func TestStorePushWithoutIDIsDropped(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	api := &fakeNotificationsAPI{}
	s := NewStore(api, zerolog.Nop())
	s.Attach(d)
	var toasts int
	s.OnInsert(func(Notification) { toasts++ })

	d.Dispatch(EventNotification, []byte(`{"title":"no id"}`))
	d.Dispatch(EventNotification, []byte(`{"title":"also no id","read":false}`))
	assert.False(t, s.HandleNotification(Notification{ID: -4, Title: "negative"}))

	assert.Empty(t, s.Notifications())
	assert.Zero(t, s.UnreadCount())
	assert.Zero(t, toasts)

	// A well-formed push afterwards is unaffected.
	assert.True(t, s.HandleNotification(note(5, false)))
	assert.Equal(t, []int64{5}, ids(s.Notifications()))
	assert.Equal(t, 1, s.UnreadCount())
	require.NoError(t, s.MarkAsRead(context.Background(), 5))
	assert.Equal(t, []int64{5}, api.marked)
}

func TestStoreReadPushDoesNotCount(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	s.HandleNotification(note(1, true))
	assert.Equal(t, 0, s.UnreadCount())
	assert.Len(t, s.Notifications(), 1)
}

func TestStoreSilentPushIsNotToasted(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	toasts := 0
	s.OnInsert(func(Notification) { toasts++ })

	n := note(5, false)
	n.Silent = true
	require.True(t, s.HandleNotification(n))
	assert.Zero(t, toasts)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreInsertListenerPanicIsIsolated(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	var got []int64
	s.OnInsert(func(Notification) { panic("toast failed") })
	s.OnInsert(func(n Notification) { got = append(got, n.ID) })

	require.NotPanics(t, func() { s.HandleNotification(note(1, false)) })
	assert.Equal(t, []int64{1}, got)
}

func TestStoreRemoveInsertListener(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	calls := 0
	remove := s.OnInsert(func(Notification) { calls++ })

	s.HandleNotification(note(1, false))
	remove()
	remove()
	s.HandleNotification(note(2, false))
	assert.Equal(t, 1, calls)
}

func TestStoreMarkAsRead(t *testing.T) {
	api := &fakeNotificationsAPI{}
	s := NewStore(api, zerolog.Nop())
	s.HandleNotification(note(1, false))
	s.HandleNotification(note(2, false))

	require.NoError(t, s.MarkAsRead(context.Background(), 1))
	assert.Equal(t, 1, s.UnreadCount())

	// Already read: no further decrement.
	require.NoError(t, s.MarkAsRead(context.Background(), 1))
	assert.Equal(t, 1, s.UnreadCount())

	// Unknown id leaves the count alone.
	require.NoError(t, s.MarkAsRead(context.Background(), 404))
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, []int64{1, 1, 404}, api.marked)
}

func TestStoreMarkAsReadKeepsOptimisticStateOnFailure(t *testing.T) {
	api := &fakeNotificationsAPI{markErr: errors.New("network down")}
	s := NewStore(api, zerolog.Nop())
	s.HandleNotification(note(1, false))

	err := s.MarkAsRead(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Equal(t, 0, s.UnreadCount())
	assert.True(t, s.Notifications()[0].Read)
}

func TestStoreMarkAllAsReadWithFailingServer(t *testing.T) {
	api := &fakeNotificationsAPI{
		list: &NotificationList{
			Notifications: []Notification{note(3, false), note(2, false), note(1, true)},
			UnreadCount:   2,
		},
		markErr: &APIError{Status: 500, Message: "boom"},
	}
	s := NewStore(api, zerolog.Nop())
	require.NoError(t, s.Refresh(context.Background()))

	err := s.MarkAllAsRead(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)

	assert.Equal(t, 0, s.UnreadCount())
	for _, n := range s.Notifications() {
		assert.True(t, n.Read, "notification %d", n.ID)
	}
	assert.Equal(t, 1, api.markedAll)
}

func TestStoreDropsSupersededBaseline(t *testing.T) {
	for _, staleFirst := range []bool{true, false} {
		name := "stale response arrives last"
		if staleFirst {
			name = "stale response arrives first"
		}
		t.Run(name, func(t *testing.T) {
			responses := []chan *NotificationList{make(chan *NotificationList), make(chan *NotificationList)}
			api := &fakeNotificationsAPI{listFn: func(ctx context.Context, call int) (*NotificationList, error) {
				select {
				case l := <-responses[call-1]:
					return l, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}}
			s := NewStore(api, zerolog.Nop())

			older := make(chan error, 1)
			go func() { older <- s.Refresh(context.Background()) }()
			require.Eventually(t, func() bool { return api.calls() == 1 }, time.Second, time.Millisecond)

			newer := make(chan error, 1)
			go func() { newer <- s.Refresh(context.Background()) }()
			require.Eventually(t, func() bool { return api.calls() == 2 }, time.Second, time.Millisecond)

			stale := &NotificationList{Notifications: []Notification{note(1, false), note(0, false)}, UnreadCount: 2}
			fresh := &NotificationList{Notifications: []Notification{note(2, false)}, UnreadCount: 1}
			if staleFirst {
				responses[0] <- stale
				require.NoError(t, <-older)
				responses[1] <- fresh
				require.NoError(t, <-newer)
			} else {
				responses[1] <- fresh
				require.NoError(t, <-newer)
				responses[0] <- stale
				require.NoError(t, <-older)
			}

			assert.Equal(t, []int64{2}, ids(s.Notifications()))
			assert.Equal(t, 1, s.UnreadCount())
		})
	}
}

func TestStoreBaselineAfterPushDiscardsPush(t *testing.T) {
	api := &fakeNotificationsAPI{list: &NotificationList{
		Notifications: []Notification{note(1, false)},
		UnreadCount:   1,
	}}
	s := NewStore(api, zerolog.Nop())
	s.HandleNotification(note(2, false))

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, []int64{1}, ids(s.Notifications()))
	assert.Equal(t, 1, s.UnreadCount())

	// A later push with the old ID is a fresh insert again.
	assert.True(t, s.HandleNotification(note(2, false)))
	assert.Equal(t, 2, s.UnreadCount())
}

func TestStoreLoadReplacesCollection(t *testing.T) {
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	s.HandleNotification(note(5, false))

	s.Load([]Notification{note(1, true), note(2, false)})
	assert.Equal(t, []int64{1, 2}, ids(s.Notifications()))
	assert.Equal(t, 1, s.UnreadCount())
	assert.True(t, s.Loaded())
}

func TestStoreUnreadInvariantOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	api := &fakeNotificationsAPI{}
	ctx := context.Background()

	for round := 0; round < 200; round++ {
		s := NewStore(api, zerolog.Nop())
		for step := 0; step < 60; step++ {
			switch rng.Intn(5) {
			case 0:
				var ns []Notification
				for i := rng.Intn(8); i > 0; i-- {
					ns = append(ns, note(int64(rng.Intn(20)), rng.Intn(2) == 0))
				}
				api.mu.Lock()
				api.list = &NotificationList{Notifications: ns, UnreadCount: rng.Intn(10)}
				api.mu.Unlock()
				require.NoError(t, s.Refresh(ctx))
			case 1, 2:
				s.HandleNotification(note(int64(rng.Intn(20)), rng.Intn(3) == 0))
			case 3:
				_ = s.MarkAsRead(ctx, int64(rng.Intn(20)))
			case 4:
				if rng.Intn(4) == 0 {
					_ = s.MarkAllAsRead(ctx)
				}
			}

			ns := s.Notifications()
			require.Equal(t, countUnread(ns), s.UnreadCount(), "round %d step %d", round, step)
			require.GreaterOrEqual(t, s.UnreadCount(), 0)
			seen := map[int64]bool{}
			for _, n := range ns {
				require.False(t, seen[n.ID], "duplicate id %d", n.ID)
				seen[n.ID] = true
			}
		}
	}
}

func TestStoreAttachHandlesPushes(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	s := NewStore(&fakeNotificationsAPI{}, zerolog.Nop())
	tok := s.Attach(d)

	env, err := NewEnvelope(EventNotification, note(11, false))
	require.NoError(t, err)
	d.Dispatch(env.Type, env.Data)
	d.Dispatch(env.Type, env.Data)
	assert.Equal(t, 1, s.UnreadCount())

	d.Unsubscribe(tok)
	env, err = NewEnvelope(EventNotification, note(12, false))
	require.NoError(t, err)
	d.Dispatch(env.Type, env.Data)
	assert.Equal(t, 1, s.UnreadCount())
}
