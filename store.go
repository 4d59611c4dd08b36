package clausedesk

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// NotificationsAPI is the REST surface the Store confirms against.
// *NotificationsClient implements it.
type NotificationsAPI interface {
	List(ctx context.Context) (*NotificationList, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// InsertHandler is told about every notification newly added by a push.
// It is the hook for transient toasts.
type InsertHandler func(Notification)

type insertListener struct {
	id int
	fn InsertHandler
}

type insertEmitter struct {
	mu        sync.RWMutex
	next      int
	listeners []insertListener
	logger    zerolog.Logger
}

// OnInsert registers h and returns a function that removes it.
func (e *insertEmitter) OnInsert(h InsertHandler) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.listeners = append(e.listeners, insertListener{id: id, fn: h})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *insertEmitter) emitInsert(n Notification) {
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error().Int64("notification", n.ID).Interface("panic", r).Msg("insert handler panicked")
				}
			}()
			l.fn(n)
		}()
	}
}

// ============================================================================
// Notification Store
// ============================================================================

// Store reconciles the REST baseline with pushed notifications. After
// every completed operation UnreadCount equals the number of unread
// entries in Notifications. Reads and marks are applied locally first;
// the server is told afterwards and a failed confirmation is not rolled
// back.
type Store struct {
	insertEmitter
	api NotificationsAPI

	mu     sync.Mutex
	items  []Notification // newest first
	ids    map[int64]struct{}
	unread int
	seq    uint64
	loaded bool
}

// NewStore returns an empty Store confirming changes through api.
func NewStore(api NotificationsAPI, logger zerolog.Logger) *Store {
	return &Store{
		insertEmitter: insertEmitter{logger: logger.With().Str("component", "store").Logger()},
		api:           api,
		ids:           make(map[int64]struct{}),
	}
}

// Attach subscribes the Store to notification events on d.
func (s *Store) Attach(d *Dispatcher) Token {
	return On(d, EventNotification, func(n Notification) {
		s.HandleNotification(n)
	})
}

// Refresh replaces the collection with the server baseline. If another
// Refresh starts before this one's response arrives, this response is
// discarded.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	list, err := s.api.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("load notifications")
		return fmt.Errorf("load notifications: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		s.logger.Debug().Uint64("seq", seq).Uint64("latest", s.seq).Msg("drop superseded baseline")
		return nil
	}
	s.replaceLocked(list.Notifications)
	if list.UnreadCount != s.unread {
		s.logger.Warn().
			Int("reported", list.UnreadCount).
			Int("counted", s.unread).
			Msg("baseline unread count disagrees with list")
	}
	return nil
}

// Load replaces the collection with ns without contacting the server,
// e.g. from an offline snapshot. Any Refresh in flight is superseded.
func (s *Store) Load(ns []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.replaceLocked(ns)
}

func (s *Store) replaceLocked(ns []Notification) {
	items := make([]Notification, 0, len(ns))
	ids := make(map[int64]struct{}, len(ns))
	unread := 0
	for _, n := range ns {
		if _, dup := ids[n.ID]; dup {
			continue
		}
		ids[n.ID] = struct{}{}
		items = append(items, n)
		if !n.Read {
			unread++
		}
	}
	s.items, s.ids, s.unread = items, ids, unread
	s.loaded = true
}

// HandleNotification inserts a pushed notification at the front. A
// notification whose ID is already present, or that carries no
// server-assigned ID, is ignored. It reports whether n was inserted.
func (s *Store) HandleNotification(n Notification) bool {
	if n.ID <= 0 {
		s.logger.Warn().Int64("notification", n.ID).Str("title", n.Title).Msg("drop pushed notification without id")
		return false
	}
	s.mu.Lock()
	if _, dup := s.ids[n.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.ids[n.ID] = struct{}{}
	s.items = append([]Notification{n}, s.items...)
	if !n.Read {
		s.unread++
	}
	s.mu.Unlock()

	if !n.Silent {
		s.emitInsert(n)
	}
	return true
}

// MarkAsRead marks id read locally, then confirms with the server. On
// failure the local state is kept and the error returned.
func (s *Store) MarkAsRead(ctx context.Context, id int64) error {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if !s.items[i].Read {
			s.items[i].Read = true
			if s.unread > 0 {
				s.unread--
			}
		}
		break
	}
	s.mu.Unlock()

	if err := s.api.MarkRead(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("notification", id).Msg("confirm mark read")
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllAsRead marks everything read locally, then confirms with the
// server. On failure the local state is kept and the error returned.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()

	if err := s.api.MarkAllRead(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("confirm mark all read")
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// Notifications returns a copy of the collection, newest first.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.items...)
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Loaded reports whether a baseline has been applied.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}
