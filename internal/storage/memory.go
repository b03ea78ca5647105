package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore keeps everything in maps. It backs the "memory" and "file" drivers.
type memStore struct {
	mu sync.Mutex

	seq   uint64
	users map[int64]UserRecord
	rems  map[string]memRow[ReminderRecord]
	subs  map[string]memRow[SubscriptionRecord]
	dedup map[string]int64 // unix milli

	// onChange runs with mu held after every successful mutation.
	onChange func() error
}

type memRow[T any] struct {
	Seq uint64 `json:"seq"`
	Doc T      `json:"doc"`
}

// NewMemory returns an empty in-process store.
func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]UserRecord{},
		rems:  map[string]memRow[ReminderRecord]{},
		subs:  map[string]memRow[SubscriptionRecord]{},
		dedup: map[string]int64{},
	}
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) Close() error { return nil }

func (s *memStore) changed() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange()
}

func (s *memStore) UpsertUser(_ context.Context, u UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	u.CreatedAt = stamp(u.CreatedAt)
	s.users[u.ID] = u
	return s.changed()
}

func (s *memStore) GetUser(_ context.Context, id int64) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return u, nil
}

func (s *memStore) CreateReminder(_ context.Context, r ReminderRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(r.ID) == "" {
		r.ID = newID()
	}
	r.CreatedAt = stamp(r.CreatedAt)
	s.seq++
	s.rems[r.ID] = memRow[ReminderRecord]{Seq: s.seq, Doc: r}
	return r.ID, s.changed()
}

func (s *memStore) GetReminder(_ context.Context, id string) (ReminderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rems[id]
	if !ok {
		return ReminderRecord{}, ErrNotFound
	}
	return row.Doc, nil
}

func (s *memStore) ListReminders(context.Context) ([]ReminderRecord, error) {
	return s.listReminders(func(ReminderRecord) bool { return true }), nil
}

func (s *memStore) ListRemindersByOwner(_ context.Context, owner int64) ([]ReminderRecord, error) {
	return s.listReminders(func(r ReminderRecord) bool { return r.OwnerID == owner }), nil
}

func (s *memStore) listReminders(keep func(ReminderRecord) bool) []ReminderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedDocs(s.rems, keep)
}

func (s *memStore) DeleteReminder(_ context.Context, owner int64, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rems[id]
	if !ok || row.Doc.OwnerID != owner {
		return 0, nil
	}
	delete(s.rems, id)
	return 1, s.changed()
}

func (s *memStore) CreateSubscription(_ context.Context, sub SubscriptionRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(sub.ID) == "" {
		sub.ID = newID()
	}
	sub.CreatedAt = stamp(sub.CreatedAt)
	s.seq++
	s.subs[sub.ID] = memRow[SubscriptionRecord]{Seq: s.seq, Doc: sub}
	return sub.ID, s.changed()
}

func (s *memStore) GetSubscription(_ context.Context, id string) (SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.subs[id]
	if !ok {
		return SubscriptionRecord{}, ErrNotFound
	}
	return row.Doc, nil
}

func (s *memStore) ListSubscriptions(context.Context) ([]SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedDocs(s.subs, func(SubscriptionRecord) bool { return true }), nil
}

func (s *memStore) ListSubscriptionsByOwner(_ context.Context, owner int64) ([]SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedDocs(s.subs, func(r SubscriptionRecord) bool { return r.OwnerID == owner }), nil
}

func (s *memStore) UpdateSubscriptionTime(_ context.Context, owner int64, id string, hour, minute int, zone string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.subs[id]
	if !ok || row.Doc.OwnerID != owner {
		return 0, nil
	}
	row.Doc.Hour, row.Doc.Minute, row.Doc.Zone = hour, minute, zone
	s.subs[id] = row
	return 1, s.changed()
}

func (s *memStore) DeleteSubscription(_ context.Context, owner int64, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.subs[id]
	if !ok || row.Doc.OwnerID != owner {
		return 0, nil
	}
	delete(s.subs, id)
	return 1, s.changed()
}

func (s *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until.UnixMilli()
	pruneExpiredDedup(s.dedup, time.Now())
	return s.changed()
}

func (s *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	n := now.UnixMilli()
	for k, until := range m {
		if until < n {
			delete(m, k)
		}
	}
}

func sortedDocs[T any](rows map[string]memRow[T], keep func(T) bool) []T {
	list := make([]memRow[T], 0, len(rows))
	for _, r := range rows {
		if keep(r.Doc) {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	out := make([]T, len(list))
	for i, r := range list {
		out[i] = r.Doc
	}
	return out
}
