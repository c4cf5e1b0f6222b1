// ABOUTME: TTL filter for Slack event ids so redelivered events run once
// ABOUTME: Bounded size with oldest-first eviction; failed events can be released for retry

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Filter remembers event keys for a TTL. Slack redelivers an event when it
// does not get a timely 200; Filter lets the second delivery be acknowledged
// without doing the work twice.
type Filter struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // oldest at front
}

// NewFilter creates a filter. maxSize <= 0 means unbounded.
func NewFilter(ttl time.Duration, maxSize int) *Filter {
	return &Filter{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		index:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Key scopes an event id to its team.
func Key(teamID, eventID string) string {
	return teamID + "/" + eventID
}

// Claim marks key as seen and reports whether this caller is the first
// within the TTL. Empty keys are always claimable.
func (f *Filter) Claim(key string) bool {
	if f == nil || key == "" || f.ttl <= 0 {
		return true
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.expireLocked(now)

	if _, ok := f.index[key]; ok {
		return false
	}

	if f.maxSize > 0 && f.order.Len() >= f.maxSize {
		oldest := f.order.Front()
		f.order.Remove(oldest)
		delete(f.index, oldest.Value.(*entry).key)
	}
	f.index[key] = f.order.PushBack(&entry{key: key, seenAt: now})
	return true
}

// Release forgets key so a later redelivery is processed.
func (f *Filter) Release(key string) {
	if f == nil || key == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if el, ok := f.index[key]; ok {
		f.order.Remove(el)
		delete(f.index, key)
	}
}

// Len returns the number of live keys.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireLocked(f.now())
	return f.order.Len()
}

// expireLocked drops entries older than the TTL. Entries are in insertion
// order, so it stops at the first live one.
func (f *Filter) expireLocked(now time.Time) {
	for el := f.order.Front(); el != nil; el = f.order.Front() {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < f.ttl {
			return
		}
		f.order.Remove(el)
		delete(f.index, e.key)
	}
}
