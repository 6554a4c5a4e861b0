package store

import (
	"sync"

	"github.com/safetymap/safetymap/internal/models"
)

// subscriber is one registered callback pair. Delivery re-checks the
// "still subscribed" flag, then invokes the callbacks outside the lock so
// a callback may unsubscribe itself without deadlocking. Once closed, no
// new delivery begins.
type subscriber struct {
	mu            sync.Mutex
	closed        bool
	onReports     ReportsFunc
	onLastUpdated LastUpdatedFunc
}

func (s *subscriber) notify(reports []models.Report, lastUpdated int64) {
	s.mu.Lock()
	closed := s.closed
	onReports := s.onReports
	onLastUpdated := s.onLastUpdated
	s.mu.Unlock()

	if closed {
		return
	}
	if onReports != nil {
		onReports(reports)
	}
	if onLastUpdated != nil {
		onLastUpdated(lastUpdated)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// subscriberSet tracks live subscribers for a backend.
type subscriberSet struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[*subscriber]struct{})}
}

func (set *subscriberSet) add(onReports ReportsFunc, onLastUpdated LastUpdatedFunc) *subscriber {
	sub := &subscriber{onReports: onReports, onLastUpdated: onLastUpdated}
	set.mu.Lock()
	set.subs[sub] = struct{}{}
	set.mu.Unlock()
	return sub
}

// remove is idempotent; removing an already-removed subscriber is a no-op.
func (set *subscriberSet) remove(sub *subscriber) {
	sub.close()
	set.mu.Lock()
	delete(set.subs, sub)
	set.mu.Unlock()
}

func (set *subscriberSet) snapshot() []*subscriber {
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]*subscriber, 0, len(set.subs))
	for sub := range set.subs {
		out = append(out, sub)
	}
	return out
}
