package api

import (
	"errors"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"go-tamp/internal/competence"
	"sync"
)

var errLedgerBusy = errors.New("an exploration episode owns the ledger")

type requestsCache struct {
	mu       sync.RWMutex
	capacity int
	ids      map[uuid.UUID]*actor.PID
	order    []uuid.UUID
}

// todo this should be persistent
func newRequestsCache(capacity int) *requestsCache {
	if capacity < 1 {
		capacity = 1
	}
	return &requestsCache{
		capacity: capacity,
		ids:      map[uuid.UUID]*actor.PID{},
	}
}

func (s *requestsCache) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// add keeps the most recent episodes and returns the actors of the ones
// that no longer fit, oldest first.
func (s *requestsCache) add(id uuid.UUID, pid *actor.PID) []*actor.PID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		s.order = append(s.order, id)
	}
	s.ids[id] = pid
	var evicted []*actor.PID
	for len(s.order) > s.capacity {
		old := s.order[0]
		s.order = s.order[1:]
		evicted = append(evicted, s.ids[old])
		delete(s.ids, old)
	}
	return evicted
}

func (s *requestsCache) get(id uuid.UUID) (*actor.PID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.ids[id]
	return pid, ok
}

// ledgerOwner holds the ledger between episodes. An episode checks it out
// and hands it back when it completes; only one episode runs at a time.
type ledgerOwner struct {
	mu     sync.Mutex
	ledger *competence.Ledger
	seen   map[int]bool
	active uuid.UUID
}

func newLedgerOwner(ledger *competence.Ledger, seen map[int]bool) *ledgerOwner {
	if seen == nil {
		seen = map[int]bool{}
	}
	return &ledgerOwner{ledger: ledger, seen: seen}
}

func (o *ledgerOwner) checkout(id uuid.UUID) (*competence.Ledger, map[int]bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != uuid.Nil {
		return nil, nil, errLedgerBusy
	}
	o.active = id
	return o.ledger, o.seen, nil
}

// checkin returns false when id does not hold the ledger.
func (o *ledgerOwner) checkin(id uuid.UUID, ledger *competence.Ledger, seen map[int]bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != id {
		return false
	}
	o.active = uuid.Nil
	o.ledger = ledger
	o.seen = seen
	return true
}

// cancel releases a checkout whose episode never started.
func (o *ledgerOwner) cancel(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == id {
		o.active = uuid.Nil
	}
}

// with runs f on the ledger while no episode owns it.
func (o *ledgerOwner) with(f func(ledger *competence.Ledger, seen map[int]bool)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != uuid.Nil {
		return errLedgerBusy
	}
	f(o.ledger, o.seen)
	return nil
}
