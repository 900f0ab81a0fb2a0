package ledger

import (
	"sync"

	"github.com/davekale/bankledger/internal/models"
)

type EventKind string

const (
	EventAccountChanged    EventKind = "account_changed"
	EventTransactionPosted EventKind = "transaction_posted"
)

// Event describes a committed ledger mutation. Account is set for
// account_changed, Transaction for transaction_posted.
type Event struct {
	Kind        EventKind
	Account     *models.Account
	Transaction *models.Transaction
}

// Events fans committed-mutation notifications out to subscribers. Delivery
// is best-effort: a subscriber whose buffer is full misses the event rather
// than blocking the ledger.
type Events struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given channel buffer. The returned
// cancel func unregisters it and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, buffer)
	idx := e.nextID
	e.nextID++
	e.subs[idx] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[idx]; ok {
			delete(e.subs, idx)
			close(sub)
		}
	}
	return ch, cancel
}

func (e *Events) publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
