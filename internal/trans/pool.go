package trans

import (
	"sync"

	"github.com/google/uuid"
)

// Pool is the bounded arena of reusable Transactions (§4.2). Acquire returns
// nil when the pool is exhausted; Release returns a transaction to the free
// list and invokes the wakeup hook, if one is registered.
//
// Drivers acquire and release only from the event-loop goroutine (§5
// "Shared state"); the mutex still guards every method (Acquire, release,
// OnFree, Stats) so Stats can be read for metrics from any goroutine.
type Pool struct {
	mu      sync.Mutex
	size    int
	free    []*Transaction
	nextID  uint64
	onFree  func()
	inUse   int
}

// NewPool preallocates size Transactions, each with three zero-length data
// slots ready to be populated by SetData.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.free = make([]*Transaction, 0, size)
	for i := 0; i < size; i++ {
		p.free = append(p.free, &Transaction{
			ID:      0,
			TraceID: uuid.Nil,
			pool:    p,
		})
	}
	return p
}

// OnFree registers a hook invoked after a Release makes a transaction
// available again. The scheduler uses this to re-invoke an operation parked
// in WAITING_TRANS (§4.1).
func (p *Pool) OnFree(f func()) {
	p.mu.Lock()
	p.onFree = f
	p.mu.Unlock()
}

// Acquire returns a zeroed transaction, or nil if the pool is exhausted.
func (p *Pool) Acquire(m Machine) *Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	t := p.free[n-1]
	p.free = p.free[:n-1]
	p.nextID++
	t.reset()
	t.ID = p.nextID
	t.TraceID = uuid.New()
	t.Machine = m
	p.inUse++
	return t
}

// release returns t to the free list and fires the wakeup hook, if any.
func (p *Pool) release(t *Transaction) {
	p.mu.Lock()
	p.free = append(p.free, t)
	p.inUse--
	hook := p.onFree
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Stats reports current pool occupancy, for the metrics package and for
// pool-leak invariant tests (§8 property 1).
func (p *Pool) Stats() (size, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size, p.inUse
}
