package session

import (
	"sync"

	"github.com/danmuck/indexd/internal/observability"
	"github.com/danmuck/indexd/internal/protocol"
)

type result struct {
	msg *protocol.Message
	err error
}

// pendingTable maps correlation ids to single-use completion slots. Each
// slot is buffered so completion never blocks the reader loop.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan result
	closed  bool
	err     error
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint64]chan result)}
}

func (p *pendingTable) register(id uint64) (chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, p.err
	}
	if _, exists := p.entries[id]; exists {
		return nil, ErrDuplicateID
	}
	ch := make(chan result, 1)
	p.entries[id] = ch
	observability.AddPending(1)
	return ch, nil
}

// complete delivers r to the entry for id. It reports false when no entry
// exists, for example after the caller gave up.
func (p *pendingTable) complete(id uint64, r result) bool {
	p.mu.Lock()
	ch, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	observability.AddPending(-1)
	ch <- r
	return true
}

func (p *pendingTable) remove(id uint64) bool {
	p.mu.Lock()
	_, ok := p.entries[id]
	delete(p.entries, id)
	p.mu.Unlock()
	if ok {
		observability.AddPending(-1)
	}
	return ok
}

// failAll completes every entry with err and refuses new registrations.
func (p *pendingTable) failAll(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[uint64]chan result)
	p.closed = true
	p.err = err
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- result{err: err}
	}
	observability.AddPending(-float64(len(entries)))
	return len(entries)
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
