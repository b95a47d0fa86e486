package replication

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamware/tuplespace/internal/space"
	"github.com/dreamware/tuplespace/internal/tuple"
)

// ErrUnknownHandle is returned when waiting on a handle that has no mailbox
var ErrUnknownHandle = errors.New("unknown registration handle")

// mailbox holds the single tuple a remote registration fires with until
// its owner claims it
type mailbox struct {
	once  sync.Once
	ready chan struct{}
	t     tuple.Tuple
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{})}
}

func (m *mailbox) fill(t tuple.Tuple) {
	m.once.Do(func() {
		m.t = t.Clone()
		close(m.ready)
	})
}

func (m *mailbox) filled() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Hub keeps one mailbox per remote registration handle. Mailboxes follow
// the journal so a backup holds the same deliveries as its primary.
type Hub struct {
	mu    sync.Mutex
	boxes map[string]*mailbox
}

func NewHub() *Hub {
	return &Hub{boxes: make(map[string]*mailbox)}
}

// open returns the mailbox for id, creating it if needed
func (h *Hub) open(id string) (*mailbox, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.boxes[id]; ok {
		return m, true
	}
	m := newMailbox()
	h.boxes[id] = m
	return m, false
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.boxes, id)
	h.mu.Unlock()
}

// callback is the space.Binder for remote registrations
func (h *Hub) callback(id string) space.Callback {
	m, _ := h.open(id)
	return m.fill
}

// observe applies the delivery side of a journal batch
func (h *Hub) observe(muts []space.Mutation) {
	for _, mut := range muts {
		switch mut.Op {
		case space.OpRegister:
			h.open(mut.ID)
		case space.OpFire:
			m, _ := h.open(mut.ID)
			m.fill(mut.Tuple)
		case space.OpRelease:
			h.remove(mut.ID)
		case space.OpReset:
			h.mu.Lock()
			h.boxes = make(map[string]*mailbox)
			h.mu.Unlock()
		}
	}
}

// Wait blocks until the registration id has fired or ctx is done
func (h *Hub) Wait(ctx context.Context, id string) (tuple.Tuple, error) {
	h.mu.Lock()
	m, ok := h.boxes[id]
	h.mu.Unlock()
	if !ok {
		return nil, ErrUnknownHandle
	}

	select {
	case <-m.ready:
		return m.t.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fired lists the deliveries not yet claimed, as Fire mutations
func (h *Hub) fired() []space.Mutation {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []space.Mutation
	for id, m := range h.boxes {
		if m.filled() {
			out = append(out, space.Mutation{Op: space.OpFire, ID: id, Tuple: m.t})
		}
	}
	return out
}

// Len returns the number of open mailboxes
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boxes)
}
