package transport

import (
	"sync"

	"github.com/stormcell-dev/stormcell/core/protocol"
)

// mailbox buffers the asynchronous traffic for one correlation id: a
// single-slot reply channel and a bounded broadcast channel.
type mailbox struct {
	reply chan protocol.Message
	bcast chan protocol.Message
}

func newMailbox(bufferSize int) *mailbox {
	return &mailbox{
		reply: make(chan protocol.Message, 1),
		bcast: make(chan protocol.Message, bufferSize),
	}
}

// router demultiplexes inbound frames into per-correlation mailboxes.
// Mailboxes are created lazily on first claim or first inbound frame, so
// broadcasts that race ahead of the sender's claim are buffered rather
// than lost.
type router struct {
	mu         sync.Mutex
	boxes      map[string]*mailbox
	bufferSize int
	closed     bool
}

func newRouter(bufferSize int) *router {
	return &router{
		boxes:      make(map[string]*mailbox),
		bufferSize: bufferSize,
	}
}

// claim returns the mailbox for the correlation id, creating it if needed.
// Returns nil after the router shuts down.
func (r *router) claim(corrID string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	box, ok := r.boxes[corrID]
	if !ok {
		box = newMailbox(r.bufferSize)
		r.boxes[corrID] = box
	}
	return box
}

// release drops the mailbox for a correlation id whose execution finished.
func (r *router) release(corrID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boxes, corrID)
}

// route delivers an inbound frame to its correlation mailbox. Delivery never
// blocks the read loop: a full broadcast buffer drops the frame and the
// caller reports it. Returns false when the frame could not be delivered.
func (r *router) route(msg protocol.Message) bool {
	if msg.Parent == "" {
		return false
	}

	box := r.claim(msg.Parent)
	if box == nil {
		return false
	}

	target := box.bcast
	if msg.Channel == protocol.ChannelShell {
		target = box.reply
	}

	select {
	case target <- msg:
		return true
	default:
		return false
	}
}

// shutdown marks the router closed. Pending receivers are unblocked by the
// transport's done channel, not by closing mailbox channels, so the read
// loop can never send on a closed channel.
func (r *router) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.boxes = make(map[string]*mailbox)
}
