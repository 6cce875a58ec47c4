// Package transport defines the messaging contract the runtime
// consumes and ships a loopback implementation for single-process
// deployments and tests. Real network transports satisfy the same
// interface.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"aethernet/internal/store"
)

// MessagingTransport moves messages between agents. Poll returns
// inbound messages received after since, oldest first, bounded by
// limit. Send delivers one outbound message and returns the record.
type MessagingTransport interface {
	Poll(ctx context.Context, since time.Time, limit int) ([]store.Message, error)
	Send(ctx context.Context, to, content, threadID string) (*store.Message, error)
}

// Loopback is an in-memory transport. Messages sent to the agent's
// own address come back on the next poll; everything else is recorded
// and dropped. Safe for concurrent use.
type Loopback struct {
	mu    sync.Mutex
	self  string
	inbox []store.Message
	sent  []store.Message
}

// NewLoopback builds a loopback transport for the given self address.
func NewLoopback(self string) *Loopback {
	return &Loopback{self: self}
}

// Inject places an inbound message on the queue, as if a peer had
// sent it. Used by the operator inject command and by tests.
func (l *Loopback) Inject(m store.Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	if m.To == "" {
		m.To = l.self
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, m)
}

// Poll returns inbound messages received strictly after since.
func (l *Loopback) Poll(_ context.Context, since time.Time, limit int) ([]store.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.Message
	for _, m := range l.inbox {
		if !m.ReceivedAt.After(since) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Send records an outbound message. A message addressed to self is
// looped back onto the inbound queue.
func (l *Loopback) Send(_ context.Context, to, content, threadID string) (*store.Message, error) {
	m := store.Message{
		ID:         uuid.NewString(),
		From:       l.self,
		To:         to,
		ThreadID:   threadID,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, m)
	if to == l.self {
		l.inbox = append(l.inbox, m)
	}
	return &m, nil
}

// Sent returns a copy of every message sent so far.
func (l *Loopback) Sent() []store.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.Message(nil), l.sent...)
}
