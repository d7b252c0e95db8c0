// Package membus is an in-process multicast transport: every endpoint
// opened on a Bus receives the messages sent to its own endpoint id or to
// any group it joined.
package membus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/transport/frame"
)

// Filter may rewrite or drop (by returning false) a delivery on its way to
// one receiving endpoint.
type Filter func(to string, d core.Delivery) (core.Delivery, bool)

type Bus struct {
	mu     sync.RWMutex
	subs   []*Endpoint
	filter Filter
}

func NewBus() *Bus {
	return &Bus{}
}

// SetFilter installs f for all subsequent deliveries; nil removes it.
func (b *Bus) SetFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
}

// Open attaches an endpoint with identity eid that also receives messages
// sent to groups.
func (b *Bus) Open(eid string, groups ...string) *Endpoint {
	done := make(chan struct{})
	ep := &Endpoint{
		bus:   b,
		eid:   eid,
		inbox: frame.NewInbox(eid, groups, done),
		done:  done,
	}

	b.mu.Lock()
	b.subs = append(b.subs, ep)
	b.mu.Unlock()

	return ep
}

func (b *Bus) remove(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ep {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Endpoint implements core.Transport on a Bus.
type Endpoint struct {
	bus   *Bus
	eid   string
	inbox *frame.Inbox

	done      chan struct{}
	closeOnce sync.Once
}

func (ep *Endpoint) EID() string {
	return ep.eid
}

func (ep *Endpoint) Send(ctx context.Context, dest string, payload []byte, ttl time.Duration) (core.BundleId, error) {
	select {
	case <-ep.done:
		return "", core.ErrStopped
	default:
	}

	id := core.BundleId(uuid.New().String())
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	ep.bus.mu.RLock()
	subs := append([]*Endpoint(nil), ep.bus.subs...)
	filter := ep.bus.filter
	ep.bus.mu.RUnlock()

	for _, sub := range subs {
		if !sub.inbox.Accepts(dest) {
			continue
		}

		d := core.Delivery{Source: ep.eid, Dest: dest, Payload: append([]byte(nil), payload...)}
		if filter != nil {
			var ok bool
			if d, ok = filter(sub.eid, d); !ok {
				continue
			}
		}

		f := &frame.Frame{Source: d.Source, Dest: d.Dest, Expires: expires, BundleId: id, Payload: d.Payload}
		if err := ctx.Err(); err != nil {
			return id, err
		}
		sub.inbox.Deliver(f)
	}

	return id, nil
}

func (ep *Endpoint) Receive(ctx context.Context, timeout time.Duration) (core.Delivery, error) {
	return ep.inbox.Receive(ctx, timeout)
}

func (ep *Endpoint) Close() error {
	ep.closeOnce.Do(func() {
		close(ep.done)
		ep.bus.remove(ep)
	})
	return nil
}
