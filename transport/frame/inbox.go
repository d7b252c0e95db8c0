package frame

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/usernamenenad/trusted-collective/core"
)

const (
	inboxDepth  = 1024
	seenBundles = 4096
)

// Inbox is the receive side of a stream transport: it keeps only frames
// addressed to the local endpoint or one of its groups, drops expired and
// duplicate bundles and hands the rest to Receive.
type Inbox struct {
	eid    string
	groups map[string]bool
	seen   *lru.Cache
	ch     chan core.Delivery
	done   chan struct{}
}

func NewInbox(eid string, groups []string, done chan struct{}) *Inbox {
	g := make(map[string]bool, len(groups))
	for _, grp := range groups {
		g[grp] = true
	}
	// lru.New only fails for a non-positive size.
	seen, _ := lru.New(seenBundles)
	return &Inbox{
		eid:    eid,
		groups: g,
		seen:   seen,
		ch:     make(chan core.Delivery, inboxDepth),
		done:   done,
	}
}

// Accepts reports whether frames for dest are delivered locally.
func (in *Inbox) Accepts(dest string) bool {
	return dest == in.eid || in.groups[dest]
}

// Deliver queues f for Receive. It blocks while the inbox is full and
// returns false once the transport is closed.
func (in *Inbox) Deliver(f *Frame) bool {
	if !in.Accepts(f.Dest) {
		return true
	}
	if !f.Expires.IsZero() && time.Now().After(f.Expires) {
		return true
	}
	if f.BundleId != "" {
		if dup, _ := in.seen.ContainsOrAdd(f.BundleId, struct{}{}); dup {
			return true
		}
	}

	select {
	case in.ch <- f.Delivery():
		return true
	case <-in.done:
		return false
	}
}

func (in *Inbox) Receive(ctx context.Context, timeout time.Duration) (core.Delivery, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d := <-in.ch:
		return d, nil
	case <-expired:
		return core.Delivery{}, core.ErrTimeout
	case <-ctx.Done():
		return core.Delivery{}, core.ErrStopped
	case <-in.done:
		return core.Delivery{}, core.ErrStopped
	}
}
