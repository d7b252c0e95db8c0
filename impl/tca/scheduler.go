package tca

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/trusted-collective/core"
	"github.com/usernamenenad/trusted-collective/store"
)

// Cycle is one compilation cycle. Its id is the compilation time in Unix
// seconds, which every authority derives identically.
type Cycle struct {
	ID       uint32
	FireAt   time.Time
	Deadline time.Time
}

func (a *Authority) cycle(id uint32) Cycle {
	fire := time.Unix(int64(id), 0)
	return Cycle{
		ID:       id,
		FireAt:   fire,
		Deadline: fire.Add(a.params.ConsensusInterval),
	}
}

// NextCompilation returns the first multiple of interval strictly after now.
func NextCompilation(now time.Time, interval time.Duration) uint32 {
	secs := uint64(interval / time.Second)
	t := uint64(now.Unix())
	return uint32((t/secs + 1) * secs)
}

// Schedule runs the compilation clock. Each cycle wakes WakeLead before its
// compilation time, freezes the cycle and hands it to RunCycle, which runs
// concurrently while the clock counts down to the next wake.
func (a *Authority) Schedule(ctx context.Context) error {
	next, err := a.startSchedule()
	if err != nil {
		a.logger.Error("load schedule", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	timer := NewTimer()

	for {
		wake := time.Unix(int64(next), 0).Add(-a.params.WakeLead)
		timer.Start(ctx, next, wake.Sub(a.now()))
		if !timer.await(ctx, next) {
			return g.Wait()
		}

		c, following, err := a.BeginCycle(next)
		if err != nil {
			a.logger.Error("advance schedule", zap.Error(err))
			cancel()
			_ = g.Wait()
			return err
		}
		next = following

		a.logger.Debug("compilation cycle started",
			zap.Uint32("cycle", c.ID),
			zap.Time("fireAt", c.FireAt),
			zap.Uint32("next", next))

		g.Go(func() error { return a.RunCycle(ctx, c) })
	}
}

// startSchedule loads the next compilation time, skipping any cycle whose
// compilation time already passed while the authority was down.
func (a *Authority) startSchedule() (uint32, error) {
	var next uint32
	err := a.store.Update(func(txn core.Txn) error {
		s, err := loadSchedule(txn)
		if err != nil {
			return err
		}
		now := a.now()
		if s.Next == 0 || !time.Unix(int64(s.Next), 0).After(now) {
			s.Next = NextCompilation(now, a.params.CompilationInterval)
		}
		next = s.Next
		return store.Put(txn, schedKey, &s)
	})
	return next, err
}

// BeginCycle makes id the current cycle, moves the next compilation time on
// and clears the peer acknowledgments of every pending record.
func (a *Authority) BeginCycle(id uint32) (Cycle, uint32, error) {
	var next uint32
	err := a.store.Update(func(txn core.Txn) error {
		s, err := loadSchedule(txn)
		if err != nil {
			return err
		}
		s.Current = id
		s.Next = id + uint32(a.params.CompilationInterval/time.Second)
		if n := NextCompilation(a.now(), a.params.CompilationInterval); n > s.Next {
			s.Next = n
		}
		next = s.Next
		if err := store.Put(txn, schedKey, &s); err != nil {
			return err
		}

		return eachPending(txn, func(key []byte, p *pendingRecord) error {
			for i := range p.Acks {
				if i != a.index {
					p.Acks[i] = AckNone
				}
			}
			p.Proposed = 0
			return store.Put(txn, key, p)
		})
	})
	return a.cycle(id), next, err
}

// RunCycle proposes the frozen pending list at the compilation time and
// publishes the consensus bulletin once the grace period has passed.
func (a *Authority) RunCycle(ctx context.Context, c Cycle) error {
	timer := NewTimer()

	timer.Start(ctx, c.ID, c.FireAt.Sub(a.now()))
	if !timer.await(ctx, c.ID) {
		return nil
	}
	if err := a.Propose(ctx, c.ID); err != nil {
		a.logger.Error("propose", zap.Uint32("cycle", c.ID), zap.Error(err))
		return err
	}

	timer.Start(ctx, c.ID, c.Deadline.Sub(a.now()))
	if !timer.await(ctx, c.ID) {
		return nil
	}
	if err := a.Finalize(ctx, c.ID); err != nil {
		a.logger.Error("finalize", zap.Uint32("cycle", c.ID), zap.Error(err))
		return err
	}
	return nil
}
