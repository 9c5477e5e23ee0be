package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/adhocore/gronx"

	"github.com/DavidFlores79/wadesk/internal/store"
)

// Sweeper periodically resolves and closes conversations that have gone
// quiet past their per-status timeout. Every status write is guarded,
// so a sweep racing an operator action loses cleanly and skips.
type Sweeper struct {
	machine *Machine
	cron    string
}

// NewSweeper builds a sweeper on the machine's lifecycle config.
func NewSweeper(machine *Machine) *Sweeper {
	cron := machine.cfg.SweepCron
	if cron == "" {
		cron = "*/5 * * * *"
	}
	return &Sweeper{machine: machine, cron: cron}
}

// Run blocks until ctx is done, firing the sweep on the cron schedule.
func (s *Sweeper) Run(ctx context.Context) error {
	g := gronx.New()
	if !g.IsValid(s.cron) {
		return errors.New("lifecycle: invalid sweep cron expression: " + s.cron)
	}
	s.machine.log.Info("lifecycle sweep scheduled", "cron", s.cron)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := g.IsDue(s.cron, time.Now())
			if err != nil || !due {
				continue
			}
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: stale open/assigned/waiting conversations are
// resolved (closing any open agent record on the way), stale resolved
// ones are closed. Idempotent.
func (s *Sweeper) Sweep(ctx context.Context) {
	m := s.machine
	now := m.now()

	for _, status := range []store.Status{store.StatusOpen, store.StatusAssigned, store.StatusWaiting} {
		maxAge := m.cfg.MaxAge(string(status))
		if maxAge <= 0 {
			continue
		}
		s.sweepStatus(ctx, status, now.Add(-maxAge), func(conv *store.Conversation) error {
			return m.resolveTimedOut(ctx, conv.ID, status)
		})
	}

	if maxAge := m.cfg.MaxAge(string(store.StatusResolved)); maxAge > 0 {
		s.sweepStatus(ctx, store.StatusResolved, now.Add(-maxAge), func(conv *store.Conversation) error {
			return m.closeTimedOut(ctx, conv.ID)
		})
	}
}

func (s *Sweeper) sweepStatus(ctx context.Context, status store.Status, cutoff time.Time, act func(*store.Conversation) error) {
	m := s.machine
	stale, err := m.conversations.ListStale(ctx, status, cutoff)
	if err != nil {
		m.log.Error("sweep list failed", "status", status, "error", err)
		return
	}
	for _, conv := range stale {
		if err := act(conv); err != nil {
			var te *TransitionError
			if errors.Is(err, store.ErrStaleStatus) || errors.As(err, &te) {
				// The conversation moved under us. Fine.
				m.log.Debug("sweep skipped moved conversation", "conversation", conv.ID, "status", status)
				continue
			}
			m.log.Error("sweep action failed", "conversation", conv.ID, "status", status, "error", err)
			continue
		}
		m.log.Info("sweep timed out conversation", "conversation", conv.ID, "from", status)
	}
}
