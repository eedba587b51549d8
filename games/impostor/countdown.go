package impostor

import (
	"math"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// transition is a staged room change applied when its countdown fires.
// validate runs against the room state at fire time, with the room locked;
// a failing validation drops the transition without emitting anything.
type transition interface {
	name() string
	validate(r *Room) error
	apply(r *Room)
}

// countdown binds one staged transition to the room that armed it. A fire
// is honoured only while the countdown is still the room's armed one, so a
// cancelled or replaced countdown can never apply stale state.
type countdown struct {
	room    *Room
	pending transition
	timer   Timer
}

// armLocked stages t and schedules it after d. r.mu must be held.
func (r *Room) armLocked(d time.Duration, t transition) error {
	if r.countdown != nil {
		return ErrCountdownArmed
	}

	c := &countdown{room: r, pending: t}
	r.countdown = c
	c.timer = r.opts.Scheduler.AfterFunc(d, c.fire)
	return nil
}

// cancelCountdownLocked stops and forgets any armed countdown. r.mu must be
// held.
func (r *Room) cancelCountdownLocked() {
	if r.countdown == nil {
		return
	}
	r.countdown.timer.Stop()
	r.opts.Logger.Debugw("countdown cancelled", "room", r.code, "transition", r.countdown.pending.name())
	r.countdown = nil
}

func (c *countdown) fire() {
	r := c.room

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.countdown != c {
		return
	}
	r.countdown = nil

	if err := c.pending.validate(r); err != nil {
		r.opts.Logger.Debugw("transition dropped", "room", r.code, "transition", c.pending.name(), "reason", err)
		return
	}
	c.pending.apply(r)
}

// countdownSeconds rounds up so a sub-second delay never reads as zero.
func countdownSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
