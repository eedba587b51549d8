package impostor

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler only runs callbacks when a test asks it to.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) pending() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// FireAll runs every pending callback and returns how many ran.
func (s *manualScheduler) FireAll() int {
	timers := s.pending()
	for _, t := range timers {
		s.mu.Lock()
		t.fired = true
		s.mu.Unlock()
		t.f()
	}
	return len(timers)
}

// fire runs one timer's callback as if it had expired.
func (s *manualScheduler) fire(t *manualTimer) {
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
}

// last returns the most recently scheduled timer, pending or not.
func (s *manualScheduler) last() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type fakePeer struct {
	id string

	mu     sync.Mutex
	events []Event
}

func newPeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(v any) {
	ev, ok := v.(Event)
	if !ok {
		return
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePeer) all() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Event(nil), p.events...)
}

func (p *fakePeer) count(typ string) int {
	n := 0
	for _, ev := range p.all() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (p *fakePeer) last(typ string) (Event, bool) {
	events := p.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return events[i], true
		}
	}
	return Event{}, false
}

func (p *fakePeer) role(t *testing.T) PrivateRole {
	t.Helper()

	ev, ok := p.last(EventPrivateRole)
	require.True(t, ok, "%s has no private_role", p.id)
	role, ok := ev.Data.(PrivateRole)
	require.True(t, ok)
	return role
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type harness struct {
	t     *testing.T
	m     *Manager
	sched *manualScheduler
	now   time.Time
	seq   int64
	conns int
}

func newHarness(t *testing.T, mod func(*Options)) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		sched: &manualScheduler{},
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	opts := Options{
		Scheduler: h.sched,
		Countdown: 3 * time.Second,
		Now:       func() time.Time { return h.now },
	}
	if mod != nil {
		mod(&opts)
	}

	m, err := NewManager(opts)
	require.NoError(t, err)
	h.m = m
	return h
}

func (h *harness) do(p *fakePeer, req Request) Ack {
	h.seq++
	ack := h.m.Handle(p, h.seq, req)
	require.Equal(h.t, h.seq, ack.ID)
	return ack
}

func (h *harness) ok(p *fakePeer, req Request) Ack {
	h.t.Helper()

	ack := h.do(p, req)
	require.True(h.t, ack.OK, "%s failed: %s %s", req.Type(), ack.Error, ack.Message)
	return ack
}

func (h *harness) fail(p *fakePeer, req Request, code Code) {
	h.t.Helper()

	ack := h.do(p, req)
	require.False(h.t, ack.OK, "%s unexpectedly succeeded", req.Type())
	require.Equal(h.t, code, ack.Error)
}

// lobby creates a room hosted by the first of n peers and joins the rest.
func (h *harness) lobby(n int) (string, []*fakePeer) {
	h.t.Helper()

	peers := make([]*fakePeer, n)
	for i := range peers {
		peers[i] = newPeer(fmt.Sprintf("conn-%d", h.conns))
		h.conns++
	}

	ack := h.ok(peers[0], CreateRoom{Name: "p0"})
	code := ack.Room.Code
	for i := 1; i < n; i++ {
		h.ok(peers[i], JoinRoom{Name: fmt.Sprintf("p%d", i), Code: code})
	}
	for _, p := range peers {
		p.reset()
	}
	return code, peers
}

func (h *harness) room(code string) *Room {
	h.t.Helper()

	room, err := h.m.Registry().Resolve(code)
	require.NoError(h.t, err)
	return room
}

var testWords = []string{"quokkaberry", "lanternfish", "zebracorn", "marshwiggle"}

func customStart(impostors, rounds int) StartGame {
	return StartGame{
		Impostors:   impostors,
		TotalRounds: rounds,
		Theme:       CustomTheme,
		CustomWords: testWords,
	}
}

// started runs a lobby of n through the start countdown.
func (h *harness) started(n int, s StartGame) (string, []*fakePeer) {
	h.t.Helper()

	code, peers := h.lobby(n)
	h.ok(peers[0], s)
	require.Equal(h.t, 1, h.sched.FireAll())
	require.Equal(h.t, 1, peers[0].count(EventGameStarted))
	return code, peers
}

// impostors splits peers by their current role.
func (h *harness) impostors(code string, peers []*fakePeer) (bad, good []*fakePeer) {
	roles := h.room(code).Roles()
	for _, p := range peers {
		if roles[p.id] == Impostor {
			bad = append(bad, p)
		} else if _, ok := roles[p.id]; ok {
			good = append(good, p)
		}
	}
	return bad, good
}

// discoverAll opens selection and names every impostor.
func (h *harness) discoverAll(code string, peers []*fakePeer) {
	h.t.Helper()

	bad, _ := h.impostors(code, peers)
	h.ok(peers[0], StartSelection{})
	for _, p := range bad {
		h.ok(peers[0], SubmitSelection{TargetID: p.id})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
