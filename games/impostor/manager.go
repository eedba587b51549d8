// Package impostor runs rooms for a social-deduction word game: one host
// configures a game, every round each member privately learns either the
// secret word or that they are an impostor, and the host names suspects
// until every impostor is found.
package impostor

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Manager routes decoded requests from connections to their rooms. A
// connection belongs to at most one room at a time.
type Manager struct {
	opts     *Options
	registry *Registry

	mu    sync.Mutex
	conns map[string]*Room
}

// NewManager fills in defaults for unset options and returns an empty
// manager.
func NewManager(opts Options) (*Manager, error) {
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Manager{
		opts:     o,
		registry: newRegistry(o),
		conns:    make(map[string]*Room),
	}, nil
}

// Registry exposes the live rooms.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Words is the bank rooms draw from.
func (m *Manager) Words() *WordBank {
	return m.opts.Words
}

// RoomOf returns the room a connection is attached to, if any.
func (m *Manager) RoomOf(connID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.conns[connID]
	return room, ok
}

func (m *Manager) bind(connID string, room *Room) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.conns[connID]
	m.conns[connID] = room
	return prev
}

// unbind drops connID's association, but only while it still points at
// room.
func (m *Manager) unbind(connID string, room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.conns[connID]; ok && cur == room {
		delete(m.conns, connID)
	}
}

// leaveRoom removes connID from room outright, destroying the room if that
// left it empty.
func (m *Manager) leaveRoom(connID string, room *Room) {
	if room == nil {
		return
	}
	if room.leave(connID) {
		m.registry.DestroyIfEmpty(room)
	}
}

func (m *Manager) ack(id int64, peer Peer, room *Room) Ack {
	snap := room.Snapshot()
	return ackOK(id, &snap, snap.HostID == peer.ID())
}

// Handle applies one request on behalf of peer and returns its ack. Any
// broadcasts the request causes are delivered before Handle returns.
func (m *Manager) Handle(peer Peer, id int64, req Request) Ack {
	var err error
	switch r := req.(type) {
	case CreateRoom:
		return m.create(peer, id, r)
	case JoinRoom:
		return m.join(peer, id, r)
	case ReconnectRoom:
		return m.reconnect(peer, id, r)
	case StartGame:
		err = m.scoped(peer, func(room *Room) error {
			return room.startGame(peer.ID(), Settings{
				Impostors:   r.Impostors,
				TotalRounds: r.TotalRounds,
				Theme:       r.Theme,
				Lang:        r.Lang,
				CustomWords: r.CustomWords,
				HintMode:    r.HintMode,
			})
		})
	case NextRound:
		err = m.scoped(peer, func(room *Room) error {
			return room.nextRound(peer.ID())
		})
	case StartSelection:
		err = m.scoped(peer, func(room *Room) error {
			return room.startSelection(peer.ID())
		})
	case SubmitSelection:
		err = m.scoped(peer, func(room *Room) error {
			return room.submitSelection(peer.ID(), r.TargetID)
		})
	case EndGame:
		err = m.scoped(peer, func(room *Room) error {
			return room.endGame(peer.ID())
		})
	case RestartGame:
		err = m.scoped(peer, func(room *Room) error {
			return room.restartGame(peer.ID())
		})
	default:
		err = ErrUnknownRequest
	}

	if err != nil {
		m.opts.Logger.Debugw("request rejected", "conn", peer.ID(), "type", typeOf(req), "error", err)
		return AckError(id, err)
	}

	room, ok := m.RoomOf(peer.ID())
	if !ok {
		return ackOK(id, nil, false)
	}
	return m.ack(id, peer, room)
}

func typeOf(req Request) string {
	if req == nil {
		return ""
	}
	return req.Type()
}

func (m *Manager) scoped(peer Peer, fn func(*Room) error) error {
	room, ok := m.RoomOf(peer.ID())
	if !ok {
		return ErrNotFound
	}
	return fn(room)
}

func (m *Manager) create(peer Peer, id int64, r CreateRoom) Ack {
	room, err := m.registry.Create(peer, r.Name)
	if err != nil {
		return AckError(id, err)
	}

	if prev := m.bind(peer.ID(), room); prev != nil {
		m.leaveRoom(peer.ID(), prev)
	}
	return m.ack(id, peer, room)
}

func (m *Manager) join(peer Peer, id int64, r JoinRoom) Ack {
	prev, _ := m.RoomOf(peer.ID())
	if prev != nil {
		if target, err := m.registry.Resolve(r.Code); err == nil && target == prev {
			return m.ack(id, peer, prev)
		}
	}

	room, _, err := m.registry.Join(r.Code, peer, r.Name)
	if err != nil {
		return AckError(id, err)
	}

	m.bind(peer.ID(), room)
	if prev != nil {
		m.leaveRoom(peer.ID(), prev)
	}
	return m.ack(id, peer, room)
}

func (m *Manager) reconnect(peer Peer, id int64, r ReconnectRoom) Ack {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return AckError(id, ErrNameRequired)
	}

	room, err := m.registry.Resolve(r.Code)
	if err != nil {
		return AckError(id, err)
	}

	prev, _ := m.RoomOf(peer.ID())
	if prev == room {
		return m.ack(id, peer, room)
	}

	oldID, _, err := room.reconnect(peer, name)
	if err == errNoSeat {
		return m.join(peer, id, JoinRoom{Name: name, Code: r.Code})
	}
	if err != nil {
		return AckError(id, err)
	}

	if oldID != peer.ID() {
		m.unbind(oldID, room)
	}
	m.bind(peer.ID(), room)
	if prev != nil {
		m.leaveRoom(peer.ID(), prev)
	}
	return m.ack(id, peer, room)
}

// Disconnect is called once when peer's connection closes.
func (m *Manager) Disconnect(peer Peer) {
	room, ok := m.RoomOf(peer.ID())
	if !ok {
		return
	}
	m.unbind(peer.ID(), room)

	if room.disconnect(peer.ID()) {
		m.registry.DestroyIfEmpty(room)
	}
}

// Run closes rooms that have seen no activity for idle, until ctx is done.
func (m *Manager) Run(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Reap(m.opts.Now().Add(-idle))
		}
	}
}

// Reap closes every room idle since before cutoff and returns how many
// were closed.
func (m *Manager) Reap(cutoff time.Time) int {
	closed := m.registry.reap(cutoff)
	for room, ids := range closed {
		m.opts.Logger.Infow("reaped idle room", "room", room.Code(), "players", len(ids))
		for _, id := range ids {
			m.unbind(id, room)
		}
	}
	return len(closed)
}
