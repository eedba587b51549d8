package impostor

import (
	"strings"
	"sync"
	"time"
)

const (
	// codeAlphabet leaves out I, O, 0 and 1.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 5
)

// Registry owns the live rooms, keyed by code.
type Registry struct {
	opts *Options

	mu    sync.RWMutex
	rooms map[string]*Room
}

func newRegistry(opts *Options) *Registry {
	return &Registry{
		opts:  opts,
		rooms: make(map[string]*Room),
	}
}

// NormalizeCode trims and upper-cases a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (g *Registry) newCode() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[g.opts.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

// Create opens a room with peer as its sole member and host.
func (g *Registry) Create(peer Peer, name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	var room *Room
	for room == nil {
		code := g.newCode()

		g.mu.Lock()
		if _, exists := g.rooms[code]; !exists {
			// not yet visible to anyone else, so no room lock
			room = newRoom(code, g.opts)
			room.onEmpty = g.DestroyIfEmpty
			room.addMemberLocked(peer, name)
			g.rooms[code] = room
		}
		g.mu.Unlock()
	}

	room.mu.Lock()
	room.broadcastSnapshotLocked(EventRoomUpdate)
	room.mu.Unlock()

	g.opts.Logger.Infow("room created", "room", room.code, "conn", peer.ID(), "name", name)
	return room, nil
}

// Join adds peer to the room with the given code.
func (g *Registry) Join(code string, peer Peer, name string) (*Room, RoomSnapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, RoomSnapshot{}, ErrNameRequired
	}

	room, err := g.Resolve(code)
	if err != nil {
		return nil, RoomSnapshot{}, err
	}

	snap, err := room.join(peer, name)
	if err != nil {
		return nil, RoomSnapshot{}, err
	}
	return room, snap, nil
}

// Resolve looks up a live room.
func (g *Registry) Resolve(code string) (*Room, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	g.mu.RLock()
	room, ok := g.rooms[code]
	g.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return room, nil
}

// DestroyIfEmpty unregisters room once it has no members.
func (g *Registry) DestroyIfEmpty(room *Room) {
	if !room.destroyIfEmpty() {
		return
	}
	g.remove(room)
}

func (g *Registry) remove(room *Room) {
	g.mu.Lock()
	if g.rooms[room.code] == room {
		delete(g.rooms, room.code)
		g.opts.Logger.Infow("room closed", "room", room.code)
	}
	g.mu.Unlock()
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.rooms)
}

// reap closes every room idle since before cutoff and returns the
// connections each one held.
func (g *Registry) reap(cutoff time.Time) map[*Room][]string {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	closed := make(map[*Room][]string)
	for _, room := range rooms {
		if !room.lastActivity().Before(cutoff) {
			continue
		}
		closed[room] = room.close()
		g.remove(room)
	}
	return closed
}
