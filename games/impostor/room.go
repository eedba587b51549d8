package impostor

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const minPlayers = 3

// Options configures every room owned by a Manager.
type Options struct {
	Words     *WordBank
	Scheduler Scheduler
	Logger    *zap.SugaredLogger

	// Intn returns a uniform int in [0, n). Defaults to fastrand.
	Intn func(n int) int
	Now  func() time.Time

	// Countdown is the delay before a staged start or advance applies.
	Countdown time.Duration
	// ReconnectGrace is how long a dropped connection's seat is held.
	// Zero removes the member immediately.
	ReconnectGrace time.Duration
	MaxRounds      int
}

func (o Options) withDefaults() (*Options, error) {
	if o.Words == nil {
		words, err := DefaultWordBank()
		if err != nil {
			return nil, err
		}
		o.Words = words
	}
	if o.Scheduler == nil {
		o.Scheduler = clockScheduler{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Intn == nil {
		o.Intn = fastrandIntn
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Countdown <= 0 {
		o.Countdown = 3 * time.Second
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = 20
	}
	return &o, nil
}

// RoundState is the configuration and progress of a started game.
type RoundState struct {
	Started      bool
	Finished     bool
	CurrentRound int
	TotalRounds  int
	Impostors    int
	Theme        string
	Lang         string
	CustomWords  []string
	HintMode     bool

	Word     string
	HintWord string
}

// Settings is a validated start_game configuration.
type Settings struct {
	Impostors   int
	TotalRounds int
	Theme       string
	Lang        string
	CustomWords []string
	HintMode    bool
}

type member struct {
	id   string
	name string

	// nil while the seat is held for a reconnect
	peer    Peer
	removal Timer
}

// Room is one game session. Every field below mu is guarded by it.
type Room struct {
	opts *Options
	code string

	// onEmpty is called, without mu held, when a delayed removal empties
	// the room.
	onEmpty func(*Room)

	mu         sync.Mutex
	hostID     string
	members    []*member
	game       *RoundState
	roles      map[string]string
	discovered map[string]bool
	selecting  bool
	countdown  *countdown
	closed     bool
	lastActive time.Time
}

func newRoom(code string, opts *Options) *Room {
	return &Room{
		opts:       opts,
		code:       code,
		roles:      make(map[string]string),
		discovered: make(map[string]bool),
		lastActive: opts.Now(),
	}
}

// Code is the room's join code.
func (r *Room) Code() string {
	return r.code
}

// Snapshot returns the public view of the room.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// HostID returns the connection currently holding host authority.
func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hostID
}

// Game returns a copy of the current round state, or nil in the lobby.
func (r *Room) Game() *RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.game == nil {
		return nil
	}
	g := *r.game
	return &g
}

// Roles returns a copy of the current role map.
func (r *Room) Roles() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.roles))
	for id, role := range r.roles {
		out[id] = role
	}
	return out
}

func (r *Room) lastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActive
}

func (r *Room) touchLocked() {
	r.lastActive = r.opts.Now()
}

func (r *Room) activeLocked() bool {
	return r.game != nil && r.game.Started && !r.game.Finished
}

func (r *Room) memberLocked(id string) (int, *member) {
	for i, m := range r.members {
		if m.id == id {
			return i, m
		}
	}
	return -1, nil
}

// connectedLocked counts members with a live connection. Held seats are
// not players until they reconnect.
func (r *Room) connectedLocked() int {
	n := 0
	for _, m := range r.members {
		if m.peer != nil {
			n++
		}
	}
	return n
}

// electHostLocked keeps a connected host and otherwise hands authority to
// the earliest-joined connected member. With nobody connected a held host
// keeps it; a departed one passes it to the first seat.
func (r *Room) electHostLocked() {
	_, host := r.memberLocked(r.hostID)
	if host != nil && host.peer != nil {
		return
	}
	for _, m := range r.members {
		if m.peer != nil {
			r.hostID = m.id
			return
		}
	}
	if host == nil && len(r.members) > 0 {
		r.hostID = r.members[0].id
	}
}

// remainingLocked counts impostors among current members that have not
// been identified yet.
func (r *Room) remainingLocked() int {
	n := 0
	for id, role := range r.roles {
		if role == Impostor && !r.discovered[id] {
			n++
		}
	}
	return n
}

func (r *Room) snapshotLocked() RoomSnapshot {
	snap := RoomSnapshot{
		Code:    r.code,
		HostID:  r.hostID,
		Players: make([]PlayerInfo, 0, len(r.members)),
	}
	for _, m := range r.members {
		snap.Players = append(snap.Players, PlayerInfo{
			ID:        m.id,
			Name:      m.name,
			Connected: m.peer != nil,
		})
	}
	if g := r.game; g != nil {
		snap.Game = &GameSnapshot{
			Started:         g.Started,
			Finished:        g.Finished,
			CurrentRound:    g.CurrentRound,
			TotalRounds:     g.TotalRounds,
			Impostors:       g.Impostors,
			Theme:           g.Theme,
			Lang:            g.Lang,
			HintMode:        g.HintMode,
			Remaining:       r.remainingLocked(),
			SelectionActive: r.selecting,
		}
	}
	return snap
}

// broadcastLocked sends to every member connected right now.
func (r *Room) broadcastLocked(typ string, data any) {
	ev := Event{Type: typ, Data: data}
	for _, m := range r.members {
		if m.peer != nil {
			m.peer.Send(ev)
		}
	}
}

func (r *Room) broadcastSnapshotLocked(typ string) {
	r.broadcastLocked(typ, r.snapshotLocked())
}

func (r *Room) sendRoleLocked(idx int, m *member) {
	if m.peer == nil || r.game == nil {
		return
	}
	role, ok := r.roles[m.id]
	if !ok {
		return
	}
	msg := PrivateRole{
		Role:        role,
		PlayerIndex: idx,
		Round:       r.game.CurrentRound,
		TotalRounds: r.game.TotalRounds,
		Impostors:   r.game.Impostors,
	}
	if role == Impostor && r.game.HintMode {
		msg.Hint = r.game.HintWord
	}
	m.peer.Send(Event{Type: EventPrivateRole, Data: msg})
}

func (r *Room) sendRolesLocked() {
	for i, m := range r.members {
		r.sendRoleLocked(i, m)
	}
}

func (r *Room) requireHostLocked(id string) error {
	if r.closed {
		return ErrNotFound
	}
	if r.hostID != id {
		return ErrNotHost
	}
	r.touchLocked()
	return nil
}

func (r *Room) validateCountsLocked(impostors, rounds int) error {
	players := r.connectedLocked()
	if players < minPlayers {
		return ErrInvalidSettings
	}
	if impostors < 1 || impostors >= players {
		return ErrInvalidSettings
	}
	if rounds < 1 || rounds > r.opts.MaxRounds {
		return ErrInvalidSettings
	}
	return nil
}

func (r *Room) deckLocked() (Deck, error) {
	g := r.game
	deck := Deck{
		Theme:    g.Theme,
		Lang:     g.Lang,
		HintMode: g.HintMode,
		Hint:     r.opts.Words.Hint,
	}
	if g.Theme == CustomTheme {
		deck.Words = g.CustomWords
		return deck, nil
	}
	words, err := r.opts.Words.Words(g.Theme, g.Lang)
	if err != nil {
		return Deck{}, err
	}
	deck.Words = words
	return deck, nil
}

// assignLocked draws fresh roles for every connected member and resets the
// elimination state.
func (r *Room) assignLocked() error {
	deck, err := r.deckLocked()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.peer != nil {
			ids = append(ids, m.id)
		}
	}

	a, err := AssignRoles(ids, r.game.Impostors, deck, r.opts.Intn)
	if err != nil {
		return err
	}

	r.roles = make(map[string]string, len(ids))
	for i, id := range ids {
		r.roles[id] = a.Roles[i]
	}
	r.game.Word = a.Word
	r.game.HintWord = a.Hint
	r.discovered = make(map[string]bool)
	r.selecting = false
	return nil
}

func (r *Room) addMemberLocked(peer Peer, name string) {
	r.members = append(r.members, &member{id: peer.ID(), name: name, peer: peer})
	if r.hostID == "" {
		r.hostID = peer.ID()
	}
	r.touchLocked()
}

// join adds peer as a new member.
func (r *Room) join(peer Peer, name string) (RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RoomSnapshot{}, ErrNotFound
	}
	if r.activeLocked() {
		return RoomSnapshot{}, ErrInProgress
	}

	r.addMemberLocked(peer, name)
	r.opts.Logger.Infow("player joined", "room", r.code, "conn", peer.ID(), "name", name)
	r.broadcastSnapshotLocked(EventRoomUpdate)
	return r.snapshotLocked(), nil
}

// errNoSeat means reconnect found no member with the requested name.
var errNoSeat = &Error{CodeNotFound, "no seat with that name"}

// reconnect moves the first held seat named name onto peer, keeping its
// role slot and discovery state. Host authority comes back only if nobody
// took it over meanwhile. It returns the seat's previous connection id.
func (r *Room) reconnect(peer Peer, name string) (string, RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", RoomSnapshot{}, ErrNotFound
	}

	idx := -1
	for i, m := range r.members {
		if m.peer == nil && m.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", RoomSnapshot{}, errNoSeat
	}

	m := r.members[idx]
	oldID, newID := m.id, peer.ID()
	if m.removal != nil {
		m.removal.Stop()
		m.removal = nil
	}
	m.id = newID
	m.peer = peer

	if r.hostID == oldID {
		r.hostID = newID
	}
	r.electHostLocked()
	if role, ok := r.roles[oldID]; ok {
		delete(r.roles, oldID)
		r.roles[newID] = role
	}
	if r.discovered[oldID] {
		delete(r.discovered, oldID)
		r.discovered[newID] = true
	}
	r.touchLocked()

	r.opts.Logger.Infow("player reconnected", "room", r.code, "conn", newID, "previous", oldID, "name", name)
	r.broadcastSnapshotLocked(EventRoomUpdate)
	if r.activeLocked() {
		r.sendRoleLocked(idx, m)
	}
	return oldID, r.snapshotLocked(), nil
}

// disconnect handles a dropped connection. With a reconnect grace the seat
// is held and removed later; otherwise it is removed now. It reports
// whether the room became empty.
func (r *Room) disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	_, m := r.memberLocked(id)
	if m == nil || m.peer == nil {
		return false
	}

	if r.opts.ReconnectGrace <= 0 {
		return r.removeLocked(id)
	}

	m.peer = nil
	m.removal = r.opts.Scheduler.AfterFunc(r.opts.ReconnectGrace, func() {
		r.expire(m)
	})
	r.electHostLocked()
	r.opts.Logger.Debugw("holding seat", "room", r.code, "conn", id, "grace", r.opts.ReconnectGrace, "host", r.hostID)
	r.broadcastSnapshotLocked(EventRoomUpdate)
	return false
}

// leave removes id immediately and reports whether the room became empty.
func (r *Room) leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	return r.removeLocked(id)
}

func (r *Room) expire(m *member) {
	r.mu.Lock()
	if r.closed || m.peer != nil {
		r.mu.Unlock()
		return
	}
	if _, cur := r.memberLocked(m.id); cur != m {
		r.mu.Unlock()
		return
	}
	m.removal = nil
	empty := r.removeLocked(m.id)
	r.mu.Unlock()

	if empty && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// removeLocked drops a member, its role and discovery entries, and moves
// host authority to the earliest-joined connected member. An emptied room
// is marked closed and its countdown cancelled.
func (r *Room) removeLocked(id string) bool {
	idx, m := r.memberLocked(id)
	if m == nil {
		return false
	}
	if m.removal != nil {
		m.removal.Stop()
		m.removal = nil
	}

	r.members = append(r.members[:idx], r.members[idx+1:]...)
	delete(r.roles, id)
	delete(r.discovered, id)
	r.touchLocked()

	r.opts.Logger.Infow("player left", "room", r.code, "conn", id, "name", m.name, "remaining", len(r.members))

	if len(r.members) == 0 {
		r.closed = true
		r.cancelCountdownLocked()
		return true
	}

	r.electHostLocked()
	if r.selecting && r.remainingLocked() == 0 {
		r.selecting = false
	}

	r.broadcastSnapshotLocked(EventRoomUpdate)
	return false
}

// close shuts the room down regardless of membership and returns the
// connection ids that were attached to it.
func (r *Room) close() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.broadcastLocked(EventRoomClosed, struct{}{})

	r.closed = true
	r.cancelCountdownLocked()
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.removal != nil {
			m.removal.Stop()
			m.removal = nil
		}
		ids = append(ids, m.id)
	}
	r.members = nil
	return ids
}

// destroyIfEmpty marks an empty room closed and reports whether the room
// is closed.
func (r *Room) destroyIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed && len(r.members) == 0 {
		r.closed = true
		r.cancelCountdownLocked()
	}
	return r.closed
}

// startGame validates settings and arms the start countdown.
func (r *Room) startGame(id string, s Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if r.activeLocked() {
		return ErrInProgress
	}
	if r.countdown != nil {
		return ErrCountdownArmed
	}
	if err := r.validateCountsLocked(s.Impostors, s.TotalRounds); err != nil {
		return err
	}

	s, err := r.resolveSettings(s)
	if err != nil {
		return err
	}

	if err := r.armLocked(r.opts.Countdown, startTransition{settings: s}); err != nil {
		return err
	}

	r.opts.Logger.Infow("game countdown", "room", r.code, "impostors", s.Impostors, "rounds", s.TotalRounds, "theme", s.Theme, "lang", s.Lang)
	r.broadcastLocked(EventGameCountdown, CountdownData{Seconds: countdownSeconds(r.opts.Countdown)})
	return nil
}

// resolveSettings normalises theme and language and checks that the word
// source can serve a game.
func (r *Room) resolveSettings(s Settings) (Settings, error) {
	s.Lang = r.opts.Words.Lang(s.Lang)
	s.Theme = normalizeTheme(s.Theme)
	if s.Theme == "" {
		return s, ErrInvalidTheme
	}

	if s.Theme == CustomTheme {
		words, err := ParseCustomWords(s.CustomWords)
		if err != nil {
			return s, err
		}
		s.CustomWords = words
		return s, nil
	}

	s.CustomWords = nil
	if _, err := r.opts.Words.Words(s.Theme, s.Lang); err != nil {
		return s, err
	}
	return s, nil
}

type startTransition struct {
	settings Settings
}

func (startTransition) name() string { return "start_game" }

func (t startTransition) validate(r *Room) error {
	if r.activeLocked() {
		return ErrInProgress
	}
	return r.validateCountsLocked(t.settings.Impostors, t.settings.TotalRounds)
}

func (t startTransition) apply(r *Room) {
	s := t.settings
	prev := r.game
	r.game = &RoundState{
		Started:      true,
		CurrentRound: 1,
		TotalRounds:  s.TotalRounds,
		Impostors:    s.Impostors,
		Theme:        s.Theme,
		Lang:         s.Lang,
		CustomWords:  s.CustomWords,
		HintMode:     s.HintMode,
	}
	if err := r.assignLocked(); err != nil {
		r.opts.Logger.Warnw("role assignment failed", "room", r.code, "error", err)
		r.game = prev
		return
	}

	r.opts.Logger.Infow("game started", "room", r.code, "players", len(r.roles))
	r.broadcastSnapshotLocked(EventGameStarted)
	r.sendRolesLocked()
}

// nextRound arms the countdown that advances to the following round.
func (r *Room) nextRound(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if !r.activeLocked() {
		return ErrNotStarted
	}
	if r.countdown != nil {
		return ErrCountdownArmed
	}
	if r.remainingLocked() > 0 {
		return ErrImpostorsRemaining
	}
	if r.game.CurrentRound >= r.game.TotalRounds {
		return ErrAlreadyComplete
	}

	round := r.game.CurrentRound + 1
	if err := r.armLocked(r.opts.Countdown, advanceTransition{round: round}); err != nil {
		return err
	}

	r.opts.Logger.Infow("round countdown", "room", r.code, "round", round)
	r.broadcastLocked(EventRoundCountdown, CountdownData{
		Seconds: countdownSeconds(r.opts.Countdown),
		Round:   round,
	})
	return nil
}

type advanceTransition struct {
	round int
}

func (advanceTransition) name() string { return "next_round" }

func (t advanceTransition) validate(r *Room) error {
	if !r.activeLocked() {
		return ErrNotStarted
	}
	if r.game.CurrentRound+1 != t.round || t.round > r.game.TotalRounds {
		return ErrAlreadyComplete
	}
	if r.remainingLocked() > 0 {
		return ErrImpostorsRemaining
	}
	return r.validateCountsLocked(r.game.Impostors, r.game.TotalRounds)
}

func (t advanceTransition) apply(r *Room) {
	prev := r.game.CurrentRound
	r.game.CurrentRound = t.round
	if err := r.assignLocked(); err != nil {
		r.opts.Logger.Warnw("role assignment failed", "room", r.code, "error", err)
		r.game.CurrentRound = prev
		return
	}

	r.opts.Logger.Infow("round started", "room", r.code, "round", t.round)
	r.broadcastSnapshotLocked(EventRoundStarted)
	r.sendRolesLocked()
}

// startSelection opens the elimination phase.
func (r *Room) startSelection(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if !r.activeLocked() {
		return ErrNotStarted
	}
	if r.selecting {
		return ErrSelectionActive
	}
	remaining := r.remainingLocked()
	if remaining == 0 {
		return ErrAlreadyComplete
	}

	r.selecting = true
	r.broadcastLocked(EventSelectionStarted, SelectionStartedData{
		Round:     r.game.CurrentRound,
		Remaining: remaining,
	})
	return nil
}

// submitSelection records the host's guess that target is an impostor.
func (r *Room) submitSelection(id, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if !r.selecting || !r.activeLocked() {
		return ErrSelectionInactive
	}
	_, m := r.memberLocked(target)
	if m == nil {
		return ErrInvalidPlayer
	}

	correct := r.roles[target] == Impostor
	if correct {
		r.discovered[target] = true
	}
	remaining := r.remainingLocked()

	r.opts.Logger.Debugw("impostor guess", "room", r.code, "target", target, "correct", correct, "remaining", remaining)
	r.broadcastLocked(EventSelectionResult, SelectionResultData{
		TargetID:   target,
		TargetName: m.name,
		Correct:    correct,
		Remaining:  remaining,
	})

	if remaining == 0 {
		r.selecting = false
	}
	return nil
}

// endGame finishes the game once every impostor has been identified.
func (r *Room) endGame(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if r.game == nil || !r.game.Started {
		return ErrNotStarted
	}
	if r.game.Finished {
		return ErrAlreadyComplete
	}
	if r.remainingLocked() > 0 {
		return ErrImpostorsRemaining
	}

	r.cancelCountdownLocked()
	r.roles = make(map[string]string)
	r.discovered = make(map[string]bool)
	r.selecting = false
	r.game.Finished = true
	r.game.Word = ""
	r.game.HintWord = ""

	r.opts.Logger.Infow("game ended", "room", r.code, "round", r.game.CurrentRound)
	r.broadcastSnapshotLocked(EventGameEnded)
	return nil
}

// restartGame replays the current configuration from round one.
func (r *Room) restartGame(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostLocked(id); err != nil {
		return err
	}
	if r.game == nil {
		return ErrNotStarted
	}
	if err := r.validateCountsLocked(r.game.Impostors, r.game.TotalRounds); err != nil {
		return err
	}

	r.cancelCountdownLocked()

	prev := *r.game
	r.game.Started = true
	r.game.Finished = false
	r.game.CurrentRound = 1
	if err := r.assignLocked(); err != nil {
		*r.game = prev
		return err
	}

	r.opts.Logger.Infow("game restarted", "room", r.code, "players", len(r.roles))
	r.broadcastSnapshotLocked(EventGameRestarted)
	r.sendRolesLocked()
	return nil
}
