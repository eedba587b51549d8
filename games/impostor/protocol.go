package impostor

import (
	"encoding/json"
	"errors"
	"strings"
)

// Peer is the server side of one participant connection. Send must not
// block and must not call back into the game.
type Peer interface {
	ID() string
	Send(v any)
}

// Client -> server request types.
const (
	TypeCreateRoom      = "create_room"
	TypeJoinRoom        = "join_room"
	TypeReconnectRoom   = "reconnect_room"
	TypeStartGame       = "start_game"
	TypeNextRound       = "next_round"
	TypeStartSelection  = "start_impostor_selection"
	TypeSubmitSelection = "submit_impostor_selection"
	TypeEndGame         = "end_game"
	TypeRestartGame     = "restart_game"
)

// Server -> client event types.
const (
	EventAck              = "ack"
	EventRoomUpdate       = "room_update"
	EventGameCountdown    = "game_start_countdown"
	EventGameStarted      = "game_started"
	EventRoundCountdown   = "round_countdown"
	EventRoundStarted     = "round_started"
	EventSelectionStarted = "impostor_selection_started"
	EventSelectionResult  = "impostor_selection_result"
	EventGameEnded        = "game_ended"
	EventGameRestarted    = "game_restarted"
	EventRoomClosed       = "room_closed"
	EventPrivateRole      = "private_role"
)

// Request is one decoded client message.
type Request interface {
	Type() string
}

type CreateRoom struct {
	Name string `json:"name"`
}

type JoinRoom struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type ReconnectRoom struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type StartGame struct {
	Impostors   int      `json:"impostors"`
	TotalRounds int      `json:"totalRounds"`
	Theme       string   `json:"theme"`
	Lang        string   `json:"lang"`
	CustomWords []string `json:"customWords"`
	HintMode    bool     `json:"hintMode"`
}

type NextRound struct{}

type StartSelection struct{}

type SubmitSelection struct {
	TargetID string `json:"targetId"`
}

type EndGame struct{}

type RestartGame struct{}

func (CreateRoom) Type() string      { return TypeCreateRoom }
func (JoinRoom) Type() string        { return TypeJoinRoom }
func (ReconnectRoom) Type() string   { return TypeReconnectRoom }
func (StartGame) Type() string       { return TypeStartGame }
func (NextRound) Type() string       { return TypeNextRound }
func (StartSelection) Type() string  { return TypeStartSelection }
func (SubmitSelection) Type() string { return TypeSubmitSelection }
func (EndGame) Type() string         { return TypeEndGame }
func (RestartGame) Type() string     { return TypeRestartGame }

// frame is the wire envelope of a client message.
type frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeRequest parses one client frame. The returned id is the client's
// correlation id and is meaningful even when err is non-nil, as long as the
// envelope itself parsed.
func DecodeRequest(data []byte) (int64, Request, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, nil, ErrBadRequest
	}

	var req Request
	switch strings.TrimSpace(f.Type) {
	case TypeCreateRoom:
		req = &CreateRoom{}
	case TypeJoinRoom:
		req = &JoinRoom{}
	case TypeReconnectRoom:
		req = &ReconnectRoom{}
	case TypeStartGame:
		req = &StartGame{}
	case TypeNextRound:
		req = &NextRound{}
	case TypeStartSelection:
		req = &StartSelection{}
	case TypeSubmitSelection:
		req = &SubmitSelection{}
	case TypeEndGame:
		req = &EndGame{}
	case TypeRestartGame:
		req = &RestartGame{}
	default:
		return f.ID, nil, ErrUnknownRequest
	}

	if len(f.Payload) > 0 && string(f.Payload) != "null" {
		if err := json.Unmarshal(f.Payload, req); err != nil {
			return f.ID, nil, ErrBadRequest
		}
	}

	return f.ID, deref(req), nil
}

// deref hands handlers value types so the type switch in Manager.Handle
// matches on one form only.
func deref(req Request) Request {
	switch r := req.(type) {
	case *CreateRoom:
		return *r
	case *JoinRoom:
		return *r
	case *ReconnectRoom:
		return *r
	case *StartGame:
		return *r
	case *NextRound:
		return *r
	case *StartSelection:
		return *r
	case *SubmitSelection:
		return *r
	case *EndGame:
		return *r
	case *RestartGame:
		return *r
	}
	return req
}

// Event is a server-initiated message.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Ack answers exactly one request.
type Ack struct {
	Type    string        `json:"type"`
	ID      int64         `json:"id"`
	OK      bool          `json:"ok"`
	Error   Code          `json:"error,omitempty"`
	Message string        `json:"message,omitempty"`
	Room    *RoomSnapshot `json:"room,omitempty"`
	IsHost  bool          `json:"isHost"`
}

func ackOK(id int64, room *RoomSnapshot, isHost bool) Ack {
	return Ack{Type: EventAck, ID: id, OK: true, Room: room, IsHost: isHost}
}

// AckError builds the failure ack for err.
func AckError(id int64, err error) Ack {
	ack := Ack{Type: EventAck, ID: id, Error: CodeOf(err)}
	var e *Error
	if errors.As(err, &e) {
		ack.Message = e.Message
	}
	return ack
}

// PlayerInfo is the public view of one member.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// GameSnapshot is the public view of a RoundState. It never carries the
// secret word or the custom word list.
type GameSnapshot struct {
	Started         bool   `json:"started"`
	Finished        bool   `json:"finished"`
	CurrentRound    int    `json:"currentRound"`
	TotalRounds     int    `json:"totalRounds"`
	Impostors       int    `json:"impostors"`
	Theme           string `json:"theme"`
	Lang            string `json:"lang"`
	HintMode        bool   `json:"hintMode"`
	Remaining       int    `json:"remaining"`
	SelectionActive bool   `json:"selectionActive"`
}

// RoomSnapshot is the membership and configuration view broadcast to a room.
type RoomSnapshot struct {
	Code    string        `json:"code"`
	HostID  string        `json:"hostId"`
	Players []PlayerInfo  `json:"players"`
	Game    *GameSnapshot `json:"game,omitempty"`
}

type CountdownData struct {
	Seconds int `json:"seconds"`
	Round   int `json:"round,omitempty"`
}

type SelectionStartedData struct {
	Round     int `json:"round"`
	Remaining int `json:"remaining"`
}

type SelectionResultData struct {
	TargetID   string `json:"targetId"`
	TargetName string `json:"targetName"`
	Correct    bool   `json:"correct"`
	Remaining  int    `json:"remaining"`
}

// PrivateRole is sent to exactly one connection.
type PrivateRole struct {
	Role        string `json:"role"`
	PlayerIndex int    `json:"playerIndex"`
	Round       int    `json:"round"`
	TotalRounds int    `json:"totalRounds"`
	Impostors   int    `json:"impostors"`
	Hint        string `json:"hint,omitempty"`
}
