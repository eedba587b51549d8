package impostor

import "errors"

// Code is the machine-readable tag returned to a requester in an ack.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeNotHost            Code = "not_host"
	CodeNameRequired       Code = "name_required"
	CodeInProgress         Code = "in_progress"
	CodeInvalidSettings    Code = "invalid_settings"
	CodeInvalidTheme       Code = "invalid_theme"
	CodeNotStarted         Code = "not_started"
	CodeAlreadyComplete    Code = "already_complete"
	CodeCountdownActive    Code = "countdown_active"
	CodeImpostorsRemaining Code = "impostors_remaining"
	CodeSelectionActive    Code = "selection_active"
	CodeSelectionInactive  Code = "selection_inactive"
	CodeInvalidPlayer      Code = "invalid_player"
	CodeBadRequest         Code = "bad_request"
	CodeUnknownRequest     Code = "unknown_request"
)

// Error is a failure reported to the connection that issued a request.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is matches on Code, so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound           = &Error{CodeNotFound, "room not found"}
	ErrNotHost            = &Error{CodeNotHost, "only the host can do that"}
	ErrNameRequired       = &Error{CodeNameRequired, "a display name is required"}
	ErrInProgress         = &Error{CodeInProgress, "a game is already in progress"}
	ErrInvalidSettings    = &Error{CodeInvalidSettings, "invalid player, impostor or round count"}
	ErrInvalidTheme       = &Error{CodeInvalidTheme, "no words available for that theme"}
	ErrNotStarted         = &Error{CodeNotStarted, "the game has not started"}
	ErrAlreadyComplete    = &Error{CodeAlreadyComplete, "already complete"}
	ErrCountdownArmed     = &Error{CodeCountdownActive, "a countdown is already running"}
	ErrImpostorsRemaining = &Error{CodeImpostorsRemaining, "impostors remain undiscovered"}
	ErrSelectionActive    = &Error{CodeSelectionActive, "impostor selection is already open"}
	ErrSelectionInactive  = &Error{CodeSelectionInactive, "impostor selection is not open"}
	ErrInvalidPlayer      = &Error{CodeInvalidPlayer, "no such player in this room"}
	ErrBadRequest         = &Error{CodeBadRequest, "malformed request"}
	ErrUnknownRequest     = &Error{CodeUnknownRequest, "unknown request type"}
)

// CodeOf extracts the Code from err, falling back to bad_request for
// anything that did not originate in this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeBadRequest
}
