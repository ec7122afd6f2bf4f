package domain

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrForbidden      = errors.New("only the host can do that")
	ErrNotInRoom      = errors.New("not in a room")
	ErrUnknownSession = errors.New("unknown session")
	ErrNameTooLong    = errors.New("name too long")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("slow down")
)
