package domain

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("room not found")
	ErrInvalidInput = errors.New("invalid input")
)
