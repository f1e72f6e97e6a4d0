package domain

import "errors"

var (
	ErrRateLimited         = errors.New("rate limited")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidToken        = errors.New("invalid token")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrChannelAccessDenied = errors.New("channel access denied")
	ErrNotInRoom           = errors.New("not in room")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrStreamNotStarted    = errors.New("stream not started")
	ErrConnectionNotFound  = errors.New("connection not found")
)
