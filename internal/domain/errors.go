package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidProbability = errors.New("probability outside [0,1]")
	ErrNoQuote            = errors.New("no quote available")
	ErrUnknownTeam        = errors.New("unknown team")
)
