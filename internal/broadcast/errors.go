package broadcast

import "errors"

var (
	ErrAlreadyRunning = errors.New("broadcaster is already running")
	ErrNotRunning     = errors.New("broadcaster is not running")
	ErrChannelFull    = errors.New("broadcast channel is full")
	ErrCloseTimeout   = errors.New("timed out closing connections")
)
