package service

import "errors"

// Sentinel errors returned by the services. Handlers map them to HTTP status
// codes.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUnauthorized   = errors.New("authentication failed")
	ErrNotOwner       = errors.New("does not own dataset")
	ErrInvalidRequest = errors.New("invalid request")
)
