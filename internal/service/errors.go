package service

import "errors"

var (
	ErrPostNotFound        = errors.New("post not found")
	ErrTargetNotFound      = errors.New("platform target not found")
	ErrAccountNotFound     = errors.New("social account not found")
	ErrAttemptNotFound     = errors.New("upload attempt not found")
	ErrAttemptNotRetryable = errors.New("upload attempt is not waiting for a retry")
	ErrInvalidPost         = errors.New("invalid post")
)
