package domain

import "errors"

var (
	// ErrUnauthorized indicates the caller context failed the access check.
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrNotFound is returned when a log or user cannot be located, or exists
	// only soft-deleted and deleted records were not requested.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps store failures the coordinator cannot or chose not
	// to roll back.
	ErrPersistence = errors.New("persistence failure")
)
