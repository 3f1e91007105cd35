package repository

import "errors"

var (
	// ErrSessionNotFound is returned when a session row does not exist
	ErrSessionNotFound = errors.New("sync session not found")
	// ErrSessionConflict is returned when a conditional session write matched no row
	ErrSessionConflict = errors.New("sync session was modified concurrently")
	// ErrMappingNotFound is returned when no mapping has been stored yet
	ErrMappingNotFound = errors.New("mapping not found")
	// ErrMappingVersionConflict is returned when a mapping write carries a stale version
	ErrMappingVersionConflict = errors.New("mapping version conflict")
)
