// Package common defines shared constants and sentinel errors used across
// client and server layers of GarageKeeper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStorage wraps every local persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrUnknownCollection is returned for a table/collection name outside
	// the known record kinds.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnknownIndex is returned when a secondary index is not defined
	// for the requested collection.
	ErrUnknownIndex = errors.New("unknown index")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrInvalidRecord is returned when a record fails server validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrOffline is returned by operations that need the remote side while
	// the client is offline.
	ErrOffline = errors.New("offline")

	// ErrAuth reports that the remote side rejected the session.
	ErrAuth = errors.New("authentication failed")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
