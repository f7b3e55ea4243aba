package store

import "errors"

// Sentinel errors returned by Datastore implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrContentAlreadyWritten is returned when InsertMessageContent is
	// called twice for the same (messageID, metaDataID, contentType) —
	// content entries are append-only per spec.md §3.
	ErrContentAlreadyWritten = errors.New("message content already written for this stage")

	// ErrChannelNotAllocated is returned when an operation targets a
	// channel whose resources were never deployed (or were undeployed).
	ErrChannelNotAllocated = errors.New("channel resources not allocated")
)
