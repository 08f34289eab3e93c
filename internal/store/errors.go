package store

import "errors"

var (
	// ErrStorageUnavailable means the base directory cannot be created or
	// accessed. Callers keep running without persistence.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCorruptIndex means index.json could not be decoded.
	ErrCorruptIndex = errors.New("corrupt conversation index")

	// ErrCorruptMessageFile means a conversations/<uuid>.json file could not be decoded.
	ErrCorruptMessageFile = errors.New("corrupt message file")

	// ErrCorruptQA means an attachment's .qa.json sidecar could not be decoded.
	ErrCorruptQA = errors.New("corrupt Q&A records")

	// ErrCorruptAgents means agents.json could not be decoded.
	ErrCorruptAgents = errors.New("corrupt agents file")

	// ErrInvalidName is returned for uuids and filenames that would escape
	// their directory.
	ErrInvalidName = errors.New("invalid storage name")
)
